// Package kmeans implements deterministic k-means clustering used to place
// constellation centroids.
//
// Training is reproducible: the same vectors in the same order with the same
// seed always produce the same centroids, regardless of the number of
// assignment workers.
package kmeans
