package pattern

import (
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/mesibo/patann/distance"
	"github.com/mesibo/patann/internal/kmeans"
)

// Snapshot is an immutable view of the constellation state.
type Snapshot struct {
	dim       int
	centroids []float32 // len(members) * dim
	members   []*roaring.Bitmap
	all       *roaring.Bitmap
	rebuiltAt int64 // indexed count at the last full repartition
}

func emptySnapshot(dim int) *Snapshot {
	return &Snapshot{dim: dim, all: roaring.New()}
}

// Len returns the number of indexed vectors.
func (s *Snapshot) Len() int64 {
	return int64(s.all.GetCardinality())
}

// NumConstellations returns the number of constellations.
func (s *Snapshot) NumConstellations() int {
	return len(s.members)
}

// Contains reports whether id is indexed.
func (s *Snapshot) Contains(id int64) bool {
	return id >= 0 && id <= math.MaxUint32 && s.all.Contains(uint32(id))
}

// Centroid returns the signature of constellation i. The caller must not
// modify it.
func (s *Snapshot) Centroid(i int) []float32 {
	return s.centroids[i*s.dim : (i+1)*s.dim]
}

// Members returns the member bitmap of constellation i. The caller must not
// modify it.
func (s *Snapshot) Members(i int) *roaring.Bitmap {
	return s.members[i]
}

// Drift returns the number of vectors inserted since the last full
// repartition.
func (s *Snapshot) Drift() int64 {
	return s.Len() - s.rebuiltAt
}

// RebuiltAt returns the indexed count at the last full repartition.
func (s *Snapshot) RebuiltAt() int64 {
	return s.rebuiltAt
}

// Candidates returns the ids a query should scan.
//
// Constellations are ranked by the distance from query to their signature.
// Every constellation within radius percent of the nearest distance is
// included, the nearest always. Further constellations are then added in
// rank order until at least minCount ids are collected or none remain.
func (s *Snapshot) Candidates(query []float32, distFunc distance.Func, radius float32, minCount int) *roaring.Bitmap {
	out := roaring.New()
	if len(s.members) == 0 {
		return out
	}

	ranked := kmeans.Rank(query, s.centroids, s.dim, distFunc)
	nearest := ranked[0].Dist
	limit := nearest + float32(math.Abs(float64(nearest)))*radius/100 + epsilon(nearest)

	var picked []*roaring.Bitmap
	var total uint64
	for _, c := range ranked {
		if c.Dist > limit && total >= uint64(minCount) {
			break
		}
		bm := s.members[c.ID]
		picked = append(picked, bm)
		total += bm.GetCardinality()
	}
	if len(picked) == 1 {
		out.Or(picked[0])
		return out
	}
	return roaring.FastOr(picked...)
}

// epsilon absorbs rounding so constellations equidistant with the nearest
// are never dropped.
func epsilon(d float32) float32 {
	return float32(math.Max(1e-6, math.Abs(float64(d))*1e-6))
}

// Stats describes the constellation layout.
type Stats struct {
	Indexed        int64
	Constellations int
	Smallest       int
	Largest        int
	Drift          int64
}

// Stats summarizes the snapshot.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Indexed:        s.Len(),
		Constellations: len(s.members),
		Drift:          s.Drift(),
	}
	for i, bm := range s.members {
		n := int(bm.GetCardinality())
		if i == 0 || n < st.Smallest {
			st.Smallest = n
		}
		if n > st.Largest {
			st.Largest = n
		}
	}
	return st
}
