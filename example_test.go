package patann_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mesibo/patann"
	"github.com/mesibo/patann/distance"
)

func Example() {
	ctx := context.Background()

	idx, err := patann.CreateInMemoryIndex(2)
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Destroy(ctx)

	points := [][]float32{{0, 0}, {1, 1}, {2, 2}, {10, 10}}
	if _, err := idx.AddVectors(points); err != nil {
		log.Fatal(err)
	}
	if err := idx.WaitForIndexReady(ctx); err != nil {
		log.Fatal(err)
	}

	s, err := idx.CreateQuerySession(patann.IndexRadius, 2)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Destroy()

	if err := s.Query(ctx, []float32{1.2, 1.2}, 2); err != nil {
		log.Fatal(err)
	}
	fmt.Println(s.Results())
	// Output: [1 2]
}

func ExampleIndex_Distance() {
	idx, err := patann.CreateInMemoryIndex(3, patann.WithMetric(distance.L2))
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Destroy(context.Background())

	d, _ := idx.Distance([]float32{0, 3, 0}, []float32{4, 0, 0})
	fmt.Println(d)
	// Output: 5
}

func ExampleQuerySession_QueryAsync() {
	ctx := context.Background()

	idx, err := patann.CreateInMemoryIndex(1)
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Destroy(ctx)

	if _, err := idx.AddVectors([][]float32{{1}, {5}, {9}}); err != nil {
		log.Fatal(err)
	}
	if err := idx.WaitForIndexReady(ctx); err != nil {
		log.Fatal(err)
	}

	s, err := idx.CreateQuerySession(patann.IndexRadius, 1)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Destroy()

	done := make(chan patann.QueryEvent, 1)
	s.SetListener(func(ev patann.QueryEvent) { done <- ev })
	if err := s.QueryAsync(ctx, []float32{6}, 1); err != nil {
		log.Fatal(err)
	}

	ev := <-done
	fmt.Println(ev.IDs, ev.Distances)
	// Output: [1] [1]
}

func ExampleIndex_WaitForIndexReadyTimeout() {
	ctx := context.Background()

	idx, err := patann.CreateInMemoryIndex(2, patann.WithManualBuild())
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Destroy(ctx)

	if _, err := idx.AddVector([]float32{1, 2}); err != nil {
		log.Fatal(err)
	}

	err = idx.WaitForIndexReadyTimeout(ctx, 0)
	fmt.Println(errors.Is(err, patann.ErrTimeout))

	if err := idx.Build(); err != nil {
		log.Fatal(err)
	}
	fmt.Println(idx.WaitForIndexReady(ctx), idx.IsIndexReady())
	// Output:
	// true
	// <nil> true
}
