package patann

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics of an index.
// Implement it to feed a monitoring system such as Prometheus.
type MetricsCollector interface {
	// RecordInsert is called after each AddVector or AddVectors call with
	// the number of vectors stored.
	RecordInsert(count int, duration time.Duration, err error)

	// RecordQuery is called after each query with the number of candidates
	// scored exactly.
	RecordQuery(k, candidates int, duration time.Duration, err error)

	// RecordBuild is called when a build cycle completes or fails.
	RecordBuild(indexed int64, duration time.Duration, err error)

	// RecordFlush is called after each snapshot write.
	RecordFlush(bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordQuery(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordBuild(int64, time.Duration, error)    {}
func (NoopMetricsCollector) RecordFlush(int64, time.Duration, error)    {}

// BasicMetricsCollector keeps simple in-memory counters.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertVectors    atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryCandidates  atomic.Int64
	QueryTotalNanos  atomic.Int64
	BuildCount       atomic.Int64
	BuildErrors      atomic.Int64
	BuildTotalNanos  atomic.Int64
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	FlushBytes       atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(count int, duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
	b.InsertVectors.Add(int64(count))
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(k, candidates int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
		return
	}
	b.QueryCandidates.Add(int64(candidates))
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(indexed int64, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(bytes int64, duration time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushBytes.Add(bytes)
}

// GetStats returns a snapshot of the counters.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	queries := b.QueryCount.Load()
	return BasicMetricsStats{
		InsertCount:        b.InsertCount.Load(),
		InsertVectors:      b.InsertVectors.Load(),
		InsertErrors:       b.InsertErrors.Load(),
		InsertAvgNanos:     avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		QueryCount:         queries,
		QueryErrors:        b.QueryErrors.Load(),
		QueryAvgNanos:      avg(b.QueryTotalNanos.Load(), queries),
		QueryAvgCandidates: avg(b.QueryCandidates.Load(), queries-b.QueryErrors.Load()),
		BuildCount:         b.BuildCount.Load(),
		BuildErrors:        b.BuildErrors.Load(),
		BuildAvgNanos:      avg(b.BuildTotalNanos.Load(), b.BuildCount.Load()),
		FlushCount:         b.FlushCount.Load(),
		FlushErrors:        b.FlushErrors.Load(),
		FlushBytes:         b.FlushBytes.Load(),
	}
}

func avg(total, count int64) int64 {
	if count <= 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector counters.
type BasicMetricsStats struct {
	InsertCount        int64
	InsertVectors      int64
	InsertErrors       int64
	InsertAvgNanos     int64
	QueryCount         int64
	QueryErrors        int64
	QueryAvgNanos      int64
	QueryAvgCandidates int64
	BuildCount         int64
	BuildErrors        int64
	BuildAvgNanos      int64
	FlushCount         int64
	FlushErrors        int64
	FlushBytes         int64
}
