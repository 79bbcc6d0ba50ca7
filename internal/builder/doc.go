// Package builder drives background construction of the constellation
// index.
//
// A Builder owns a single worker goroutine and one state machine:
//
//	Empty ──Enqueue──▶ Building ──drained──▶ Ready
//	                     ▲  │                  │
//	                     │  └──error──▶ Failed │
//	                     └──────Enqueue────────┘
//
// Each cycle drains queued ids in batches into the pattern index, runs a
// full repartition when enough drift has accumulated, persists the
// snapshot if a persist hook is set, and then marks the index ready. A
// progress report is emitted after every batch and exactly one ready
// report is emitted per cycle. Failed is terminal.
//
// The same transitions back both the blocking WaitReady call and the
// asynchronous progress callback.
package builder
