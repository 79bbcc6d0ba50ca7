// Package event delivers notifications to listeners in order without
// blocking the producer.
package event

import (
	"sync"
)

// Dispatcher runs deliveries on its own goroutine in the order they were
// posted. The queue is unbounded so Post never waits on a slow listener.
type Dispatcher[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	closed  bool
	deliver func(T)

	done chan struct{}
}

// NewDispatcher starts a dispatcher calling deliver for every posted value.
func NewDispatcher[T any](deliver func(T)) *Dispatcher[T] {
	d := &Dispatcher[T]{
		deliver: deliver,
		done:    make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// Post queues v for delivery. It reports false after Close.
func (d *Dispatcher[T]) Post(v T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, v)
	d.cond.Signal()
	return true
}

// Close stops accepting values, delivers everything already queued and
// waits for the dispatcher goroutine to exit. It must not be called from
// within deliver.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Signal()
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher[T]) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, v := range batch {
			d.deliver(v)
		}
	}
}
