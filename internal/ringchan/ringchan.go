// Package ringchan provides a bounded channel-like buffer with
// overwrite-oldest semantics. Producers never block: when the buffer is
// full the oldest element is discarded to make room. This is the delivery
// primitive between latency-sensitive capture paths (button presses,
// advertisement callbacks) and the workers that consume them.
package ringchan

import "sync/atomic"

// Ring wraps a buffered channel so that sends always succeed.
//
// Writers use Send or TrySend; readers either range over C() or call
// Receive. Dropped counts the elements discarded to make room for newer
// ones, which is the only signal a consumer gets that it fell behind.
type Ring[T any] struct {
	ch      chan T
	dropped atomic.Int64
}

// New creates a Ring with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// it until Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts v, discarding the oldest buffered element if the ring is
// full. It never blocks indefinitely and is safe to call from callback
// contexts that must not stall.
func (r *Ring[T]) Send(v T) {
	for {
		select {
		case r.ch <- v:
			return
		default:
		}
		select {
		case <-r.ch:
			r.dropped.Add(1)
		default:
		}
	}
}

// TrySend inserts v only if there is room. Returns false when the ring is
// full.
func (r *Ring[T]) TrySend(v T) bool {
	select {
	case r.ch <- v:
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the ring is closed.
func (r *Ring[T]) Receive() (v T, ok bool) {
	v, ok = <-r.ch
	return
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return len(r.ch) }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Dropped returns how many elements were discarded because the ring was
// full at send time.
func (r *Ring[T]) Dropped() int64 { return r.dropped.Load() }

// Close closes the ring. Sending after Close panics.
func (r *Ring[T]) Close() { close(r.ch) }
