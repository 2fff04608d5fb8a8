// x/syncx/syncx.go
package syncx

import "sync/atomic"

// Semaphore is a binary, saturating completion signal. Signal never blocks
// and coalesces repeated posts; Wait blocks until a post is available.
// It is the wait primitive between a transfer's delivery context and the
// thread parked in a blocking call.
type Semaphore struct {
	ch chan struct{}
}

func NewSemaphore() *Semaphore {
	return &Semaphore{ch: make(chan struct{}, 1)}
}

// Signal posts the semaphore. Safe to call from a delivery context:
// it never blocks, and a second post before a Wait is absorbed.
func (s *Semaphore) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the semaphore is posted. The wait is unbounded.
func (s *Semaphore) Wait() {
	<-s.ch
}

// TryWait consumes a pending post without blocking.
// Returns true if a post was consumed.
func (s *Semaphore) TryWait() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// OnceFlag is a lock-free exactly-once gate. Two contexts may race to
// TrySet; exactly one of them observes true. Reset re-arms the gate for
// the next cycle.
type OnceFlag struct {
	set atomic.Bool
}

// TrySet performs an atomic test-and-set.
// Returns true iff this call made the false->true transition.
func (f *OnceFlag) TrySet() bool {
	return f.set.CompareAndSwap(false, true)
}

// Reset re-arms the flag. Must only be called while no context can be
// racing on TrySet (i.e. between cycles).
func (f *OnceFlag) Reset() {
	f.set.Store(false)
}

// IsSet reports the current state without modifying it.
func (f *OnceFlag) IsSet() bool {
	return f.set.Load()
}
