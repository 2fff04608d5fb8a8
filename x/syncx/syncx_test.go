// x/syncx/syncx_test.go
package syncx

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphore_SignalCoalesces(t *testing.T) {
	s := NewSemaphore()
	s.Signal()
	s.Signal()
	s.Signal()

	if !s.TryWait() {
		t.Fatal("expected a pending post")
	}
	if s.TryWait() {
		t.Fatal("posts did not coalesce")
	}
}

func TestSemaphore_WaitBlocksUntilSignal(t *testing.T) {
	s := NewSemaphore()
	done := make(chan struct{})

	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Signal")
	case <-time.After(30 * time.Millisecond):
	}

	s.Signal()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Wait did not return after Signal")
	}
}

func TestOnceFlag_ExactlyOneWinner(t *testing.T) {
	for iter := 0; iter < 200; iter++ {
		var f OnceFlag
		var wins uint32
		var wg sync.WaitGroup

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if f.TrySet() {
					atomic.AddUint32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("iteration %d: %d winners, want 1", iter, wins)
		}
	}
}

func TestOnceFlag_ResetRearms(t *testing.T) {
	var f OnceFlag
	if !f.TrySet() {
		t.Fatal("first TrySet lost")
	}
	if f.TrySet() {
		t.Fatal("second TrySet won without Reset")
	}
	f.Reset()
	if !f.TrySet() {
		t.Fatal("TrySet after Reset lost")
	}
}
