// Package mockbus provides a simulated platform bus driver for host builds
// and tests. It implements genbus.Driver with scriptable start failures,
// manual event injection, and an optional auto-completion goroutine that
// plays the role of the interrupt-delivery context.
//
// In loopback mode a started transfer copies the transmit buffer into the
// receive buffer before completing, so round-trip data paths can be
// exercised without hardware.
package mockbus

import (
	"sync"
	"sync/atomic"
	"time"

	"devbus-go/genbus"
)

// Bus is a simulated bus driver.
type Bus struct {
	mu      sync.Mutex
	handler genbus.Handler

	tx, rx []byte

	startErr  error         // returned by the next DoXfer (and cleared)
	autoDelay time.Duration // >0: deliver completion after this delay
	loopback  bool

	starts uint32
	resets uint32
}

var _ genbus.Driver = (*Bus)(nil)

// Option configures a Bus.
type Option func(*Bus)

// WithAutoComplete makes every successful start deliver its completion
// automatically from a separate goroutine after delay.
func WithAutoComplete(delay time.Duration) Option {
	return func(b *Bus) { b.autoDelay = delay }
}

// WithLoopback copies tx into rx (up to the shorter length) before the
// completion is delivered.
func WithLoopback() Option {
	return func(b *Bus) { b.loopback = true }
}

func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) SetHandler(fn genbus.Handler) {
	b.mu.Lock()
	b.handler = fn
	b.mu.Unlock()
}

func (b *Bus) Init() error { return nil }

func (b *Bus) ResetBuffers() {
	b.mu.Lock()
	b.tx, b.rx = nil, nil
	b.mu.Unlock()
	atomic.AddUint32(&b.resets, 1)
}

func (b *Bus) SetTx(tx []byte) {
	b.mu.Lock()
	b.tx = tx
	b.mu.Unlock()
}

func (b *Bus) SetTxFill(n int, fill byte) {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = fill
	}
	b.mu.Lock()
	b.tx = buf
	b.mu.Unlock()
}

func (b *Bus) SetRx(rx []byte) {
	b.mu.Lock()
	b.rx = rx
	b.mu.Unlock()
}

func (b *Bus) DoXfer() error {
	b.mu.Lock()
	err := b.startErr
	b.startErr = nil
	delay := b.autoDelay
	b.mu.Unlock()

	if err != nil {
		return err
	}
	atomic.AddUint32(&b.starts, 1)

	if delay > 0 {
		go func() {
			time.Sleep(delay)
			b.Complete()
		}()
	}
	return nil
}

// FailNextStart scripts the next DoXfer to fail with err without starting.
func (b *Bus) FailNextStart(err error) {
	b.mu.Lock()
	b.startErr = err
	b.mu.Unlock()
}

// Fire injects a single event, invoking the registered handler in the
// caller's goroutine. Call it from a separate goroutine to simulate an
// independent delivery context.
func (b *Bus) Fire(ev genbus.Event) {
	b.mu.Lock()
	fn := b.handler
	b.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Complete performs the loopback copy (when enabled) and fires EventDone.
func (b *Bus) Complete() {
	b.mu.Lock()
	if b.loopback && b.tx != nil && b.rx != nil {
		copy(b.rx, b.tx)
	}
	b.mu.Unlock()
	b.Fire(genbus.EventDone)
}

// Accessors for assertions.

func (b *Bus) Starts() uint32 { return atomic.LoadUint32(&b.starts) }
func (b *Bus) Resets() uint32 { return atomic.LoadUint32(&b.resets) }

// Buffers returns the currently installed descriptors.
func (b *Bus) Buffers() (tx, rx []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx, b.rx
}
