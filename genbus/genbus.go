// Package genbus provides a generic, thread-safe wrapper for a shared
// half/full-duplex peripheral bus (I2C, SPI, UART). It adds:
//
//   - a lock/unlock protocol serializing access from multiple goroutines,
//   - buffer configuration shared by blocking and asynchronous transfers,
//   - a blocking transfer path that parks the caller until completion,
//   - an asynchronous path delivering completion through a user handler,
//
// on top of any platform driver implementing the Driver contract.
//
// Completion is reported by the driver from its own delivery context (a
// worker goroutine, or an interrupt on MCU targets). The wrapper guarantees
// that per-cycle cleanup (discarding buffers and the installed handler)
// runs exactly once, whichever of Unlock or the delivery context discovers
// the completed-and-unlocked condition first.
//
// Contract violations (operating on an unlocked or uninitialized bus,
// duplicate completion for one transfer) are caller/driver defects and
// panic rather than return an error.
package genbus

import (
	"sync"
	"sync/atomic"

	"devbus-go/errcode"
	"devbus-go/x/syncx"
)

// Event is a bus event delivered through a Handler.
type Event uint8

const (
	// EventTxDone reports that the transmit stage finished.
	EventTxDone Event = iota
	// EventRxDone reports that the receive stage finished.
	EventRxDone
	// EventErr reports a transfer fault. The driver still delivers
	// EventDone afterwards; fault details stay driver-side.
	EventErr
	// EventDone is the completion event, delivered exactly once per
	// started transfer, after all other events for it.
	EventDone
)

func (e Event) String() string {
	switch e {
	case EventTxDone:
		return "tx_done"
	case EventRxDone:
		return "rx_done"
	case EventErr:
		return "err"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Handler receives bus events. When installed via XferAsync it may be
// invoked from the driver's delivery context (worker goroutine or ISR
// trampoline); it MUST NOT block or perform long-latency work there.
type Handler func(Event)

// Driver is the platform bus contract the wrapper composes over.
//
// A driver must deliver, for every successfully started transfer, zero or
// more non-completion events followed by exactly one EventDone, and then
// nothing further for that transfer. Event delivery is single-threaded.
// A DoXfer that returns a non-nil error has NOT started a transfer and
// must deliver no events for the attempt.
type Driver interface {
	// SetHandler registers the completion callback. Called once, before Init.
	SetHandler(fn Handler)
	// Init prepares the underlying bus. Called once per process lifetime.
	Init() error
	// ResetBuffers discards any configured transmit/receive descriptors.
	ResetBuffers()
	// SetTx installs the transmit buffer; nil means no transmit stage.
	SetTx(tx []byte)
	// SetTxFill installs a pattern-fill transmit of n copies of fill.
	SetTxFill(n int, fill byte)
	// SetRx installs the receive buffer; nil means no receive stage.
	SetRx(rx []byte)
	// DoXfer starts a transfer over the configured buffers.
	DoXfer() error
}

// Bus is the generic bus wrapper. One instance per shared physical bus;
// construct with New, call Init once, then cycle through
// Lock / SetBuffers / Xfer-or-XferAsync / Unlock from any goroutine.
type Bus struct {
	drv Driver

	lock     sync.Mutex       // the exclusive bus lock
	complete *syncx.Semaphore // posted by the delivery context on EventDone
	cleaned  syncx.OnceFlag   // exactly-once cleanup gate, re-armed per cycle

	// handler is written by the lock holder at transfer start and read by
	// the delivery context; cleared only by cleanup. Atomic because cleanup
	// may run in either context.
	handler atomic.Pointer[Handler]

	// Independent state facts. Each is its own atomic: locked and served
	// cross the caller/delivery boundary, and packing them into one word
	// would let one context clobber the other's fact.
	inited atomic.Bool // set once by Init, never cleared
	locked atomic.Bool // owned by the lock holder
	async  atomic.Bool // last started transfer used the async path
	served atomic.Bool // completion for the current cycle has been delivered
}

// New wraps drv. The driver is not touched until Init.
func New(drv Driver) *Bus {
	return &Bus{
		drv:      drv,
		complete: syncx.NewSemaphore(),
	}
}

// Init registers the event handler with the driver and initializes it.
// Lazy, one-time: every other method requires a prior successful Init.
func (b *Bus) Init() error {
	b.drv.SetHandler(b.busHandler)
	if err := b.drv.Init(); err != nil {
		return err
	}
	b.inited.Store(true)
	return nil
}

// Lock acquires exclusive ownership of the bus, blocking while another
// goroutine holds it. If the previous cycle was asynchronous, Lock also
// waits until that cycle's completion has been delivered and served, so a
// new configuration can never race a stale handler invocation.
func (b *Bus) Lock() {
	if !b.inited.Load() {
		panic("genbus: Lock on uninitialized bus")
	}

	b.lock.Lock()
	b.locked.Store(true)

	if b.async.Load() {
		b.complete.Wait()
		// The previous cycle is fully reconciled; clear the mode so a
		// later Lock does not wait on a signal that will never re-arrive.
		b.async.Store(false)
	}
}

// Unlock releases ownership. In blocking mode, cleanup runs here
// unconditionally. In async mode, cleanup runs here only if the completion
// has already been served AND the delivery context has not beaten us to
// it; otherwise the eventual delivery performs it.
func (b *Bus) Unlock() {
	if !b.locked.Load() {
		panic("genbus: Unlock of unlocked bus")
	}

	// Clear the flag before deciding on cleanup so a concurrently running
	// delivery observes "owner has released" and can clean up itself if it
	// gets past this point after us.
	b.locked.Store(false)

	if b.async.Load() {
		if b.served.Load() {
			if b.cleaned.TrySet() {
				b.cleanup()
			}
		}
		// Not yet served: the delivery context will clean up.
	} else {
		// Blocking mode: the transfer (if any) completed before Xfer
		// returned, nobody else can be racing us.
		b.cleanup()
	}

	b.lock.Unlock()
}

// SetBuffers installs the transmit and receive descriptors for subsequent
// transfers, discarding any previously configured buffers. nil means the
// side is absent; a non-nil empty slice is a valid zero-length buffer.
//
// Returns errcode.Inval if both sides are nil, errcode.Busy while an
// asynchronous transfer is in flight.
func (b *Bus) SetBuffers(tx, rx []byte) error {
	b.mustOwn("SetBuffers")

	if tx == nil && rx == nil {
		return errcode.Inval
	}
	if b.busy() {
		return errcode.Busy
	}

	b.drv.ResetBuffers()
	b.drv.SetTx(tx)
	b.drv.SetRx(rx)
	return nil
}

// SetFill installs a transmit-only configuration of n copies of fill.
// On a half-duplex bus no receive is performed; a full-duplex driver may
// clock in data and discard it.
func (b *Bus) SetFill(n int, fill byte) error {
	b.mustOwn("SetFill")

	if b.busy() {
		return errcode.Busy
	}

	b.drv.ResetBuffers()
	b.drv.SetTxFill(n, fill)
	return nil
}

// Xfer performs a blocking transfer over the configured buffers. It does
// not return before the transfer has genuinely completed: a successful
// start parks the caller on the completion signal until the delivery
// context posts it. The wait is unbounded; there is no cancellation.
//
// On a bare-metal target without a scheduler the park degrades to a
// busy-wait inside the semaphore.
func (b *Bus) Xfer() error {
	b.mustOwn("Xfer")

	if b.busy() {
		return errcode.Busy
	}

	b.async.Store(false)
	b.startCycle()

	if err := b.drv.DoXfer(); err != nil {
		// Start never happened; no event will arrive. The cycle is
		// synchronously complete.
		b.served.Store(true)
		return err
	}

	b.complete.Wait()
	return nil
}

// XferAsync starts a transfer and returns immediately after a successful
// start; completion is reported later through fn (which may be nil when
// the caller only needs the Lock-side serialization). fn is owned by the
// bus for the cycle, invoked from the delivery context per event, and
// discarded by cleanup.
func (b *Bus) XferAsync(fn Handler) error {
	b.mustOwn("XferAsync")

	if b.busy() {
		return errcode.Busy
	}

	b.handler.Store(&fn)
	b.startCycle()
	b.async.Store(true)

	if err := b.drv.DoXfer(); err != nil {
		// No event will ever arrive for this attempt: deem it served and
		// fall back to blocking-mode bookkeeping so Unlock cleans up.
		b.served.Store(true)
		b.async.Store(false)
		return err
	}

	return nil
}

// startCycle resets the per-cycle state before asking the driver to start:
// the completion is pending again, the cleanup gate re-arms, and a stale
// post left by a previous cycle is drained so it cannot be mistaken for
// this cycle's completion.
func (b *Bus) startCycle() {
	b.served.Store(false)
	b.cleaned.Reset()
	b.complete.TryWait()
}

// busHandler is registered with the driver and runs in its delivery
// context. It must not block.
func (b *Bus) busHandler(ev Event) {
	done := ev == EventDone

	if done {
		if b.served.Load() {
			panic("genbus: duplicate completion event for served transfer")
		}
		b.served.Store(true)
	}

	if b.async.Load() {
		if p := b.handler.Load(); p != nil && *p != nil {
			(*p)(ev)
		}

		// If the owner already unlocked, cleanup falls to us, unless the
		// unlocking thread got there first. The atomic gate arbitrates.
		if done && !b.locked.Load() {
			if b.cleaned.TrySet() {
				b.cleanup()
			}
		}
	}

	if done {
		b.complete.Signal()
	}
}

// busy reports whether a transfer has been started and not yet served.
func (b *Bus) busy() bool {
	return b.async.Load() && !b.served.Load()
}

// cleanup discards the configured buffers and the installed handler.
// Reached through the OnceFlag (or the blocking-mode Unlock), so it runs
// at most once per cycle.
func (b *Bus) cleanup() {
	b.drv.ResetBuffers()
	b.handler.Store(nil)
}

func (b *Bus) mustOwn(op string) {
	if !b.locked.Load() {
		panic("genbus: " + op + " without holding the bus lock")
	}
}
