//go:build rp2040 || rp2350

// Package uartbus adapts a jangala-dev/tinygo-uartx UART into a
// genbus.Driver for RP2 targets. A transfer writes the transmit buffer,
// then reads until the receive buffer is full. Framing (baud, parity) is
// configured on the UART before the bus is initialized.
package uartbus

import (
	"context"
	"sync"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"devbus-go/errcode"
	"devbus-go/genbus"
)

type xferReq struct {
	tx, rx []byte
}

// Bus is a UART-backed platform driver.
type Bus struct {
	u *uartx.UART

	handler genbus.Handler

	mu      sync.Mutex
	tx, rx  []byte
	lastErr error

	reqs chan xferReq
	quit chan struct{}
}

var _ genbus.Driver = (*Bus)(nil)

// New binds an already-configured UART (pins, baud).
func New(u *uartx.UART) *Bus {
	return &Bus{
		u:    u,
		reqs: make(chan xferReq, 1),
		quit: make(chan struct{}),
	}
}

func (b *Bus) SetHandler(fn genbus.Handler) { b.handler = fn }

func (b *Bus) Init() error {
	go b.loop()
	return nil
}

func (b *Bus) Close() {
	close(b.quit)
}

func (b *Bus) loop() {
	for {
		select {
		case req := <-b.reqs:
			b.run(req)
		case <-b.quit:
			return
		}
	}
}

func (b *Bus) run(req xferReq) {
	fn := b.handler

	if len(req.tx) > 0 {
		if _, err := b.u.Write(req.tx); err != nil {
			b.fail(fn, err)
			return
		}
		if fn != nil {
			fn(genbus.EventTxDone)
		}
	}

	if req.rx != nil {
		filled := 0
		for filled < len(req.rx) {
			n, err := b.u.RecvSomeContext(context.Background(), req.rx[filled:])
			if err != nil {
				b.fail(fn, err)
				return
			}
			filled += n
		}
		if fn != nil {
			fn(genbus.EventRxDone)
		}
	}

	if fn != nil {
		fn(genbus.EventDone)
	}
}

func (b *Bus) fail(fn genbus.Handler, err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	if fn != nil {
		fn(genbus.EventErr)
		fn(genbus.EventDone)
	}
}

func (b *Bus) ResetBuffers() {
	b.mu.Lock()
	b.tx, b.rx = nil, nil
	b.mu.Unlock()
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
	req := xferReq{tx: b.tx, rx: b.rx}
	b.mu.Unlock()

	select {
	case b.reqs <- req:
		return nil
	default:
		return errcode.Busy
	}
}

// LastErr returns the most recent transfer fault, if any.
func (b *Bus) LastErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}
