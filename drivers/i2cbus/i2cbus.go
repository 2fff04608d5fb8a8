// Package i2cbus adapts a tinygo.org/x/drivers.I2C connection plus a fixed
// device address into a genbus.Driver. Device addressing lives here, below
// the generic layer; the generic layer stays protocol-agnostic.
//
// Transfers run on a dedicated worker goroutine per bus, which performs the
// combined write/read transaction and delivers events to the registered
// handler. The worker goroutine is the driver's delivery context: handlers
// installed through the generic layer run on it and must not block.
package i2cbus

import (
	"sync"

	"tinygo.org/x/drivers"

	"devbus-go/errcode"
	"devbus-go/genbus"
)

type xferReq struct {
	tx, rx []byte
}

// Bus is an I2C-backed platform driver for one peripheral address.
type Bus struct {
	conn drivers.I2C
	addr uint16

	handler genbus.Handler // set before Init; read by the worker

	mu      sync.Mutex // guards descriptors and lastErr
	tx, rx  []byte
	lastErr error

	reqs chan xferReq
	quit chan struct{}
}

var _ genbus.Driver = (*Bus)(nil)

// New binds conn and a 7-bit device address. The I2C connection must
// already be configured (pins, frequency).
func New(conn drivers.I2C, addr uint16) *Bus {
	return &Bus{
		conn: conn,
		addr: addr,
		reqs: make(chan xferReq, 1),
		quit: make(chan struct{}),
	}
}

func (b *Bus) SetHandler(fn genbus.Handler) { b.handler = fn }

// Init starts the per-bus worker goroutine.
func (b *Bus) Init() error {
	go b.loop()
	return nil
}

// Close stops the worker. In-flight transfers still deliver their events.
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

// run executes one transaction and delivers its events. Worker goroutine only.
func (b *Bus) run(req xferReq) {
	err := b.conn.Tx(b.addr, req.tx, req.rx)

	fn := b.handler
	if err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
		if fn != nil {
			fn(genbus.EventErr)
		}
	} else {
		if req.tx != nil && fn != nil {
			fn(genbus.EventTxDone)
		}
		if req.rx != nil && fn != nil {
			fn(genbus.EventRxDone)
		}
	}
	if fn != nil {
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

// DoXfer posts the configured transaction to the worker. The enqueue is
// non-blocking: a full queue means a transfer is already running, which the
// generic layer treats as a failed start with no events to follow.
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

// LastErr returns the most recent transfer fault, if any. The generic
// layer reports faults as EventErr without detail; callers that need the
// cause read it here after the cycle completes.
func (b *Bus) LastErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}
