// Package spibus adapts a tinygo.org/x/drivers.SPI connection into a
// genbus.Driver. Chip-select handling stays with the caller (assert before
// Lock/transfer, deassert after Unlock); the driver only clocks bytes.
//
// SPI is full duplex: when both buffers are set they are clocked together,
// and a fill configuration clocks the pattern out while any incoming data
// is discarded.
package spibus

import (
	"sync"

	"tinygo.org/x/drivers"

	"devbus-go/errcode"
	"devbus-go/genbus"
)

type xferReq struct {
	tx, rx []byte
}

// Bus is an SPI-backed platform driver.
type Bus struct {
	conn drivers.SPI

	handler genbus.Handler // set before Init; read by the worker

	mu      sync.Mutex
	tx, rx  []byte
	lastErr error

	reqs chan xferReq
	quit chan struct{}
}

var _ genbus.Driver = (*Bus)(nil)

// New binds an already-configured SPI connection.
func New(conn drivers.SPI) *Bus {
	return &Bus{
		conn: conn,
		reqs: make(chan xferReq, 1),
		quit: make(chan struct{}),
	}
}

func (b *Bus) SetHandler(fn genbus.Handler) { b.handler = fn }

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

func (b *Bus) run(req xferReq) {
	err := b.conn.Tx(req.tx, req.rx)

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
