// drivers/spibus/spibus_test.go
package spibus

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"devbus-go/genbus"
)

// fakeSPI echoes w into r (full duplex loopback) or fails.
type fakeSPI struct {
	mu    sync.Mutex
	wrote []byte
	err   error
}

func (f *fakeSPI) Tx(w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wrote = append([]byte(nil), w...)
	if f.err != nil {
		return f.err
	}
	copy(r, w)
	return nil
}

func (f *fakeSPI) Transfer(b byte) (byte, error) {
	if f.err != nil {
		return 0, f.err
	}
	return b, nil
}

func TestFullDuplexLoopback(t *testing.T) {
	f := &fakeSPI{}
	drv := New(f)
	bus := genbus.New(drv)
	if err := bus.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer drv.Close()

	bus.Lock()
	tx := []byte{0x9F, 0x00, 0x00}
	rx := make([]byte, 3)
	if err := bus.SetBuffers(tx, rx); err != nil {
		t.Fatalf("SetBuffers: %v", err)
	}
	if err := bus.Xfer(); err != nil {
		t.Fatalf("Xfer: %v", err)
	}
	bus.Unlock()

	if !bytes.Equal(rx, tx) {
		t.Fatalf("rx = %v, want %v", rx, tx)
	}
}

func TestFillClocksPattern(t *testing.T) {
	f := &fakeSPI{}
	drv := New(f)
	bus := genbus.New(drv)
	if err := bus.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer drv.Close()

	bus.Lock()
	if err := bus.SetFill(4, 0xFF); err != nil {
		t.Fatalf("SetFill: %v", err)
	}
	if err := bus.Xfer(); err != nil {
		t.Fatalf("Xfer: %v", err)
	}
	bus.Unlock()

	f.mu.Lock()
	wrote := f.wrote
	f.mu.Unlock()
	if !bytes.Equal(wrote, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Fatalf("clocked %v, want four 0xff", wrote)
	}
}

func TestFaultDeliversErrThenDone(t *testing.T) {
	boom := errors.New("mode fault")
	f := &fakeSPI{err: boom}
	drv := New(f)

	ch := make(chan genbus.Event, 4)
	drv.SetHandler(func(ev genbus.Event) { ch <- ev })
	if err := drv.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer drv.Close()

	drv.SetTx([]byte{0x01})
	if err := drv.DoXfer(); err != nil {
		t.Fatalf("DoXfer: %v", err)
	}

	var evs []genbus.Event
	for len(evs) < 2 {
		select {
		case ev := <-ch:
			evs = append(evs, ev)
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timed out with events %v", evs)
		}
	}
	if evs[0] != genbus.EventErr || evs[1] != genbus.EventDone {
		t.Fatalf("events = %v, want [err done]", evs)
	}
	if !errors.Is(drv.LastErr(), boom) {
		t.Fatalf("LastErr = %v, want %v", drv.LastErr(), boom)
	}
}
