// services/busmon/probe.go
package busmon

import (
	"sync/atomic"

	"devbus-go/genbus"
	"devbus-go/types"
	"devbus-go/x/timex"
)

// Probe is a genbus.Driver decorator that counts transfer activity.
// Counters are atomics: the event-side increments run in the wrapped
// driver's delivery context and must not block, while Stats may be read
// concurrently from any goroutine.
type Probe struct {
	name string
	drv  genbus.Driver
	fn   genbus.Handler // downstream handler installed by the generic layer

	starts    uint32
	startErrs uint32
	dones     uint32
	errEvents uint32
	events    uint32
}

var _ genbus.Driver = (*Probe)(nil)

// NewProbe wraps drv under a stable name used in telemetry topics.
func NewProbe(name string, drv genbus.Driver) *Probe {
	return &Probe{name: name, drv: drv}
}

func (p *Probe) Name() string { return p.name }

func (p *Probe) SetHandler(fn genbus.Handler) {
	p.fn = fn
	p.drv.SetHandler(p.onEvent)
}

func (p *Probe) onEvent(ev genbus.Event) {
	atomic.AddUint32(&p.events, 1)
	switch ev {
	case genbus.EventDone:
		atomic.AddUint32(&p.dones, 1)
	case genbus.EventErr:
		atomic.AddUint32(&p.errEvents, 1)
	}
	if p.fn != nil {
		p.fn(ev)
	}
}

func (p *Probe) Init() error              { return p.drv.Init() }
func (p *Probe) ResetBuffers()            { p.drv.ResetBuffers() }
func (p *Probe) SetTx(tx []byte)          { p.drv.SetTx(tx) }
func (p *Probe) SetTxFill(n int, fb byte) { p.drv.SetTxFill(n, fb) }
func (p *Probe) SetRx(rx []byte)          { p.drv.SetRx(rx) }

func (p *Probe) DoXfer() error {
	err := p.drv.DoXfer()
	if err != nil {
		atomic.AddUint32(&p.startErrs, 1)
	} else {
		atomic.AddUint32(&p.starts, 1)
	}
	return err
}

// Stats snapshots the counters.
func (p *Probe) Stats() types.BusStats {
	return types.BusStats{
		Name:      p.name,
		Starts:    atomic.LoadUint32(&p.starts),
		StartErrs: atomic.LoadUint32(&p.startErrs),
		Dones:     atomic.LoadUint32(&p.dones),
		ErrEvents: atomic.LoadUint32(&p.errEvents),
		Events:    atomic.LoadUint32(&p.events),
		TS:        timex.NowMs(),
	}
}
