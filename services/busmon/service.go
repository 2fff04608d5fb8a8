// services/busmon/service.go
//
// Bus cycle telemetry service: publishes a retained monitor state plus a
// per-probe counter snapshot on every tick, and accepts a set_rate control
// message over the message bus.
package busmon

import (
	"context"
	"time"

	"devbus-go/msgbus"
	"devbus-go/types"
	"devbus-go/x/mathx"
	"devbus-go/x/timex"
)

var (
	topicState  = msgbus.T("busmon", "state")
	topicConfig = msgbus.T("busmon", "config")
)

// StatsTopic is where a probe's snapshots are published.
func StatsTopic(name string) msgbus.Topic {
	return msgbus.T("busmon", "stats", name)
}

const (
	minInterval = 100 * time.Millisecond
	maxInterval = time.Minute
)

type Config struct {
	// Interval between stats publications; clamped to [100ms, 1m].
	// Zero means the 1s default.
	Interval time.Duration
}

type Service struct {
	cfg    Config
	probes []*Probe
}

func New(cfg Config, probes ...*Probe) *Service {
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	cfg.Interval = mathx.Clamp(cfg.Interval, minInterval, maxInterval)
	return &Service{cfg: cfg, probes: probes}
}

// Start launches the service loop. It runs until ctx is cancelled.
func (s *Service) Start(ctx context.Context, conn *msgbus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}

func (s *Service) serviceLoop(ctx context.Context, conn *msgbus.Connection) {
	cfgSub := conn.Subscribe(topicConfig)
	defer conn.Unsubscribe(cfgSub)

	conn.Publish(conn.NewMessage(topicState, types.MonState{
		Level: "ready", Status: "ok", TS: timex.NowMs(),
	}, true))

	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Publish(conn.NewMessage(topicState, types.MonState{
				Level: "stopped", Status: "ok", TS: timex.NowMs(),
			}, true))
			println("Info: busmon service stopping")
			return
		case <-tick.C:
			s.publishStats(conn)
		case msg := <-cfgSub.Channel():
			s.handleConfig(conn, msg, tick)
		}
	}
}

func (s *Service) publishStats(conn *msgbus.Connection) {
	for _, p := range s.probes {
		conn.Publish(conn.NewMessage(StatsTopic(p.Name()), p.Stats(), true))
	}
}

// handleConfig applies a control message. Payload shape:
//
//	map[string]any{"set_rate_ms": <number>}
func (s *Service) handleConfig(conn *msgbus.Connection, msg *msgbus.Message, tick *time.Ticker) {
	m, ok := msg.Payload.(map[string]any)
	if !ok {
		conn.Reply(msg, types.ErrorReply{Error: "invalid payload"}, false)
		return
	}
	raw, ok := m["set_rate_ms"]
	if !ok {
		conn.Reply(msg, types.ErrorReply{Error: "unknown control"}, false)
		return
	}

	var ms int64
	switch v := raw.(type) {
	case float64:
		ms = int64(v)
	case int:
		ms = int64(v)
	case int64:
		ms = v
	default:
		conn.Reply(msg, types.ErrorReply{Error: "invalid rate"}, false)
		return
	}

	iv := mathx.Clamp(time.Duration(ms)*time.Millisecond, minInterval, maxInterval)
	s.cfg.Interval = iv
	tick.Reset(iv)
	conn.Reply(msg, types.OKReply{OK: true}, false)
}
