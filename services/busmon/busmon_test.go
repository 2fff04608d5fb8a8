// services/busmon/busmon_test.go
package busmon

import (
	"context"
	"errors"
	"testing"
	"time"

	"devbus-go/drivers/mockbus"
	"devbus-go/genbus"
	"devbus-go/msgbus"
	"devbus-go/types"
)

func TestProbe_CountsStartsAndCompletions(t *testing.T) {
	mock := mockbus.New()
	probe := NewProbe("mock", mock)
	bus := genbus.New(probe)
	if err := bus.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	bus.Lock()
	if err := bus.SetBuffers([]byte{0x01}, nil); err != nil {
		t.Fatalf("SetBuffers: %v", err)
	}
	if err := bus.XferAsync(nil); err != nil {
		t.Fatalf("XferAsync: %v", err)
	}
	mock.Complete()
	bus.Unlock()

	st := probe.Stats()
	if st.Starts != 1 || st.StartErrs != 0 {
		t.Fatalf("starts=%d startErrs=%d, want 1/0", st.Starts, st.StartErrs)
	}
	if st.Dones != 1 {
		t.Fatalf("dones=%d, want 1", st.Dones)
	}
	if st.Events != 1 {
		t.Fatalf("events=%d, want 1", st.Events)
	}
}

func TestProbe_CountsStartFailures(t *testing.T) {
	mock := mockbus.New()
	probe := NewProbe("mock", mock)
	bus := genbus.New(probe)
	if err := bus.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	mock.FailNextStart(errors.New("stuck"))

	bus.Lock()
	if err := bus.Xfer(); err == nil {
		t.Fatal("expected start failure")
	}
	bus.Unlock()

	st := probe.Stats()
	if st.Starts != 0 || st.StartErrs != 1 {
		t.Fatalf("starts=%d startErrs=%d, want 0/1", st.Starts, st.StartErrs)
	}
}

func TestProbe_CountsErrorEvents(t *testing.T) {
	mock := mockbus.New()
	probe := NewProbe("mock", mock)
	bus := genbus.New(probe)
	if err := bus.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	bus.Lock()
	if err := bus.XferAsync(nil); err != nil {
		t.Fatalf("XferAsync: %v", err)
	}
	mock.Fire(genbus.EventErr)
	mock.Fire(genbus.EventDone)
	bus.Unlock()

	st := probe.Stats()
	if st.ErrEvents != 1 {
		t.Fatalf("errEvents=%d, want 1", st.ErrEvents)
	}
	if st.Events != 2 {
		t.Fatalf("events=%d, want 2", st.Events)
	}
}

func TestService_PublishesRetainedStateAndStats(t *testing.T) {
	mock := mockbus.New()
	probe := NewProbe("mock", mock)

	mb := msgbus.NewBus(8)
	svcConn := mb.NewConnection("busmon")
	uiConn := mb.NewConnection("ui")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := New(Config{Interval: 100 * time.Millisecond}, probe)
	if err := svc.Start(ctx, svcConn); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Retained state reaches a late subscriber.
	time.Sleep(20 * time.Millisecond)
	stateSub := uiConn.Subscribe(msgbus.T("busmon", "state"))
	select {
	case m := <-stateSub.Channel():
		st, ok := m.Payload.(types.MonState)
		if !ok || st.Level != "ready" {
			t.Fatalf("unexpected state payload: %#v", m.Payload)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("no retained state delivered")
	}

	statsSub := uiConn.Subscribe(StatsTopic("mock"))
	select {
	case m := <-statsSub.Channel():
		if _, ok := m.Payload.(types.BusStats); !ok {
			t.Fatalf("unexpected stats payload: %#v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no stats published within a tick")
	}
}

func TestService_SetRateRepliesOK(t *testing.T) {
	mb := msgbus.NewBus(8)
	svcConn := mb.NewConnection("busmon")
	uiConn := mb.NewConnection("ui")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := New(Config{Interval: time.Second})
	if err := svc.Start(ctx, svcConn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	req := mb.NewMessage(msgbus.T("busmon", "config"),
		map[string]any{"set_rate_ms": float64(250)}, false)
	rctx, rcancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer rcancel()

	reply, err := uiConn.RequestWait(rctx, req)
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if ok, is := reply.Payload.(types.OKReply); !is || !ok.OK {
		t.Fatalf("unexpected reply: %#v", reply.Payload)
	}
}

func TestService_BadControlRepliesError(t *testing.T) {
	mb := msgbus.NewBus(8)
	svcConn := mb.NewConnection("busmon")
	uiConn := mb.NewConnection("ui")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := New(Config{})
	if err := svc.Start(ctx, svcConn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	req := mb.NewMessage(msgbus.T("busmon", "config"), "garbage", false)
	rctx, rcancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer rcancel()

	reply, err := uiConn.RequestWait(rctx, req)
	if err != nil {
		t.Fatalf("RequestWait: %v", err)
	}
	if _, is := reply.Payload.(types.ErrorReply); !is {
		t.Fatalf("unexpected reply: %#v", reply.Payload)
	}
}

func TestService_StopsOnCancel(t *testing.T) {
	mb := msgbus.NewBus(8)
	svcConn := mb.NewConnection("busmon")
	uiConn := mb.NewConnection("ui")

	ctx, cancel := context.WithCancel(context.Background())

	svc := New(Config{Interval: 100 * time.Millisecond})
	if err := svc.Start(ctx, svcConn); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	stateSub := uiConn.Subscribe(msgbus.T("busmon", "state"))
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case m := <-stateSub.Channel():
			st, ok := m.Payload.(types.MonState)
			if !ok {
				t.Fatalf("unexpected state payload: %#v", m.Payload)
			}
			if st.Level == "stopped" {
				return
			}
		case <-deadline:
			t.Fatal("no stopped state observed after cancel")
		}
	}
}
