// cmd/busshell/main.go
//
// Interactive host shell for exercising a generic bus over the simulated
// mockbus driver. Useful for poking at the lock/transfer/unlock protocol
// without hardware:
//
//	> lock
//	> tx 01 02 03
//	> rx 3
//	> xfer
//	> unlock
//	> stats
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"devbus-go/drivers/mockbus"
	"devbus-go/genbus"
	"devbus-go/msgbus"
	"devbus-go/services/busmon"
	"devbus-go/types"
)

const completionDelay = 20 * time.Millisecond

type shell struct {
	bus   *genbus.Bus
	mock  *mockbus.Bus
	probe *busmon.Probe

	locked bool
	tx, rx []byte

	lastMon types.MonState
}

func main() {
	mock := mockbus.New(
		mockbus.WithAutoComplete(completionDelay),
		mockbus.WithLoopback(),
	)
	probe := busmon.NewProbe("mock", mock)
	bus := genbus.New(probe)
	if err := bus.Init(); err != nil {
		fmt.Println("init failed:", err)
		os.Exit(1)
	}

	// Telemetry stack: message bus + monitor service.
	ctx := context.Background()
	mb := msgbus.NewBus(8)
	svc := busmon.New(busmon.Config{Interval: time.Second}, probe)
	_ = svc.Start(ctx, mb.NewConnection("busmon"))

	sh := &shell{bus: bus, mock: mock, probe: probe}

	// Track the retained monitor state in the background.
	go func() {
		conn := mb.NewConnection("shell")
		sub := conn.Subscribe(msgbus.T("busmon", "state"))
		for m := range sub.Channel() {
			if st, ok := m.Payload.(types.MonState); ok {
				sh.lastMon = st
			}
		}
	}()

	fmt.Println("busshell (type 'help' for commands)")
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		args, err := shlex.Split(in.Text())
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return
		}
		sh.run(args)
	}
}

func (s *shell) run(args []string) {
	switch args[0] {
	case "help":
		fmt.Println("lock | unlock | tx <hex bytes> | rx <n> | fill <n> <byte> | xfer | async | stats | mon | quit")

	case "lock":
		if s.locked {
			fmt.Println("already locked")
			return
		}
		s.bus.Lock()
		s.locked = true
		fmt.Println("locked")

	case "unlock":
		if !s.locked {
			fmt.Println("not locked")
			return
		}
		s.bus.Unlock()
		s.locked = false
		s.tx, s.rx = nil, nil
		fmt.Println("unlocked")

	case "tx":
		if !s.require(true) {
			return
		}
		tx, err := parseHex(args[1:])
		if err != nil {
			fmt.Println(err)
			return
		}
		s.tx = tx
		if err := s.bus.SetBuffers(s.tx, s.rx); err != nil {
			fmt.Println("set_buffers:", err)
			return
		}
		fmt.Printf("tx %d bytes\n", len(tx))

	case "rx":
		if !s.require(true) {
			return
		}
		if len(args) != 2 {
			fmt.Println("usage: rx <n>")
			return
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			fmt.Println("bad length")
			return
		}
		s.rx = make([]byte, n)
		if err := s.bus.SetBuffers(s.tx, s.rx); err != nil {
			fmt.Println("set_buffers:", err)
			return
		}
		fmt.Printf("rx %d bytes\n", n)

	case "fill":
		if !s.require(true) {
			return
		}
		if len(args) != 3 {
			fmt.Println("usage: fill <n> <byte>")
			return
		}
		n, err1 := strconv.Atoi(args[1])
		fb, err2 := strconv.ParseUint(args[2], 16, 8)
		if err1 != nil || err2 != nil || n < 0 {
			fmt.Println("bad arguments")
			return
		}
		if err := s.bus.SetFill(n, byte(fb)); err != nil {
			fmt.Println("set_fill:", err)
			return
		}
		fmt.Printf("fill %d x %02x\n", n, fb)

	case "xfer":
		if !s.require(true) {
			return
		}
		if err := s.bus.Xfer(); err != nil {
			fmt.Println("xfer:", err)
			return
		}
		fmt.Println("ok")
		s.dumpRx()

	case "async":
		if !s.require(true) {
			return
		}
		err := s.bus.XferAsync(func(ev genbus.Event) {
			// Delivery context: keep it short.
			fmt.Println("\n[event]", ev.String())
		})
		if err != nil {
			fmt.Println("xfer_async:", err)
			return
		}
		fmt.Println("started")

	case "stats":
		st := s.probe.Stats()
		fmt.Printf("starts=%d start_errs=%d dones=%d err_events=%d events=%d\n",
			st.Starts, st.StartErrs, st.Dones, st.ErrEvents, st.Events)

	case "mon":
		fmt.Printf("level=%s status=%s ts=%d\n",
			s.lastMon.Level, s.lastMon.Status, s.lastMon.TS)

	default:
		fmt.Println("unknown command:", args[0])
	}
}

func (s *shell) require(locked bool) bool {
	if s.locked != locked {
		if locked {
			fmt.Println("lock the bus first")
		} else {
			fmt.Println("unlock the bus first")
		}
		return false
	}
	return true
}

func (s *shell) dumpRx() {
	if len(s.rx) == 0 {
		return
	}
	fmt.Print("rx:")
	for _, b := range s.rx {
		fmt.Printf(" %02x", b)
	}
	fmt.Println()
}

func parseHex(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("usage: tx <hex bytes>")
	}
	out := make([]byte, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("bad byte %q", a)
		}
		out = append(out, byte(v))
	}
	return out, nil
}
