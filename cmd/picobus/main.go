//go:build rp2040 || rp2350

// cmd/picobus/main.go
//
// On-target demo: drives an AHT20-class sensor address on machine.I2C0
// through the generic bus layer, alternating blocking and asynchronous
// cycles and printing probe counters.
package main

import (
	"machine"
	"time"

	"devbus-go/drivers/i2cbus"
	"devbus-go/genbus"
	"devbus-go/services/busmon"
)

const sensorAddr = 0x38

func main() {
	time.Sleep(3 * time.Second)
	println("[picobus] configuring i2c0 ...")

	err := machine.I2C0.Configure(machine.I2CConfig{
		Frequency: 400_000,
	})
	if err != nil {
		println("[picobus] i2c configure failed:", err.Error())
		return
	}

	drv := i2cbus.New(machine.I2C0, sensorAddr)
	probe := busmon.NewProbe("i2c0", drv)
	bus := genbus.New(probe)
	if err := bus.Init(); err != nil {
		println("[picobus] bus init failed:", err.Error())
		return
	}

	status := make([]byte, 1)
	cycle := 0
	for {
		cycle++

		// Blocking cycle: read the sensor status register.
		bus.Lock()
		if err := bus.SetBuffers([]byte{0x71}, status); err != nil {
			println("[picobus] set_buffers:", err.Error())
		} else if err := bus.Xfer(); err != nil {
			println("[picobus] xfer:", err.Error())
		} else {
			println("[picobus] status:", status[0])
		}
		bus.Unlock()

		// Async cycle: trigger a measurement, completion via handler.
		bus.Lock()
		if err := bus.SetBuffers([]byte{0xAC, 0x33, 0x00}, nil); err != nil {
			println("[picobus] set_buffers:", err.Error())
			bus.Unlock()
		} else if err := bus.XferAsync(func(ev genbus.Event) {
			// Runs on the bus worker; println only.
			if ev == genbus.EventErr {
				println("[picobus] transfer fault")
			}
		}); err != nil {
			println("[picobus] xfer_async:", err.Error())
			bus.Unlock()
		} else {
			bus.Unlock()
		}

		st := probe.Stats()
		println("[picobus] cycle", cycle,
			"starts:", st.Starts,
			"dones:", st.Dones,
			"errs:", st.ErrEvents)

		time.Sleep(time.Second)
	}
}
