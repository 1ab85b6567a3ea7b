//go:build rp2040 || rp2350

package main

import (
	"machine"
	"time"

	"stepdac/core"
	"stepdac/drivers/mcp4728"
	"stepdac/standalone"
)

var (
	// USB connection state tracking
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear any watchdog state left from before the reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()

	// Debug lines go out as console echoes, off unless enabled at build time
	core.SetDebugWriter(func(msg string) {
		USBWriteBytes([]byte("echo:" + msg + "\n"))
	})

	i2cDriver := NewRPI2CDriver()
	if err := i2cDriver.ConfigureBus(dacI2CBus, dacI2CRate); err != nil {
		blinkForever(100 * time.Millisecond)
	}

	dev := mcp4728.New(core.NewI2CBus(i2cDriver, dacI2CBus))
	dev.Address = dacAddress

	manager, err := standalone.NewManagerWithConfig(boardConfig(), dev)
	if err != nil {
		blinkForever(100 * time.Millisecond)
	}
	if err := manager.Initialize(NewRPGPIODriver()); err != nil {
		blinkForever(100 * time.Millisecond)
	}
	if err := manager.Start(); err != nil {
		blinkForever(500 * time.Millisecond)
	}

	ledBlink(3)

	for {
		for USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				break
			}
			if usbWasDisconnected {
				// Drop the partial line and stale output of the old session
				usbWasDisconnected = false
				manager.Stop()
				manager.GetOutput()
				manager.Start()
			}
			manager.ProcessByte(b)
		}

		writeUSB(manager.GetOutput())

		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB sends pending output, giving up on a host that stopped reading.
func writeUSB(data []byte) {
	written := 0
	for written < len(data) {
		n, err := USBWriteBytes(data[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
}

func ledBlink(count int) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for i := 0; i < count; i++ {
		led.High()
		time.Sleep(200 * time.Millisecond)
		led.Low()
		time.Sleep(200 * time.Millisecond)
	}
}

// blinkForever signals a fatal startup error
func blinkForever(period time.Duration) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(period)
		led.Low()
		time.Sleep(period)
	}
}
