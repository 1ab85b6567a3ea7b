// Package i2chost opens a Linux I2C bus through periph.io so the stepper
// DAC can be driven from a single-board computer without an MCU in between.
package i2chost

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var initOnce struct {
	sync.Once
	err error
}

// Bus is an open host I2C bus
type Bus struct {
	bus  i2c.BusCloser
	name string
}

// Open initializes the periph host drivers and opens the named bus ("" for
// the first one, "1" or "/dev/i2c-1" for a specific one). A rate of zero
// keeps the kernel default.
func Open(name string, rateHz uint32) (*Bus, error) {
	initOnce.Do(func() {
		_, initOnce.err = host.Init()
	})
	if initOnce.err != nil {
		return nil, fmt.Errorf("periph host init: %w", initOnce.err)
	}

	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}

	bus := Wrap(b, name)
	if rateHz != 0 {
		if err := bus.SetSpeed(rateHz); err != nil {
			b.Close()
			return nil, err
		}
	}

	return bus, nil
}

// Wrap adapts an already open periph bus.
func Wrap(b i2c.BusCloser, name string) *Bus {
	return &Bus{bus: b, name: name}
}

// Tx runs one combined write/read transaction.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}

// SetSpeed changes the bus clock. Kernel sysfs buses without a speed hook
// refuse it.
func (b *Bus) SetSpeed(rateHz uint32) error {
	if err := b.bus.SetSpeed(physic.Frequency(rateHz) * physic.Hertz); err != nil {
		return fmt.Errorf("set i2c speed on %s: %w", b, err)
	}
	return nil
}

// Close releases the bus.
func (b *Bus) Close() error {
	return b.bus.Close()
}

func (b *Bus) String() string {
	if b.name == "" {
		return b.bus.String()
	}
	return b.name
}
