//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"
	"sync"

	"stepdac/core"
)

var (
	errI2CBusUnsupported   = errors.New("unsupported I2C bus ID")
	errI2CBusNotConfigured = errors.New("I2C bus not configured")
)

// RPI2CDriver implements core.I2CDriver on the RP2040/RP2350 I2C blocks.
type RPI2CDriver struct {
	mu sync.Mutex

	// I2C0 and I2C1, once configured
	buses map[core.I2CBusID]*machine.I2C
}

// NewRPI2CDriver constructs the driver
func NewRPI2CDriver() *RPI2CDriver {
	return &RPI2CDriver{
		buses: make(map[core.I2CBusID]*machine.I2C),
	}
}

// ConfigureBus initializes a bus on its default pins (I2C0: SDA=GP4
// SCL=GP5, I2C1: SDA=GP6 SCL=GP7). A configured bus only changes rate.
func (d *RPI2CDriver) ConfigureBus(bus core.I2CBusID, frequencyHz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i2c, ok := d.buses[bus]; ok {
		return i2c.SetBaudRate(frequencyHz)
	}

	var i2c *machine.I2C
	switch bus {
	case 0:
		i2c = machine.I2C0
	case 1:
		i2c = machine.I2C1
	default:
		return errI2CBusUnsupported
	}

	if err := i2c.Configure(machine.I2CConfig{Frequency: frequencyHz}); err != nil {
		return err
	}

	d.buses[bus] = i2c
	return nil
}

// Write transmits data to a device on the given bus.
func (d *RPI2CDriver) Write(bus core.I2CBusID, addr core.I2CAddress, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i2c, ok := d.buses[bus]
	if !ok {
		return errI2CBusNotConfigured
	}
	return i2c.Tx(uint16(addr), data, nil)
}

// Read reads readLen bytes from a device, writing regData first (with a
// repeated start) when it is not empty.
func (d *RPI2CDriver) Read(bus core.I2CBusID, addr core.I2CAddress, regData []byte, readLen uint8) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i2c, ok := d.buses[bus]
	if !ok {
		return nil, errI2CBusNotConfigured
	}

	readBuf := make([]byte, readLen)
	if err := i2c.Tx(uint16(addr), regData, readBuf); err != nil {
		return nil, err
	}
	return readBuf, nil
}
