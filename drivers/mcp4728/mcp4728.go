// Package mcp4728 drives the Microchip MCP4728 quad 12-bit DAC, the
// converter used to set stepper driver reference currents.
//
// Datasheet: https://ww1.microchip.com/downloads/en/DeviceDoc/22187E.pdf
package mcp4728

import (
	"errors"
	"fmt"

	"stepdac/core"

	"tinygo.org/x/drivers"
)

// Address is the default 7-bit I2C address (A2..A0 = 000).
const Address = 0x60

// MaxValue is the full-scale raw code.
const MaxValue = 4095

const (
	generalCallAddress = 0x00

	cmdGeneralReset  = 0x06
	cmdGeneralUpdate = 0x08
	cmdVrefWrite     = 0x80 // 1 0 0 X VA VB VC VD
	cmdGainWrite     = 0xC0 // 1 1 0 X GA GB GC GD
	cmdSeqWrite      = 0x50 // 0 1 0 1 0 DAC1 DAC0 UDAC, starting at channel A

	registerDumpLen = 24 // 4 channels x (input register + EEPROM) x 3 bytes
)

var (
	// ErrNoAck is returned when the device does not acknowledge a command.
	ErrNoAck = errors.New("mcp4728: no acknowledge")

	// ErrInvalidChannel is returned for channel numbers above 3.
	ErrInvalidChannel = errors.New("mcp4728: invalid channel")
)

// Bus is the I2C transaction primitive the device needs.
// It is implemented by machine.I2C, drivers.I2C and periph's i2c.Bus.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

var _ Bus = drivers.I2C(nil)

// Device is an MCP4728 on an I2C bus. Channel values are shadowed locally,
// so reads do not touch the bus.
type Device struct {
	bus     Bus
	Address uint16

	fullScale uint16 // code read back as 100%

	values [core.DACChannelCount]uint16
	vref   [core.DACChannelCount]core.VrefSource
	gain   [core.DACChannelCount]core.DACGain
}

var (
	_ core.DACDriver       = (*Device)(nil)
	_ core.FullScaleSetter = (*Device)(nil)
)

// New creates a new MCP4728 connection. The I2C bus must already be
// configured.
func New(bus Bus) *Device {
	return &Device{
		bus:       bus,
		Address:   Address,
		fullScale: MaxValue,
	}
}

// SetFullScale sets the code ReadPercent reports as 100%. Zero or values
// above MaxValue select MaxValue.
func (d *Device) SetFullScale(max uint16) {
	if max == 0 || max > MaxValue {
		max = MaxValue
	}
	d.fullScale = max
}

// Reset issues a general call reset, which reloads the input registers from
// EEPROM, then reads the stored channel settings into the shadow.
func (d *Device) Reset() error {
	if err := d.bus.Tx(generalCallAddress, []byte{cmdGeneralReset}, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrNoAck, err)
	}
	return d.readRegisters()
}

// readRegisters loads the EEPROM half of the register dump.
func (d *Device) readRegisters() error {
	buf := make([]byte, registerDumpLen)
	if err := d.bus.Tx(d.Address, nil, buf); err != nil {
		return err
	}

	for i := 0; i < registerDumpLen/3; i++ {
		info, hi, lo := buf[i*3], buf[i*3+1], buf[i*3+2]
		if i%2 == 0 {
			continue // input register, EEPROM follows
		}
		ch := (info >> 4) & 0x03
		d.values[ch] = uint16(hi&0x0F)<<8 | uint16(lo)
		d.vref[ch] = core.VrefSource(hi >> 7)
		d.gain[ch] = core.DACGain((hi >> 4) & 0x01)
	}
	return nil
}

// ConfigureVref selects the voltage reference of all channels.
func (d *Device) ConfigureVref(vref [core.DACChannelCount]core.VrefSource) error {
	cmd := byte(cmdVrefWrite)
	for ch, v := range vref {
		if v == core.VrefInternal {
			cmd |= 1 << (3 - ch)
		}
	}
	if err := d.bus.Tx(d.Address, []byte{cmd}, nil); err != nil {
		return err
	}
	d.vref = vref
	return nil
}

// ConfigureGain selects the gain of all channels.
func (d *Device) ConfigureGain(gain [core.DACChannelCount]core.DACGain) error {
	cmd := byte(cmdGainWrite)
	for ch, g := range gain {
		if g == core.DACGain2x {
			cmd |= 1 << (3 - ch)
		}
	}
	if err := d.bus.Tx(d.Address, []byte{cmd}, nil); err != nil {
		return err
	}
	d.gain = gain
	return nil
}

// WriteRaw sets one channel and fast-writes all four.
func (d *Device) WriteRaw(channel uint8, value uint16) error {
	if channel >= core.DACChannelCount {
		return ErrInvalidChannel
	}
	if value > MaxValue {
		value = MaxValue
	}
	d.values[channel] = value
	return d.fastWrite()
}

// WriteAll sets all four channels with a single fast write.
func (d *Device) WriteAll(values [core.DACChannelCount]uint16) error {
	for ch, v := range values {
		if v > MaxValue {
			v = MaxValue
		}
		d.values[ch] = v
	}
	return d.fastWrite()
}

// fastWrite sends the shadow values of channels A-D, power-down bits cleared.
func (d *Device) fastWrite() error {
	buf := make([]byte, 0, 2*core.DACChannelCount)
	for _, v := range d.values {
		buf = append(buf, byte(v>>8)&0x0F, byte(v))
	}
	return d.bus.Tx(d.Address, buf, nil)
}

// ReadRaw returns the shadow value of a channel.
func (d *Device) ReadRaw(channel uint8) (uint16, error) {
	if channel >= core.DACChannelCount {
		return 0, ErrInvalidChannel
	}
	return d.values[channel], nil
}

// ReadPercent returns the shadow value of a channel in whole percent of the
// full scale.
func (d *Device) ReadPercent(channel uint8) (uint8, error) {
	raw, err := d.ReadRaw(channel)
	if err != nil {
		return 0, err
	}
	return uint8(100*float32(raw)/float32(d.fullScale) + 0.5), nil
}

// Update latches the input registers into the outputs (general call).
func (d *Device) Update() error {
	return d.bus.Tx(generalCallAddress, []byte{cmdGeneralUpdate}, nil)
}

// EEPROMWrite stores values, reference and gain of all channels in EEPROM.
func (d *Device) EEPROMWrite() error {
	buf := make([]byte, 0, 1+2*core.DACChannelCount)
	buf = append(buf, cmdSeqWrite)
	for ch, v := range d.values {
		hi := byte(d.vref[ch])<<7 | byte(d.gain[ch])<<4 | byte(v>>8)&0x0F
		buf = append(buf, hi, byte(v))
	}
	return d.bus.Tx(d.Address, buf, nil)
}
