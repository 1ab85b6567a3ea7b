package mcu

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"

	"stepdac/protocol"
)

var (
	// ErrAlreadyConfigured is returned when the MCU holds a different
	// configuration; it has to be reset before it can be configured again.
	ErrAlreadyConfigured = errors.New("mcu already configured")

	// ErrUnknownAddress is returned by Tx for an address not given to
	// NewI2CPassthrough.
	ErrUnknownAddress = errors.New("i2c address not configured on mcu")

	// ErrShortRead is returned when the MCU answers a read with fewer bytes
	// than requested.
	ErrShortRead = errors.New("short i2c read")
)

// I2CPassthrough runs I2C transactions on a bus of the MCU through the
// Klipper i2c commands, one object per device address.
type I2CPassthrough struct {
	mcu  *MCU
	bus  uint32
	rate uint32

	mu   sync.Mutex
	oids map[uint16]uint8
}

// NewI2CPassthrough prepares a passthrough for the given 7-bit addresses.
// Call Configure before the first transaction.
func NewI2CPassthrough(m *MCU, bus, rate uint32, addresses ...uint16) *I2CPassthrough {
	p := &I2CPassthrough{
		mcu:  m,
		bus:  bus,
		rate: rate,
		oids: make(map[uint16]uint8, len(addresses)),
	}
	for _, addr := range addresses {
		if _, dup := p.oids[addr&0x7F]; !dup {
			p.oids[addr&0x7F] = uint8(len(p.oids))
		}
	}
	return p
}

// addresses returns the configured addresses indexed by oid.
func (p *I2CPassthrough) addresses() []uint16 {
	addrs := make([]uint16, len(p.oids))
	for addr, oid := range p.oids {
		addrs[oid] = addr
	}
	return addrs
}

// configLines returns the configuration as text, in oid order. Its CRC
// identifies the configuration on the MCU.
func (p *I2CPassthrough) configLines() []string {
	addrs := p.addresses()
	lines := []string{fmt.Sprintf("allocate_oids count=%d", len(addrs))}
	for oid, addr := range addrs {
		lines = append(lines,
			fmt.Sprintf("config_i2c oid=%d", oid),
			fmt.Sprintf("i2c_set_bus oid=%d i2c_bus=%d rate=%d address=%d", oid, p.bus, p.rate, addr),
		)
	}
	return lines
}

// Configure allocates the i2c objects and finalizes the MCU config. An MCU
// already holding this exact configuration is accepted as is.
func (p *I2CPassthrough) Configure() error {
	lines := p.configLines()
	crc := crc32.ChecksumIEEE([]byte(strings.Join(lines, "\n")))

	resp, err := p.mcu.Query("get_config", nil, "config")
	if err != nil {
		return err
	}
	isConfig, err := protocol.DecodeVLQUint(&resp)
	if err != nil {
		return fmt.Errorf("decode config response: %w", err)
	}
	mcuCRC, err := protocol.DecodeVLQUint(&resp)
	if err != nil {
		return fmt.Errorf("decode config response: %w", err)
	}

	if isConfig != 0 {
		if mcuCRC == crc {
			p.mcu.log.Debug("mcu config unchanged, reusing i2c objects")
			return nil
		}
		return ErrAlreadyConfigured
	}

	if err := p.mcu.SendCommand("allocate_oids", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(len(p.oids)))
	}); err != nil {
		return err
	}

	for oid, addr := range p.addresses() {
		if err := p.mcu.SendCommand("config_i2c", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(oid))
		}); err != nil {
			return err
		}
		if err := p.mcu.SendCommand("i2c_set_bus", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(oid))
			protocol.EncodeVLQUint(output, p.bus)
			protocol.EncodeVLQUint(output, p.rate)
			protocol.EncodeVLQUint(output, uint32(addr))
		}); err != nil {
			return err
		}
	}

	return p.mcu.SendCommand("finalize_config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, crc)
	})
}

// Tx writes w and then, if r is not empty, reads len(r) bytes.
func (p *I2CPassthrough) Tx(addr uint16, w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	oid, ok := p.oids[addr&0x7F]
	if !ok {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownAddress, addr)
	}

	if len(r) == 0 {
		return p.mcu.SendCommand("i2c_write", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(oid))
			protocol.EncodeVLQBytes(output, w)
		})
	}

	resp, err := p.mcu.Query("i2c_read", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQBytes(output, w)
		protocol.EncodeVLQUint(output, uint32(len(r)))
	}, "i2c_read_response")
	if err != nil {
		return err
	}

	if _, err := protocol.DecodeVLQUint(&resp); err != nil {
		return fmt.Errorf("decode i2c_read_response: %w", err)
	}
	data, err := protocol.DecodeVLQBytes(&resp)
	if err != nil {
		return fmt.Errorf("decode i2c_read_response: %w", err)
	}
	if len(data) < len(r) {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrShortRead, len(r), len(data))
	}
	copy(r, data)
	return nil
}
