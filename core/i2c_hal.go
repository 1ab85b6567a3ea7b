package core

// I2CBusID identifies a specific I2C bus (e.g., I2C0, I2C1).
type I2CBusID uint8

// I2CAddress is a 7-bit I2C device address.
type I2CAddress uint8

// I2CDriver is the abstract I2C interface that core code uses.
type I2CDriver interface {
	// ConfigureBus initializes a specific I2C bus with the given frequency.
	// Returns error if bus ID is invalid or configuration fails.
	ConfigureBus(bus I2CBusID, frequencyHz uint32) error

	// Write transmits data to a device at the given address on the specified bus.
	Write(bus I2CBusID, addr I2CAddress, data []byte) error

	// Read reads data from a device, optionally writing a register address first.
	// If regData is non-empty, it's transmitted before the read (restart in between).
	Read(bus I2CBusID, addr I2CAddress, regData []byte, readLen uint8) ([]byte, error)
}

// I2CBus binds an I2CDriver to one bus and exposes it with the Tx signature
// used by device drivers (machine.I2C, tinygo drivers.I2C, periph i2c.Bus).
type I2CBus struct {
	Driver I2CDriver
	Bus    I2CBusID
}

// NewI2CBus returns an I2CBus for the given driver and bus.
func NewI2CBus(driver I2CDriver, bus I2CBusID) *I2CBus {
	return &I2CBus{Driver: driver, Bus: bus}
}

// Tx performs a write, a read, or a write followed by a read.
// Read data is copied into r.
func (b *I2CBus) Tx(addr uint16, w, r []byte) error {
	address := I2CAddress(addr & 0x7F)

	if len(r) == 0 {
		return b.Driver.Write(b.Bus, address, w)
	}

	data, err := b.Driver.Read(b.Bus, address, w, uint8(len(r)))
	if err != nil {
		return err
	}
	copy(r, data)
	return nil
}
