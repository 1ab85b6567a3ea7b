package main

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"

	"stepdac/drivers/mcp4728"
	"stepdac/host/i2chost"
	"stepdac/host/mcu"
	"stepdac/host/serial"
	"stepdac/standalone/config"
)

// converterBus is the I2C bus the converter hangs off, plus what has to be
// closed when done.
type converterBus interface {
	mcp4728.Bus
	io.Closer
}

// mcuBus runs the converter through the i2c commands of a Klipper MCU
type mcuBus struct {
	*mcu.I2CPassthrough
	mcu *mcu.MCU
}

func (b *mcuBus) Close() error {
	return b.mcu.Close()
}

// openBus picks the host I2C bus when one is configured, the MCU otherwise.
func openBus(cfg *config.Config, log *pterm.Logger) (converterBus, error) {
	if cfg.Host.I2CDevice != "" {
		bus, err := i2chost.Open(cfg.Host.I2CDevice, 0)
		if err != nil {
			return nil, err
		}
		// Many kernel buses have a fixed clock; keep going at the default
		if rate := cfg.StepperDAC.I2CRate; rate != 0 {
			if err := bus.SetSpeed(rate); err != nil {
				log.Warn("keeping default i2c rate", log.Args("rate", rate, "error", err))
			}
		}
		log.Info("using host i2c bus", log.Args("bus", bus.String()))
		return bus, nil
	}

	if cfg.Host.SerialDevice == "" {
		return nil, fmt.Errorf("no i2c device or mcu serial device configured")
	}

	serialCfg := serial.DefaultConfig(cfg.Host.SerialDevice)
	serialCfg.Baud = cfg.Host.Baud

	m, err := mcu.Connect(serialCfg)
	if err != nil {
		return nil, err
	}
	m.SetLogger(log)

	if err := m.RetrieveDictionary(); err != nil {
		m.Close()
		return nil, err
	}

	dac := cfg.StepperDAC
	// The general call address carries reset and update
	p := mcu.NewI2CPassthrough(m, uint32(dac.I2CBus), dac.I2CRate, dac.Address, 0x00)
	if err := p.Configure(); err != nil {
		m.Close()
		return nil, fmt.Errorf("configure mcu i2c: %w", err)
	}

	log.Info("using mcu i2c bus",
		log.Args(
			"device", cfg.Host.SerialDevice,
			"bus", dac.I2CBus,
			"rate", dac.I2CRate,
		))
	return &mcuBus{I2CPassthrough: p, mcu: m}, nil
}
