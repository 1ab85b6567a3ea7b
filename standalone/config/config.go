// Package config loads the stepper DAC configuration file (YAML, or JSON,
// which is a subset of it).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stepdac/core"
)

type Config struct {
	StepperDAC StepperDACConfig `yaml:"stepper_dac"`
	Host       HostConfig       `yaml:"host"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ---- CONVERTER ----

type StepperDACConfig struct {
	I2CBus    uint8  `yaml:"i2c_bus"`    // Bus number on the MCU
	I2CRate   uint32 `yaml:"i2c_rate"`   // Hz
	Address   uint16 `yaml:"address"`    // 7-bit
	Converter string `yaml:"converter"` // Only "mcp4728" for now

	Order          []uint8   `yaml:"order"`           // Channel per axis X, Y, Z, E
	DefaultPercent []float32 `yaml:"default_percent"` // Per axis X, Y, Z, E
	Max            uint16    `yaml:"max"`
	Sense          float32   `yaml:"sense"`
	Vref           string    `yaml:"vref"` // "internal" or "vdd"
	Gain           uint8     `yaml:"gain"` // 1 or 2

	DisablePin *uint32 `yaml:"disable_pin"` // optional
}

// ---- HOST ----

type HostConfig struct {
	I2CDevice    string `yaml:"i2c_device"`    // periph bus name, e.g. "/dev/i2c-1" or "1"
	SerialDevice string `yaml:"serial_device"` // Klipper MCU serial port
	Baud         int    `yaml:"baud"`
}

// ---- TELEMETRY ----

type TelemetryConfig struct {
	RedisAddr  string `yaml:"redis_addr"` // empty disables publishing
	RedisDB    int    `yaml:"redis_db"`
	Key        string `yaml:"key"`     // hash holding the latest report
	Channel    string `yaml:"channel"` // pub/sub channel notified on change
	IntervalMs int    `yaml:"interval_ms"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration data, fills in defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	def := Default()

	dac := &cfg.StepperDAC
	if dac.I2CRate == 0 {
		dac.I2CRate = def.StepperDAC.I2CRate
	}
	if dac.Address == 0 {
		dac.Address = def.StepperDAC.Address
	}
	if dac.Converter == "" {
		dac.Converter = def.StepperDAC.Converter
	}
	if dac.Order == nil {
		dac.Order = def.StepperDAC.Order
	}
	if dac.DefaultPercent == nil {
		dac.DefaultPercent = def.StepperDAC.DefaultPercent
	}
	if dac.Max == 0 {
		dac.Max = def.StepperDAC.Max
	}
	if dac.Sense == 0 {
		dac.Sense = def.StepperDAC.Sense
	}
	if dac.Vref == "" {
		dac.Vref = def.StepperDAC.Vref
	}
	if dac.Gain == 0 {
		dac.Gain = def.StepperDAC.Gain
	}

	if cfg.Host.Baud == 0 {
		cfg.Host.Baud = def.Host.Baud
	}

	tel := &cfg.Telemetry
	if tel.Key == "" {
		tel.Key = def.Telemetry.Key
	}
	if tel.Channel == "" {
		tel.Channel = def.Telemetry.Channel
	}
	if tel.IntervalMs == 0 {
		tel.IntervalMs = def.Telemetry.IntervalMs
	}
}

// Default returns the configuration of an MCP4728 at 0x60 with identity
// wiring and the usual 70/80/90/80 percent drive defaults.
func Default() *Config {
	return &Config{
		StepperDAC: StepperDACConfig{
			I2CRate:        400000,
			Address:        0x60,
			Converter:      "mcp4728",
			Order:          []uint8{0, 1, 2, 3},
			DefaultPercent: []float32{70, 80, 90, 80},
			Max:            4095,
			Sense:          0.11,
			Vref:           "internal",
			Gain:           1,
		},
		Host: HostConfig{
			Baud: 250000,
		},
		Telemetry: TelemetryConfig{
			Key:        "stepper-dac",
			Channel:    "stepper-dac",
			IntervalMs: 1000,
		},
	}
}

// DACConfig converts the validated file section into the controller
// configuration.
func (c *StepperDACConfig) DACConfig() core.DACConfig {
	out := core.DACConfig{
		Max:   c.Max,
		Sense: c.Sense,
	}
	copy(out.Order[:], c.Order)
	copy(out.DefaultPercent[:], c.DefaultPercent)

	for ch := range out.Vref {
		if c.Vref == "vdd" {
			out.Vref[ch] = core.VrefVDD
		} else {
			out.Vref[ch] = core.VrefInternal
		}
		if c.Gain == 2 {
			out.Gain[ch] = core.DACGain2x
		} else {
			out.Gain[ch] = core.DACGain1x
		}
	}

	if c.DisablePin != nil {
		out.DisablePin = core.GPIOPin(*c.DisablePin)
		out.HasDisablePin = true
	}
	return out
}
