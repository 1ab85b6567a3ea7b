package config

import (
	"fmt"

	"stepdac/core"
)

// converterMax is the full-scale code of each supported converter.
var converterMax = map[string]uint16{
	"mcp4728": 4095,
}

// Validate checks configuration correctness.
// It does not mutate the configuration.
func Validate(cfg *Config) error {
	dac := &cfg.StepperDAC

	limit, ok := converterMax[dac.Converter]
	if !ok {
		return fmt.Errorf("stepper_dac: unsupported converter %q", dac.Converter)
	}
	if dac.Address > 0x7F {
		return fmt.Errorf("stepper_dac: address 0x%x is not a 7-bit I2C address", dac.Address)
	}

	if len(dac.Order) != core.DACChannelCount {
		return fmt.Errorf("stepper_dac: order needs %d entries, got %d", core.DACChannelCount, len(dac.Order))
	}
	if len(dac.DefaultPercent) != core.DACChannelCount {
		return fmt.Errorf("stepper_dac: default_percent needs %d entries, got %d", core.DACChannelCount, len(dac.DefaultPercent))
	}
	if dac.Max > limit {
		return fmt.Errorf("stepper_dac: max %d exceeds %s full scale %d", dac.Max, dac.Converter, limit)
	}

	switch dac.Vref {
	case "internal", "vdd":
	default:
		return fmt.Errorf("stepper_dac: vref must be \"internal\" or \"vdd\", got %q", dac.Vref)
	}

	switch dac.Gain {
	case 1:
	case 2:
		// x2 gain only applies to the internal reference
		if dac.Vref != "internal" {
			return fmt.Errorf("stepper_dac: gain 2 requires vref \"internal\"")
		}
	default:
		return fmt.Errorf("stepper_dac: gain must be 1 or 2, got %d", dac.Gain)
	}

	// Order, percent range, max and sense are checked by the controller.
	dacCfg := dac.DACConfig()
	if err := dacCfg.Validate(); err != nil {
		return fmt.Errorf("stepper_dac: %w", err)
	}

	if cfg.Telemetry.IntervalMs < 0 {
		return fmt.Errorf("telemetry: interval_ms must not be negative")
	}

	return nil
}
