//go:build rp2040 || rp2350

package main

import (
	"stepdac/core"
)

// Board wiring. The converter sits on I2C0 (GP4/GP5); channels A-D drive
// the X, Y, Z and E driver references.
const (
	dacI2CBus  core.I2CBusID = 0
	dacI2CRate               = 400000
	dacAddress               = 0x60
)

// GPIO tied to the converter's disable input, -1 when not wired
var dacDisablePin = -1

// boardConfig returns the controller configuration of this board.
func boardConfig() core.DACConfig {
	cfg := core.DefaultDACConfig()
	if dacDisablePin >= 0 {
		cfg.DisablePin = core.GPIOPin(dacDisablePin)
		cfg.HasDisablePin = true
	}
	return cfg
}
