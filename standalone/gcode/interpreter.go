package gcode

import (
	"errors"

	"stepdac/core"
)

// ErrInvalidAxis is returned by M908 when P does not name one of the four axes.
var ErrInvalidAxis = errors.New("gcode: M908 requires P0-P3")

// axisWords are the parameter letters of the driven axes, in axis order.
var axisWords = [core.DACChannelCount]byte{'X', 'Y', 'Z', 'E'}

// CurrentControl is the part of the stepper DAC controller the interpreter drives.
type CurrentControl interface {
	SetPercent(axis core.Axis, pct float32)
	SetRaw(axis core.Axis, value uint16)
	Commit()
	Report() []core.AxisCurrent
}

var _ CurrentControl = (*core.StepperDAC)(nil)

// Interpreter executes the drive current M-codes:
//
//	M907 [S<pct>] [X<pct>] [Y<pct>] [Z<pct>] [E<pct>]  set drive percent
//	M908 P<axis> S<raw>                                  set raw converter code
//	M909                                                 report currents
//	M910                                                 store currents in EEPROM
//
// Other commands are accepted and ignored.
type Interpreter struct {
	dac    CurrentControl
	output func(string)
}

// NewInterpreter creates an interpreter. Report text is passed to output.
func NewInterpreter(dac CurrentControl, output func(string)) *Interpreter {
	if output == nil {
		output = func(string) {}
	}
	return &Interpreter{
		dac:    dac,
		output: output,
	}
}

// Execute executes a parsed G-code command
func (interp *Interpreter) Execute(cmd *Command) error {
	if cmd == nil || cmd.Type != 'M' {
		return nil
	}

	switch cmd.Number {
	case 907:
		interp.setPercents(cmd)
	case 908:
		return interp.setRaw(cmd)
	case 909:
		interp.output(core.FormatReport(interp.dac.Report()))
	case 910:
		interp.dac.Commit()
	}

	return nil
}

// setPercents applies S to every axis, then per-axis words on top.
func (interp *Interpreter) setPercents(cmd *Command) {
	if cmd.HasParameter('S') {
		pct := float32(cmd.GetParameter('S', 0))
		for axis := core.AxisX; axis <= core.AxisE; axis++ {
			interp.dac.SetPercent(axis, pct)
		}
	}

	for i, word := range axisWords {
		if cmd.HasParameter(word) {
			interp.dac.SetPercent(core.Axis(i), float32(cmd.GetParameter(word, 0)))
		}
	}
}

func (interp *Interpreter) setRaw(cmd *Command) error {
	p := cmd.GetParameter('P', -1)
	if p < 0 || p >= core.DACChannelCount || p != float64(int(p)) {
		return ErrInvalidAxis
	}

	s := cmd.GetParameter('S', 0)
	var raw uint16
	switch {
	case s <= 0:
		raw = 0
	case s >= 0xFFFF:
		raw = 0xFFFF
	default:
		raw = uint16(s)
	}

	interp.dac.SetRaw(core.Axis(p), raw)
	return nil
}
