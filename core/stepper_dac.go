package core

import "errors"

// Stepper motor current control through a 4-channel current-reference DAC.
// Each stepper driver takes its current limit from one DAC output; the
// controller maps logical axes onto converter channels, converts between
// drive percent and raw codes, and stores a calibrated default in the
// converter's EEPROM when it comes up blank.

var (
	// ErrDACAbsent is returned by Init when the converter does not answer reset.
	ErrDACAbsent = errors.New("stepper DAC not present")

	// ErrInvalidChannelOrder is returned when a channel order is not a
	// permutation of the converter channels.
	ErrInvalidChannelOrder = errors.New("DAC channel order must be a permutation of 0-3")

	// ErrInvalidDACConfig is returned for a zero full scale, a non-positive
	// sense value or a default percent outside [0, 100].
	ErrInvalidDACConfig = errors.New("invalid stepper DAC config")
)

// Axis is a logical motor axis.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisE
)

var axisLabels = [DACChannelCount]string{"X", "Y", "Z", "E"}

// Valid reports whether a is one of the four driven axes.
func (a Axis) Valid() bool {
	return a < DACChannelCount
}

func (a Axis) String() string {
	if !a.Valid() {
		return "?"
	}
	return axisLabels[a]
}

// ChannelOrder maps each axis (by index) to the physical converter channel
// wired to that axis's driver.
type ChannelOrder [DACChannelCount]uint8

// IdentityOrder wires X, Y, Z, E to channels A, B, C, D.
var IdentityOrder = ChannelOrder{0, 1, 2, 3}

// Channel returns the physical channel for an axis.
func (o ChannelOrder) Channel(axis Axis) uint8 {
	return o[axis]
}

// Validate checks that every channel is addressed exactly once.
func (o ChannelOrder) Validate() error {
	var seen [DACChannelCount]bool
	for _, ch := range o {
		if ch >= DACChannelCount || seen[ch] {
			return ErrInvalidChannelOrder
		}
		seen[ch] = true
	}
	return nil
}

// Remap converts an axis-indexed vector into physical channel order.
func (o ChannelOrder) Remap(values [DACChannelCount]float32) [DACChannelCount]float32 {
	var out [DACChannelCount]float32
	for axis, ch := range o {
		out[ch] = values[axis]
	}
	return out
}

// DACConfig is the fixed configuration of a StepperDAC.
type DACConfig struct {
	Order          ChannelOrder
	DefaultPercent [DACChannelCount]float32 // Drive percent per axis (X, Y, Z, E)
	Max            uint16                   // Full-scale raw code
	Sense          float32                  // Sense resistor scaling for amps reporting
	Vref           [DACChannelCount]VrefSource
	Gain           [DACChannelCount]DACGain

	// Optional active-high disable input of the converter, driven low at Init
	DisablePin    GPIOPin
	HasDisablePin bool
}

// DefaultDACConfig returns the configuration of a typical 12-bit converter
// board: identity wiring, internal reference, unity gain.
func DefaultDACConfig() DACConfig {
	return DACConfig{
		Order:          IdentityOrder,
		DefaultPercent: [DACChannelCount]float32{70, 80, 90, 80},
		Max:            4095,
		Sense:          0.11,
		Vref:           [DACChannelCount]VrefSource{VrefInternal, VrefInternal, VrefInternal, VrefInternal},
		Gain:           [DACChannelCount]DACGain{DACGain1x, DACGain1x, DACGain1x, DACGain1x},
	}
}

// Validate checks the configuration without modifying it.
func (c *DACConfig) Validate() error {
	if err := c.Order.Validate(); err != nil {
		return err
	}
	if c.Max == 0 || c.Sense <= 0 {
		return ErrInvalidDACConfig
	}
	for _, pct := range c.DefaultPercent {
		if pct < 0 || pct > 100 {
			return ErrInvalidDACConfig
		}
	}
	return nil
}

// AxisCurrent is one line of a current report.
type AxisCurrent struct {
	Label   string
	Percent float32
	Amps    float32
}

// StepperDAC owns the converter and its presence state.
// It is not safe for concurrent use; call it from the command loop only.
type StepperDAC struct {
	config DACConfig
	driver DACDriver
	gpio   GPIODriver

	present        bool
	channelPercent [DACChannelCount]float32 // Physical channel order
	lastError      error
}

// NewStepperDAC creates a controller. The converter is not touched until Init.
func NewStepperDAC(config DACConfig, driver DACDriver) (*StepperDAC, error) {
	if driver == nil {
		return nil, errors.New("stepper DAC driver is nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if fs, ok := driver.(FullScaleSetter); ok {
		fs.SetFullScale(config.Max)
	}

	return &StepperDAC{
		config:         config,
		driver:         driver,
		channelPercent: config.Order.Remap(config.DefaultPercent),
	}, nil
}

// SetGPIODriver sets the driver used for the disable pin.
func (s *StepperDAC) SetGPIODriver(gpio GPIODriver) {
	s.gpio = gpio
}

// Config returns the controller configuration.
func (s *StepperDAC) Config() DACConfig {
	return s.config
}

// Init resets the converter and loads the default calibration if the
// converter has none. When reset is not acknowledged the controller stays
// absent and every later call is a no-op.
func (s *StepperDAC) Init() error {
	s.present = false
	s.enableConverter()

	if err := s.driver.Reset(); err != nil {
		DebugPrintln("[DAC] reset not acknowledged, current control disabled: " + err.Error())
		return ErrDACAbsent
	}

	s.present = true

	s.check(s.driver.ConfigureVref(s.config.Vref))
	s.check(s.driver.ConfigureGain(s.config.Gain))

	// A blank converter reads (close to) zero on some channel.
	calibrated := true
	for ch := uint8(0); ch < DACChannelCount; ch++ {
		pct, err := s.driver.ReadPercent(ch)
		s.check(err)
		if err != nil || pct < 1 {
			calibrated = false
			break
		}
	}

	if !calibrated {
		DebugPrintln("[DAC] uncalibrated, storing default drive percents")
		s.writeChannels(s.config.Order.Remap(s.config.DefaultPercent))
		s.Commit()
	}

	return nil
}

// enableConverter drives the optional disable pin low.
func (s *StepperDAC) enableConverter() {
	if !s.config.HasDisablePin || s.gpio == nil {
		return
	}
	if err := s.gpio.ConfigureOutput(s.config.DisablePin); err != nil {
		DebugPrintln("[DAC] disable pin: " + err.Error())
		return
	}
	if err := s.gpio.SetPin(s.config.DisablePin, false); err != nil {
		DebugPrintln("[DAC] disable pin: " + err.Error())
	}
}

// Present reports whether Init found the converter.
func (s *StepperDAC) Present() bool {
	return s.present
}

// LastError returns the most recent bus error that was swallowed after Init.
func (s *StepperDAC) LastError() error {
	return s.lastError
}

// TakeLastError returns the most recent swallowed bus error and clears it,
// so each error is seen once.
func (s *StepperDAC) TakeLastError() error {
	err := s.lastError
	s.lastError = nil
	return err
}

// PercentToRaw converts a drive percent into a raw code. Values above 100%
// are capped; the result never leaves [0, Max].
func (s *StepperDAC) PercentToRaw(pct float32) uint16 {
	if pct > 100 {
		pct = 100
	}
	if pct <= 0 {
		return 0
	}
	raw := float64(pct)*0.01*float64(s.config.Max) + 0.5
	if raw >= float64(s.config.Max) {
		return s.config.Max
	}
	return uint16(raw)
}

// SetPercent sets the drive current of one axis as a percentage of full scale.
// Values above 100 are capped and negative values drive the channel to 0.
func (s *StepperDAC) SetPercent(axis Axis, pct float32) {
	if !s.present || !axis.Valid() {
		return
	}

	s.check(s.driver.WriteRaw(s.config.Order.Channel(axis), s.PercentToRaw(pct)))
	s.check(s.driver.Update())
}

// SetRaw sets the drive current of one axis as a raw converter code.
func (s *StepperDAC) SetRaw(axis Axis, value uint16) {
	if !s.present || !axis.Valid() {
		return
	}

	if value > s.config.Max {
		value = s.config.Max
	}

	s.check(s.driver.WriteRaw(s.config.Order.Channel(axis), value))
	s.check(s.driver.Update())
}

// GetPercent reads the drive percent of an axis back from the converter.
func (s *StepperDAC) GetPercent(axis Axis) uint8 {
	if !axis.Valid() {
		return 0
	}
	pct, err := s.driver.ReadPercent(s.config.Order.Channel(axis))
	s.check(err)
	return pct
}

// SetPercents sets all four axes at once from an axis-indexed vector.
func (s *StepperDAC) SetPercents(pct [DACChannelCount]float32) {
	if !s.present {
		return
	}

	for i := range pct {
		if pct[i] > 100 {
			pct[i] = 100
		} else if pct[i] < 0 {
			pct[i] = 0
		}
	}
	s.writeChannels(s.config.Order.Remap(pct))
}

// writeChannels stores and writes a vector already in physical channel order.
func (s *StepperDAC) writeChannels(physical [DACChannelCount]float32) {
	s.channelPercent = physical

	var raw [DACChannelCount]uint16
	for ch, pct := range physical {
		raw[ch] = s.PercentToRaw(pct)
	}
	s.check(s.driver.WriteAll(raw))
}

// ChannelPercents returns the last vector written with SetPercents (or the
// defaults), in physical channel order.
func (s *StepperDAC) ChannelPercents() [DACChannelCount]float32 {
	return s.channelPercent
}

// Percent returns the exact drive percent of an axis from its raw code.
func (s *StepperDAC) Percent(axis Axis) float32 {
	if !axis.Valid() {
		return 0
	}
	raw, err := s.driver.ReadRaw(s.config.Order.Channel(axis))
	s.check(err)
	return 100 * float32(raw) / float32(s.config.Max)
}

// Amps returns the drive current of an axis in amps, computed from the
// read-back percent.
func (s *StepperDAC) Amps(axis Axis) float32 {
	pct := float32(s.GetPercent(axis))
	return pct * float32(s.config.Max) * 0.125 / s.config.Sense
}

// Commit stores the current channel settings in the converter's EEPROM.
func (s *StepperDAC) Commit() {
	if !s.present {
		return
	}
	s.check(s.driver.EEPROMWrite())
}

// Report returns percent and amps for every axis, or nil when absent.
func (s *StepperDAC) Report() []AxisCurrent {
	if !s.present {
		return nil
	}

	report := make([]AxisCurrent, 0, DACChannelCount)
	for axis := AxisX; axis <= AxisE; axis++ {
		report = append(report, AxisCurrent{
			Label:   axis.String(),
			Percent: s.Percent(axis),
			Amps:    s.Amps(axis),
		})
	}
	return report
}

// FormatReport renders a report the way the printer console shows it.
func FormatReport(report []AxisCurrent) string {
	if len(report) == 0 {
		return ""
	}

	line := "echo:Stepper current values in % (Amps):\necho:"
	for _, r := range report {
		line += " " + r.Label + ":" + ftoa(r.Percent, 2) + " (" + ftoa(r.Amps, 2) + ")"
	}
	return line + "\n"
}

// check records a swallowed bus error.
func (s *StepperDAC) check(err error) {
	if err == nil {
		return
	}
	s.lastError = err
	DebugPrintln("[DAC] bus error ignored: " + err.Error())
}
