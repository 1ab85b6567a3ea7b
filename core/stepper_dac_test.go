package core

import (
	"errors"
	"strings"
	"testing"
)

// fakeDAC records every converter transaction.
type fakeDAC struct {
	resetErr error
	writeErr error

	values [DACChannelCount]uint16
	vref   [DACChannelCount]VrefSource
	gain   [DACChannelCount]DACGain

	fullScale uint16 // set through SetFullScale, 4095 when zero

	ops     []string
	writes  []uint16 // raw values passed to WriteRaw
	bulk    [][DACChannelCount]uint16
	updates int
	eeprom  [][DACChannelCount]uint16 // snapshot per EEPROMWrite
}

func (f *fakeDAC) Reset() error {
	f.ops = append(f.ops, "reset")
	return f.resetErr
}

func (f *fakeDAC) ConfigureVref(vref [DACChannelCount]VrefSource) error {
	f.ops = append(f.ops, "vref")
	f.vref = vref
	return nil
}

func (f *fakeDAC) ConfigureGain(gain [DACChannelCount]DACGain) error {
	f.ops = append(f.ops, "gain")
	f.gain = gain
	return nil
}

func (f *fakeDAC) WriteRaw(channel uint8, value uint16) error {
	f.ops = append(f.ops, "write"+itoa(int(channel)))
	f.writes = append(f.writes, value)
	if f.writeErr != nil {
		return f.writeErr
	}
	f.values[channel] = value
	return nil
}

func (f *fakeDAC) WriteAll(values [DACChannelCount]uint16) error {
	f.ops = append(f.ops, "writeall")
	f.bulk = append(f.bulk, values)
	f.values = values
	return nil
}

func (f *fakeDAC) ReadRaw(channel uint8) (uint16, error) {
	f.ops = append(f.ops, "readraw")
	return f.values[channel], nil
}

func (f *fakeDAC) ReadPercent(channel uint8) (uint8, error) {
	f.ops = append(f.ops, "readpct")
	max := float32(4095)
	if f.fullScale != 0 {
		max = float32(f.fullScale)
	}
	return uint8(100*float32(f.values[channel])/max + 0.5), nil
}

func (f *fakeDAC) SetFullScale(max uint16) {
	f.fullScale = max
}

func (f *fakeDAC) Update() error {
	f.ops = append(f.ops, "update")
	f.updates++
	return nil
}

func (f *fakeDAC) EEPROMWrite() error {
	f.ops = append(f.ops, "eeprom")
	f.eeprom = append(f.eeprom, f.values)
	return nil
}

// calibratedDAC returns a fake whose channels already hold a calibration.
func calibratedDAC() *fakeDAC {
	return &fakeDAC{values: [DACChannelCount]uint16{2000, 2000, 2000, 2000}}
}

func newTestDAC(t *testing.T, cfg DACConfig, dac *fakeDAC) *StepperDAC {
	t.Helper()
	s, err := NewStepperDAC(cfg, dac)
	if err != nil {
		t.Fatalf("NewStepperDAC failed: %v", err)
	}
	return s
}

func TestChannelOrderValidate(t *testing.T) {
	tests := []struct {
		order ChannelOrder
		valid bool
	}{
		{ChannelOrder{0, 1, 2, 3}, true},
		{ChannelOrder{2, 0, 3, 1}, true},
		{ChannelOrder{3, 2, 1, 0}, true},
		{ChannelOrder{0, 0, 2, 3}, false},
		{ChannelOrder{0, 1, 2, 4}, false},
		{ChannelOrder{1, 1, 1, 1}, false},
	}

	for _, test := range tests {
		err := test.order.Validate()
		if test.valid && err != nil {
			t.Errorf("order %v: unexpected error %v", test.order, err)
		}
		if !test.valid && err != ErrInvalidChannelOrder {
			t.Errorf("order %v: expected ErrInvalidChannelOrder, got %v", test.order, err)
		}
	}
}

func TestNewStepperDACRejectsBadConfig(t *testing.T) {
	cfg := DefaultDACConfig()
	cfg.Order = ChannelOrder{0, 1, 1, 3}
	if _, err := NewStepperDAC(cfg, &fakeDAC{}); err == nil {
		t.Error("Expected error for duplicate channel")
	}

	cfg = DefaultDACConfig()
	cfg.Sense = 0
	if _, err := NewStepperDAC(cfg, &fakeDAC{}); err == nil {
		t.Error("Expected error for zero sense")
	}

	cfg = DefaultDACConfig()
	cfg.DefaultPercent[AxisE] = 120
	if _, err := NewStepperDAC(cfg, &fakeDAC{}); err == nil {
		t.Error("Expected error for default above 100%")
	}

	if _, err := NewStepperDAC(DefaultDACConfig(), nil); err == nil {
		t.Error("Expected error for nil driver")
	}
}

func TestInitAbsentMakesEverythingInert(t *testing.T) {
	dac := &fakeDAC{resetErr: errors.New("nack")}
	s := newTestDAC(t, DefaultDACConfig(), dac)

	err := s.Init()
	if !errors.Is(err, ErrDACAbsent) {
		t.Fatalf("Expected ErrDACAbsent, got %v", err)
	}
	if s.Present() {
		t.Fatal("Controller should not be present after failed reset")
	}

	before := len(dac.ops)
	s.SetPercent(AxisX, 50)
	s.SetRaw(AxisY, 1000)
	s.SetPercents([DACChannelCount]float32{10, 20, 30, 40})
	s.Commit()

	if len(dac.ops) != before {
		t.Errorf("Expected no bus transactions while absent, got %v", dac.ops[before:])
	}
	if s.Report() != nil {
		t.Error("Report should be empty while absent")
	}
}

func TestInitCalibratedConverter(t *testing.T) {
	dac := calibratedDAC()
	cfg := DefaultDACConfig()
	cfg.Gain[AxisZ] = DACGain2x
	s := newTestDAC(t, cfg, dac)

	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !s.Present() {
		t.Fatal("Controller should be present")
	}
	if dac.vref != cfg.Vref || dac.gain != cfg.Gain {
		t.Errorf("Reference/gain not configured: vref=%v gain=%v", dac.vref, dac.gain)
	}
	if len(dac.bulk) != 0 || len(dac.eeprom) != 0 {
		t.Errorf("Calibrated converter must not be rewritten: bulk=%v eeprom=%v", dac.bulk, dac.eeprom)
	}
}

func TestInitUncalibratedWritesDefaultsOnce(t *testing.T) {
	dac := calibratedDAC()
	dac.values[2] = 10 // reads back as 0%

	cfg := DefaultDACConfig()
	cfg.Order = ChannelOrder{2, 0, 3, 1}
	s := newTestDAC(t, cfg, dac)

	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if len(dac.bulk) != 1 {
		t.Fatalf("Expected exactly one bulk write, got %d", len(dac.bulk))
	}
	if len(dac.eeprom) != 1 {
		t.Fatalf("Expected exactly one EEPROM write, got %d", len(dac.eeprom))
	}

	// Defaults X=70 Y=80 Z=90 E=80 land on channels 2, 0, 3, 1.
	want := [DACChannelCount]uint16{
		s.PercentToRaw(80), // Y
		s.PercentToRaw(80), // E
		s.PercentToRaw(70), // X
		s.PercentToRaw(90), // Z
	}
	if dac.bulk[0] != want {
		t.Errorf("Expected bulk write %v, got %v", want, dac.bulk[0])
	}
	if dac.eeprom[0] != want {
		t.Errorf("Expected persisted %v, got %v", want, dac.eeprom[0])
	}
}

func TestSetPercentClampsAndLatches(t *testing.T) {
	tests := []struct {
		pct  float32
		want uint16
	}{
		{0, 0},
		{50, 2048},
		{100, 4095},
		{150, 4095},
		{1e6, 4095},
		{-5, 0},
	}

	for _, test := range tests {
		dac := calibratedDAC()
		s := newTestDAC(t, DefaultDACConfig(), dac)
		if err := s.Init(); err != nil {
			t.Fatalf("Init failed: %v", err)
		}

		s.SetPercent(AxisX, test.pct)
		if len(dac.writes) != 1 || dac.writes[0] != test.want {
			t.Errorf("SetPercent(%v): expected raw %d, got %v", test.pct, test.want, dac.writes)
		}
		if dac.updates != 1 {
			t.Errorf("SetPercent(%v): expected one update latch, got %d", test.pct, dac.updates)
		}
	}
}

func TestSetRawClamps(t *testing.T) {
	dac := calibratedDAC()
	cfg := DefaultDACConfig()
	cfg.Order = ChannelOrder{3, 2, 1, 0}
	s := newTestDAC(t, cfg, dac)
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	s.SetRaw(AxisX, 60000)
	s.SetRaw(AxisE, 1234)

	if dac.writes[0] != 4095 || dac.writes[1] != 1234 {
		t.Errorf("Unexpected raw writes %v", dac.writes)
	}
	if dac.values[3] != 4095 || dac.values[0] != 1234 {
		t.Errorf("Raw writes did not follow channel order: %v", dac.values)
	}
	if dac.updates != 2 {
		t.Errorf("Expected two update latches, got %d", dac.updates)
	}
}

func TestSetPercentsFollowsChannelOrder(t *testing.T) {
	dac := calibratedDAC()
	cfg := DefaultDACConfig()
	cfg.Order = ChannelOrder{2, 0, 3, 1}
	s := newTestDAC(t, cfg, dac)
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	s.SetPercents([DACChannelCount]float32{10, 20, 30, 40})

	wantPct := [DACChannelCount]float32{20, 40, 10, 30}
	if got := s.ChannelPercents(); got != wantPct {
		t.Errorf("Expected channel percents %v, got %v", wantPct, got)
	}

	if len(dac.bulk) != 1 {
		t.Fatalf("Expected one bulk write, got %d", len(dac.bulk))
	}
	want := [DACChannelCount]uint16{
		s.PercentToRaw(20), s.PercentToRaw(40), s.PercentToRaw(10), s.PercentToRaw(30),
	}
	if dac.bulk[0] != want {
		t.Errorf("Expected bulk write %v, got %v", want, dac.bulk[0])
	}
}

func TestAmpsUsesReadBackPercent(t *testing.T) {
	dac := calibratedDAC()
	s := newTestDAC(t, DefaultDACConfig(), dac)
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	s.SetPercent(AxisX, 50)
	if dac.values[0] != 2048 {
		t.Fatalf("Expected raw 2048, got %d", dac.values[0])
	}

	if pct := s.GetPercent(AxisX); pct != 50 {
		t.Errorf("Expected read-back 50%%, got %d", pct)
	}

	want := float32(50) * 4095 * 0.125 / float32(0.11)
	if got := s.Amps(AxisX); got != want {
		t.Errorf("Expected %f amps, got %f", want, got)
	}

	// Exact percent comes from the raw code, not the commanded value.
	wantPct := 100 * float32(2048) / 4095
	if got := s.Percent(AxisX); got != wantPct {
		t.Errorf("Expected %f%%, got %f", wantPct, got)
	}
}

func TestReducedFullScale(t *testing.T) {
	cfg := DefaultDACConfig()
	cfg.Max = 2000
	dac := calibratedDAC()
	s := newTestDAC(t, cfg, dac)

	if dac.fullScale != 2000 {
		t.Fatalf("Expected driver full scale 2000, got %d", dac.fullScale)
	}
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if len(dac.eeprom) != 0 {
		t.Errorf("Calibrated converter should not be rewritten, got %d commits", len(dac.eeprom))
	}

	s.SetPercent(AxisX, 50)
	if dac.values[0] != 1000 {
		t.Fatalf("Expected raw 1000, got %d", dac.values[0])
	}
	if pct := s.GetPercent(AxisX); pct != 50 {
		t.Errorf("Expected read-back 50%%, got %d", pct)
	}
	if got := s.Percent(AxisX); got != 50 {
		t.Errorf("Expected exact 50%%, got %f", got)
	}

	want := float32(50) * 2000 * 0.125 / float32(0.11)
	if got := s.Amps(AxisX); got != want {
		t.Errorf("Expected %f amps, got %f", want, got)
	}
}

func TestTakeLastErrorClears(t *testing.T) {
	dac := calibratedDAC()
	s := newTestDAC(t, DefaultDACConfig(), dac)
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	dac.writeErr = errors.New("nack")
	s.SetPercent(AxisY, 10)
	if err := s.TakeLastError(); err == nil {
		t.Fatal("Expected the swallowed bus error")
	}
	if err := s.TakeLastError(); err != nil {
		t.Errorf("Expected error to be cleared, got %v", err)
	}

	dac.writeErr = nil
	s.SetPercent(AxisY, 10)
	if err := s.LastError(); err != nil {
		t.Errorf("Expected no error after a clean write, got %v", err)
	}
}

func TestCommitIdempotent(t *testing.T) {
	dac := calibratedDAC()
	s := newTestDAC(t, DefaultDACConfig(), dac)
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	s.Commit()
	s.Commit()

	if len(dac.eeprom) != 2 {
		t.Fatalf("Expected two EEPROM writes, got %d", len(dac.eeprom))
	}
	if dac.eeprom[0] != dac.eeprom[1] {
		t.Errorf("Repeated commit changed persisted data: %v vs %v", dac.eeprom[0], dac.eeprom[1])
	}
}

func TestBusErrorsAreSwallowed(t *testing.T) {
	dac := calibratedDAC()
	s := newTestDAC(t, DefaultDACConfig(), dac)
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	busErr := errors.New("bus stuck")
	dac.writeErr = busErr
	s.SetPercent(AxisY, 40)

	if s.LastError() != busErr {
		t.Errorf("Expected LastError to record the bus error, got %v", s.LastError())
	}
	if dac.updates != 1 {
		t.Errorf("Update latch should still be issued after a failed write, got %d", dac.updates)
	}
	if !s.Present() {
		t.Error("A bus error after Init must not change presence")
	}
}

type fakeGPIO struct {
	configured []GPIOPin
	levels     map[GPIOPin]bool
}

func (g *fakeGPIO) ConfigureOutput(pin GPIOPin) error {
	g.configured = append(g.configured, pin)
	return nil
}

func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) error {
	if g.levels == nil {
		g.levels = make(map[GPIOPin]bool)
	}
	g.levels[pin] = value
	return nil
}

func TestInitDrivesDisablePinLow(t *testing.T) {
	cfg := DefaultDACConfig()
	cfg.DisablePin = 25
	cfg.HasDisablePin = true

	gpio := &fakeGPIO{levels: map[GPIOPin]bool{25: true}}
	s := newTestDAC(t, cfg, calibratedDAC())
	s.SetGPIODriver(gpio)

	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if len(gpio.configured) != 1 || gpio.configured[0] != 25 {
		t.Errorf("Disable pin not configured: %v", gpio.configured)
	}
	if gpio.levels[25] {
		t.Error("Disable pin should be driven low")
	}
}

func TestReinitAfterAbsent(t *testing.T) {
	dac := calibratedDAC()
	dac.resetErr = errors.New("nack")
	s := newTestDAC(t, DefaultDACConfig(), dac)

	if err := s.Init(); err == nil {
		t.Fatal("Expected first Init to fail")
	}

	dac.resetErr = nil
	if err := s.Init(); err != nil {
		t.Fatalf("Second Init failed: %v", err)
	}
	if !s.Present() {
		t.Error("Controller should be present after a successful Init")
	}
}

func TestFormatReport(t *testing.T) {
	report := []AxisCurrent{
		{Label: "X", Percent: 50.012, Amps: 1.5},
		{Label: "Y", Percent: 0, Amps: 0},
	}

	out := FormatReport(report)
	if !strings.HasPrefix(out, "echo:Stepper current values in % (Amps):\n") {
		t.Errorf("Unexpected header: %q", out)
	}
	if !strings.Contains(out, " X:50.01 (1.50) Y:0.00 (0.00)") {
		t.Errorf("Unexpected values: %q", out)
	}
	if FormatReport(nil) != "" {
		t.Error("Empty report should format as empty string")
	}
}

func TestFtoa(t *testing.T) {
	tests := []struct {
		value    float32
		decimals int
		want     string
	}{
		{0, 2, "0.00"},
		{1.5, 2, "1.50"},
		{12.345, 1, "12.3"},
		{99.999, 2, "100.00"},
		{-2.25, 1, "-2.3"},
		{7, 0, "7"},
	}

	for _, test := range tests {
		if got := ftoa(test.value, test.decimals); got != test.want {
			t.Errorf("ftoa(%v, %d) = %q, want %q", test.value, test.decimals, got, test.want)
		}
	}
}
