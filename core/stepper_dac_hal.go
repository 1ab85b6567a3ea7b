package core

// DACChannelCount is the number of current-reference outputs on the converter.
// One channel drives each of the X, Y, Z and E stepper drivers.
const DACChannelCount = 4

// VrefSource selects the voltage reference of a converter channel.
type VrefSource uint8

const (
	VrefVDD      VrefSource = 0 // Supply voltage as reference
	VrefInternal VrefSource = 1 // Internal 2.048V reference
)

// DACGain selects the output gain of a converter channel.
// Only meaningful with the internal reference.
type DACGain uint8

const (
	DACGain1x DACGain = 0
	DACGain2x DACGain = 1
)

// DACDriver is the abstract converter interface that the stepper current
// controller uses. Channel arguments are physical converter channels (0-3).
// Platform or device specific implementations handle the actual bus traffic.
type DACDriver interface {
	// Reset issues a software reset. A non-nil error means the converter did
	// not acknowledge and should be treated as absent.
	Reset() error

	// ConfigureVref sets the voltage reference of every channel.
	ConfigureVref(vref [DACChannelCount]VrefSource) error

	// ConfigureGain sets the gain of every channel.
	ConfigureGain(gain [DACChannelCount]DACGain) error

	// WriteRaw sets the raw output code of a single channel.
	WriteRaw(channel uint8, value uint16) error

	// WriteAll sets the raw output codes of all channels in one transaction.
	WriteAll(values [DACChannelCount]uint16) error

	// ReadRaw returns the raw output code of a channel.
	ReadRaw(channel uint8) (uint16, error)

	// ReadPercent returns the output of a channel as a rounded percentage of
	// full scale.
	ReadPercent(channel uint8) (uint8, error)

	// Update latches pending channel writes so they take effect together.
	Update() error

	// EEPROMWrite stores the current channel settings in non-volatile memory.
	EEPROMWrite() error
}

// FullScaleSetter is implemented by drivers whose ReadPercent needs the
// controller's full-scale code. NewStepperDAC passes DACConfig.Max to it.
type FullScaleSetter interface {
	SetFullScale(max uint16)
}
