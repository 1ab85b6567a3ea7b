package standalone

import (
	"errors"

	"stepdac/core"
	"stepdac/standalone/config"
	"stepdac/standalone/gcode"
)

// Manager turns a G-code byte stream into stepper DAC operations
type Manager struct {
	dac         *core.StepperDAC
	parser      *gcode.Parser
	interpreter *gcode.Interpreter

	// Serial interface
	inputBuffer  []byte
	outputBuffer []byte

	// Status
	initialized bool
	running     bool
}

// NewManager creates a manager from a YAML/JSON configuration file body
func NewManager(configData []byte, driver core.DACDriver) (*Manager, error) {
	cfg, err := config.Parse(configData)
	if err != nil {
		return nil, err
	}

	return NewManagerWithConfig(cfg.StepperDAC.DACConfig(), driver)
}

// NewManagerWithConfig creates a manager with an existing config
func NewManagerWithConfig(cfg core.DACConfig, driver core.DACDriver) (*Manager, error) {
	dac, err := core.NewStepperDAC(cfg, driver)
	if err != nil {
		return nil, err
	}

	mgr := &Manager{
		dac:          dac,
		parser:       gcode.NewParser(),
		inputBuffer:  make([]byte, 0, 256),
		outputBuffer: make([]byte, 0, 256),
	}
	mgr.interpreter = gcode.NewInterpreter(dac, mgr.SendResponse)

	return mgr, nil
}

// Initialize brings up the converter. A missing converter is not an error:
// the manager keeps answering G-code and every current command is a no-op.
func (m *Manager) Initialize(gpioDriver core.GPIODriver) error {
	if m.initialized {
		return errors.New("already initialized")
	}

	if gpioDriver != nil {
		m.dac.SetGPIODriver(gpioDriver)
	}

	if err := m.dac.Init(); err != nil && !errors.Is(err, core.ErrDACAbsent) {
		return err
	}

	m.initialized = true
	return nil
}

// DAC returns the controller owned by the manager
func (m *Manager) DAC() *core.StepperDAC {
	return m.dac
}

// ProcessLine processes a line of G-code
func (m *Manager) ProcessLine(line string) error {
	if !m.initialized {
		return errors.New("manager not initialized")
	}

	cmd, err := m.parser.ParseLine(line)
	if err != nil {
		return err
	}

	return m.interpreter.Execute(cmd)
}

// ProcessByte processes a single byte of input (for serial streaming).
// Every non-empty line is answered with "ok", or "Error:<reason>" followed
// by "ok" when it could not be executed.
func (m *Manager) ProcessByte(b byte) {
	if b != '\n' && b != '\r' {
		if len(m.inputBuffer) < cap(m.inputBuffer) {
			m.inputBuffer = append(m.inputBuffer, b)
		}
		return
	}

	line := string(m.inputBuffer)
	m.inputBuffer = m.inputBuffer[:0]

	for len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t') {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return
	}

	if err := m.ProcessLine(line); err != nil {
		m.SendResponse("Error:" + err.Error() + "\n")
	}
	m.SendResponse("ok\n")
}

// SendResponse queues a response to be sent to the host
func (m *Manager) SendResponse(response string) {
	m.outputBuffer = append(m.outputBuffer, response...)
}

// GetOutput returns any pending output and clears the buffer
func (m *Manager) GetOutput() []byte {
	if len(m.outputBuffer) == 0 {
		return nil
	}

	output := make([]byte, len(m.outputBuffer))
	copy(output, m.outputBuffer)
	m.outputBuffer = m.outputBuffer[:0]
	return output
}

// Start begins standalone operation
func (m *Manager) Start() error {
	if !m.initialized {
		return errors.New("manager not initialized")
	}

	m.running = true
	if m.dac.Present() {
		m.SendResponse("echo:Stepper DAC ready\n")
	} else {
		m.SendResponse("echo:Stepper DAC not found, current control disabled\n")
	}
	return nil
}

// Stop halts operation
func (m *Manager) Stop() {
	m.running = false
	m.inputBuffer = m.inputBuffer[:0]
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	return m.running
}
