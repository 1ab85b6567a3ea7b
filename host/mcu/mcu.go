package mcu

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"stepdac/host/serial"
	"stepdac/protocol"
)

// Fixed message IDs used before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1

	identifyChunk = 40
)

var (
	ErrNoDictionary    = errors.New("dictionary not loaded")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrUnknownResponse = errors.New("unknown response")
)

// Transport is the framed command channel to the MCU
type Transport interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) error
	ReceiveResponse(timeout time.Duration) (*protocol.Message, error)
	Close() error
}

var _ Transport = (*protocol.HostTransport)(nil)

// MCU is a connection to a Klipper-protocol microcontroller
type MCU struct {
	transport Transport
	log       *pterm.Logger

	dictionary     *Dictionary
	dictionaryData []byte

	// ResponseTimeout bounds Query
	ResponseTimeout time.Duration
}

// New wraps an established transport
func New(transport Transport) *MCU {
	return &MCU{
		transport:       transport,
		log:             &pterm.DefaultLogger,
		ResponseTimeout: time.Second,
	}
}

// Connect opens the serial port and starts the transport
func Connect(cfg *serial.Config) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	// Drop whatever the MCU sent before we were listening
	if err := port.Flush(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush serial port: %w", err)
	}

	m := New(protocol.NewHostTransport(port))

	// Give a freshly enumerated MCU time to start
	time.Sleep(100 * time.Millisecond)

	return m, nil
}

// SetLogger replaces the default pterm logger
func (m *MCU) SetLogger(log *pterm.Logger) {
	m.log = log
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	return m.transport.Close()
}

// RetrieveDictionary downloads and parses the data dictionary
func (m *MCU) RetrieveDictionary() error {
	var buf bytes.Buffer

	for offset := uint32(0); ; {
		chunk, err := m.identify(offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}

		buf.Write(chunk)
		offset += uint32(len(chunk))

		if len(chunk) < identifyChunk {
			break
		}
	}

	m.dictionaryData = buf.Bytes()
	m.log.Debug("dictionary retrieved", m.log.Args("bytes", len(m.dictionaryData)))

	dict, err := ParseDictionary(m.dictionaryData)
	if err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	m.dictionary = dict

	m.log.Info("mcu identified",
		m.log.Args(
			"version", dict.Version,
			"commands", len(dict.Commands),
			"responses", len(dict.Responses),
		))
	return nil
}

// identify fetches one dictionary chunk
func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	payload, err := m.query(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	}, identifyResponseID)
	if err != nil {
		return nil, err
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}
	return data, nil
}

// Dictionary returns the parsed dictionary, nil before RetrieveDictionary
func (m *MCU) Dictionary() *Dictionary {
	return m.dictionary
}

// DictionaryRaw returns the dictionary as received
func (m *MCU) DictionaryRaw() []byte {
	return m.dictionaryData
}

// SendCommand sends a command by name and waits for its ACK
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	cmdID, err := m.commandID(name)
	if err != nil {
		return err
	}

	m.log.Trace("send", m.log.Args("command", name, "id", cmdID))
	if err := m.transport.SendCommand(cmdID, args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Query sends a command and returns the arguments of the first matching
// response. Unrelated responses received meanwhile are discarded.
func (m *MCU) Query(name string, args func(output protocol.OutputBuffer), response string) ([]byte, error) {
	cmdID, err := m.commandID(name)
	if err != nil {
		return nil, err
	}
	respID, ok := m.dictionary.ResponseID(response)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResponse, response)
	}

	payload, err := m.query(cmdID, args, respID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return payload, nil
}

func (m *MCU) query(cmdID uint16, args func(output protocol.OutputBuffer), respID uint16) ([]byte, error) {
	if err := m.transport.SendCommand(cmdID, args); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(m.ResponseTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no response %d within %v", respID, m.ResponseTimeout)
		}

		resp, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}

		payload := resp.Payload
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		if uint16(id) == respID {
			return payload, nil
		}
		m.log.Trace("skipping unrelated response", m.log.Args("id", id))
	}
}

func (m *MCU) commandID(name string) (uint16, error) {
	if m.dictionary == nil {
		return 0, ErrNoDictionary
	}
	id, ok := m.dictionary.CommandID(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return id, nil
}
