package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultAckTimeout bounds the wait for an ACK in SendCommand.
const DefaultAckTimeout = 2 * time.Second

// ErrTransportClosed is returned once Close has been called.
var ErrTransportClosed = errors.New("transport closed")

// ResponseHandler receives every response frame as (message ID, remaining payload).
type ResponseHandler func(msgID uint16, data []byte)

// HostTransport sends commands to a Klipper MCU and collects its responses.
// Commands are serialized: one frame is in flight until the MCU acknowledges it.
type HostTransport struct {
	port io.ReadWriteCloser

	sendMu sync.Mutex
	seq    uint8 // guarded by sendMu

	handlerMu sync.RWMutex
	handler   ResponseHandler

	acks      chan *Message
	responses chan *Message

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts a transport over port. The reader goroutine runs
// until Close.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		seq:       MessageDest,
		acks:      make(chan *Message, 4),
		responses: make(chan *Message, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// SendCommand sends a command and waits for its ACK.
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout sends a command with a custom ACK timeout.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	if scratch.Overflow() {
		return ErrMessageTooLong
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	frame, err := EncodeFrame(t.seq, scratch.Result())
	if err != nil {
		return err
	}

	t.drainAcks()

	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return t.waitForAck(timeout)
}

// waitForAck expects the MCU to acknowledge with the next sequence number.
// A NAK carries the sequence the MCU still expects.
func (t *HostTransport) waitForAck(timeout time.Duration) error {
	want := NextSequence(t.seq)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.acks:
		if ack.Sequence != want {
			return fmt.Errorf("nak: mcu expects sequence 0x%02x, sent 0x%02x", ack.Sequence, t.seq)
		}
		t.seq = want
		return nil

	case <-timer.C:
		return fmt.Errorf("ack timeout after %v", timeout)

	case <-t.stop:
		return ErrTransportClosed
	}
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

// ReceiveResponse returns the next response frame.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responses:
		return resp, nil

	case <-timer.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)

	case <-t.stop:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler installs a callback invoked for every response frame,
// in addition to queueing it for ReceiveResponse.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

// readLoop feeds the frame decoder from the port.
func (t *HostTransport) readLoop() {
	defer close(t.done)

	decoder := NewFrameDecoder(4 * MessageLengthMax)
	buf := make([]byte, MessageLengthMax)

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			for rest := buf[:n]; len(rest) > 0; {
				written := decoder.Write(rest)
				rest = rest[written:]
				for {
					msg, ok := decoder.Next()
					if !ok {
						break
					}
					t.dispatch(msg)
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// dispatch routes a frame to the ACK or response queue.
func (t *HostTransport) dispatch(msg *Message) {
	if msg.IsAck() {
		select {
		case t.acks <- msg:
		default:
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler != nil {
		data := msg.Payload
		if id, err := DecodeVLQUint(&data); err == nil {
			handler(uint16(id), data)
		}
	}

	// Keep the newest responses when nobody is reading.
	for {
		select {
		case t.responses <- msg:
			return
		default:
		}
		select {
		case <-t.responses:
		default:
		}
	}
}

// Close stops the reader and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Sequence returns the sequence number of the next command.
func (t *HostTransport) Sequence() uint8 {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.seq
}
