package protocol

import (
	"bytes"
	"errors"
)

// ErrMessageTooLong is returned when a payload does not fit in one frame.
var ErrMessageTooLong = errors.New("message exceeds frame size")

// EncodeFrame wraps a payload in header, CRC and sync byte.
func EncodeFrame(seq uint8, payload []byte) ([]byte, error) {
	n := MessageHeaderSize + len(payload) + MessageTrailerSize
	if n > MessageLengthMax {
		return nil, ErrMessageTooLong
	}

	frame := make([]byte, 0, n)
	frame = append(frame, uint8(n), seq)
	frame = append(frame, payload...)

	crc := CRC16(frame)
	return append(frame, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// FrameDecoder reassembles frames from a byte stream, dropping corrupt
// frames and resynchronizing on the next sync byte.
type FrameDecoder struct {
	buf    *FifoBuffer
	synced bool
}

// NewFrameDecoder creates a decoder buffering up to size bytes.
func NewFrameDecoder(size int) *FrameDecoder {
	return &FrameDecoder{
		buf:    NewFifoBuffer(size),
		synced: true,
	}
}

// Write queues received bytes and returns how many fit.
func (d *FrameDecoder) Write(p []byte) int {
	return d.buf.Write(p)
}

// Next returns the next complete, valid frame, or false when more input
// is needed.
func (d *FrameDecoder) Next() (*Message, bool) {
	data := d.buf.Data()
	total := len(data)
	defer func() {
		d.buf.Pop(total - len(data))
	}()

	for len(data) > 0 {
		if !d.synced {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				data = data[len(data):]
				return nil, false
			}
			data = data[i+1:]
			d.synced = true
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			return nil, false
		}

		n := int(data[MessagePositionLen])
		if n < MessageLengthMin || n > MessageLengthMax {
			d.synced = false
			continue
		}
		if len(data) < n {
			return nil, false
		}

		if data[n-MessageTrailerSync] != MessageValueSync {
			d.synced = false
			continue
		}
		crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
		if crc != CRC16(data[:n-MessageTrailerSize]) {
			d.synced = false
			continue
		}

		msg := &Message{
			Length:   data[MessagePositionLen],
			Sequence: data[MessagePositionSeq],
			Payload:  append([]byte(nil), data[MessageHeaderSize:n-MessageTrailerSize]...),
			CRC:      crc,
		}
		data = data[n:]
		return msg, true
	}

	return nil, false
}
