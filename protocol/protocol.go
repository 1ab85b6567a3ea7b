// Package protocol implements the host side of the Klipper serial protocol:
// message framing, VLQ argument encoding and the CRC16 checksum.
package protocol

// Frame layout: len, seq, payload..., crc_hi, crc_lo, sync
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E

	// Sequence byte: high nibble is always MessageDest, low nibble counts.
	MessageDest    = 0x10
	MessageSeqMask = 0x0F

	// MessagePayloadMax is the largest payload that fits in one frame.
	MessagePayloadMax = MessageLengthMax - MessageLengthMin
)

// Message is a received frame
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Frame data without header/trailer
	CRC      uint16
}

// IsAck reports whether the frame is a bare ACK/NAK.
func (m *Message) IsAck() bool {
	return len(m.Payload) == 0
}

// NextSequence returns the sequence that follows seq.
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
