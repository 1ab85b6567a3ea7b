package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	frame, err := EncodeFrame(MessageDest, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	if frame[MessagePositionLen] != 7 || frame[MessagePositionSeq] != MessageDest {
		t.Errorf("Unexpected header %x", frame[:2])
	}
	if frame[len(frame)-1] != MessageValueSync {
		t.Errorf("Missing sync byte: %x", frame)
	}
	crc := CRC16(frame[:4])
	if frame[4] != byte(crc>>8) || frame[5] != byte(crc) {
		t.Errorf("Bad CRC in %x", frame)
	}

	ack, _ := EncodeFrame(MessageDest|1, nil)
	if !bytes.Equal(ack, []byte{5, 0x11, 0x8F, 0x08, MessageValueSync}) {
		t.Errorf("Unexpected ACK frame %x", ack)
	}

	if _, err := EncodeFrame(MessageDest, make([]byte, MessagePayloadMax+1)); err != ErrMessageTooLong {
		t.Errorf("Expected ErrMessageTooLong, got %v", err)
	}
}

func TestFrameDecoderRoundTrip(t *testing.T) {
	d := NewFrameDecoder(256)

	f1, _ := EncodeFrame(0x12, []byte{0x05, 0x06})
	f2, _ := EncodeFrame(0x13, nil)

	// Split across writes
	stream := append(append([]byte{}, f1...), f2...)
	d.Write(stream[:3])
	if _, ok := d.Next(); ok {
		t.Fatal("Decoded a frame from a partial write")
	}
	d.Write(stream[3:])

	msg, ok := d.Next()
	if !ok {
		t.Fatal("Expected first frame")
	}
	if msg.Sequence != 0x12 || !bytes.Equal(msg.Payload, []byte{0x05, 0x06}) || msg.IsAck() {
		t.Errorf("Unexpected first frame %+v", msg)
	}

	msg, ok = d.Next()
	if !ok || msg.Sequence != 0x13 || !msg.IsAck() {
		t.Errorf("Unexpected second frame %+v (%v)", msg, ok)
	}

	if _, ok := d.Next(); ok {
		t.Error("Decoder returned a frame from an empty buffer")
	}
}

func TestFrameDecoderResync(t *testing.T) {
	d := NewFrameDecoder(256)

	good, _ := EncodeFrame(0x14, []byte{0x2A})
	corrupt := append([]byte{}, good...)
	corrupt[2] ^= 0xFF // payload byte, CRC no longer matches

	d.Write([]byte{0x00, 0x99}) // line noise
	d.Write(corrupt)
	d.Write(good)

	msg, ok := d.Next()
	if !ok {
		t.Fatal("Expected to recover the good frame")
	}
	if msg.Sequence != 0x14 || !bytes.Equal(msg.Payload, []byte{0x2A}) {
		t.Errorf("Unexpected frame %+v", msg)
	}
}

func TestNextSequence(t *testing.T) {
	if NextSequence(0x10) != 0x11 || NextSequence(0x1F) != 0x10 {
		t.Error("Sequence does not wrap within 0x10-0x1F")
	}
}
