package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload limits a single protocol frame payload.
	MaxFramePayload = 1 << 20 // 1 MiB
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")
	ErrInvalidType   = errors.New("protocol: invalid message type")
	ErrShortPayload  = errors.New("protocol: payload too short")
)

// Frame is the basic wire container.
// Format:
//
//	1 byte: type
//	4 bytes: payload length (big endian)
//	N bytes: payload
//
// All multi-byte integers in this package are big endian; the layout is
// fixed so independent implementations interoperate bit-exactly.
type Frame struct {
	Type    MessageType
	Payload []byte
}

func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(byte(f.Type)); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := bw.Write(f.Payload); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func ReadFrame(r io.Reader) (Frame, error) {
	br := bufio.NewReader(r)
	t, err := br.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf[:])
	if payloadLen > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(br, payload); err != nil {
			return Frame{}, err
		}
	}

	mt := MessageType(t)
	if mt == 0 {
		return Frame{}, ErrInvalidType
	}
	return Frame{Type: mt, Payload: payload}, nil
}

// Encode serializes a frame to a byte slice.
func (f Frame) Encode() ([]byte, error) {
	if f.Type == 0 {
		return nil, ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}
	out := make([]byte, 5+len(f.Payload))
	out[0] = byte(f.Type)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(f.Payload)))
	copy(out[5:], f.Payload)
	return out, nil
}

// Parser incrementally consumes a byte stream and yields complete frames.
// Callers hand it whatever the transport delivers; partial frames are
// buffered until the remainder arrives.
type Parser struct {
	buf []byte
}

// Push appends transport bytes to the parse buffer.
func (p *Parser) Push(b []byte) {
	p.buf = append(p.buf, b...)
}

// Next returns the next complete frame, or ok=false when more bytes are
// needed.
func (p *Parser) Next() (Frame, bool, error) {
	if len(p.buf) < 5 {
		return Frame{}, false, nil
	}
	mt := MessageType(p.buf[0])
	if mt == 0 {
		return Frame{}, false, ErrInvalidType
	}
	payloadLen := binary.BigEndian.Uint32(p.buf[1:5])
	if payloadLen > MaxFramePayload {
		return Frame{}, false, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	total := 5 + int(payloadLen)
	if len(p.buf) < total {
		return Frame{}, false, nil
	}
	payload := append([]byte(nil), p.buf[5:total]...)
	p.buf = p.buf[total:]
	return Frame{Type: mt, Payload: payload}, true, nil
}
