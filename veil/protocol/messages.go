package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadCapabilities = errors.New("protocol: malformed capabilities payload")
	ErrBadHandshake    = errors.New("protocol: malformed handshake payload")
	ErrBadDataFrame    = errors.New("protocol: malformed data frame payload")
)

const capabilityNonceSize = 32

// Capabilities is the first message of a session: the sender's role and its
// preference-ranked algorithm ids per category.
//
// Payload layout:
//
//	1 byte: role
//	32 bytes: random nonce
//	4 categories in fixed order (key exchange, cipher, AEAD, hash), each:
//	  2 bytes: id count
//	  per id: 2 bytes length || id bytes
type Capabilities struct {
	Role        uint8
	Nonce       [capabilityNonceSize]byte
	KeyExchange []string
	Cipher      []string
	AEAD        []string
	Hash        []string
}

func EncodeCapabilities(c Capabilities) []byte {
	var b bytes.Buffer
	b.WriteByte(c.Role)
	b.Write(c.Nonce[:])
	for _, list := range [][]string{c.KeyExchange, c.Cipher, c.AEAD, c.Hash} {
		var count [2]byte
		binary.BigEndian.PutUint16(count[:], uint16(len(list)))
		b.Write(count[:])
		for _, id := range list {
			var l [2]byte
			binary.BigEndian.PutUint16(l[:], uint16(len(id)))
			b.Write(l[:])
			b.WriteString(id)
		}
	}
	return b.Bytes()
}

func DecodeCapabilities(payload []byte) (Capabilities, error) {
	var c Capabilities
	if len(payload) < 1+capabilityNonceSize {
		return Capabilities{}, ErrBadCapabilities
	}
	c.Role = payload[0]
	copy(c.Nonce[:], payload[1:1+capabilityNonceSize])
	rest := payload[1+capabilityNonceSize:]

	lists := []*[]string{&c.KeyExchange, &c.Cipher, &c.AEAD, &c.Hash}
	for _, list := range lists {
		if len(rest) < 2 {
			return Capabilities{}, ErrBadCapabilities
		}
		count := int(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
		for i := 0; i < count; i++ {
			if len(rest) < 2 {
				return Capabilities{}, ErrBadCapabilities
			}
			l := int(binary.BigEndian.Uint16(rest[:2]))
			rest = rest[2:]
			if len(rest) < l {
				return Capabilities{}, ErrBadCapabilities
			}
			*list = append(*list, string(rest[:l]))
			rest = rest[l:]
		}
	}
	if len(rest) != 0 {
		return Capabilities{}, fmt.Errorf("%w: %d trailing bytes", ErrBadCapabilities, len(rest))
	}
	return c, nil
}

// HandshakeStep carries one key-exchange message plus an identity binding:
// the sender's Ed25519 public key and its signature over the transcript hash
// at the time of sending.
//
// Payload layout:
//
//	1 byte: step (1 = initiator parameter, 2 = responder reply)
//	4 bytes: parameter length || parameter
//	2 bytes: identity key length || identity key
//	2 bytes: signature length || signature
type HandshakeStep struct {
	Step        uint8
	Parameter   []byte
	IdentityKey []byte
	Signature   []byte
}

const (
	HandshakeStepInitiate uint8 = 1
	HandshakeStepRespond  uint8 = 2
)

func EncodeHandshakeStep(h HandshakeStep) []byte {
	var b bytes.Buffer
	b.WriteByte(h.Step)
	var pl [4]byte
	binary.BigEndian.PutUint32(pl[:], uint32(len(h.Parameter)))
	b.Write(pl[:])
	b.Write(h.Parameter)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(h.IdentityKey)))
	b.Write(l[:])
	b.Write(h.IdentityKey)
	binary.BigEndian.PutUint16(l[:], uint16(len(h.Signature)))
	b.Write(l[:])
	b.Write(h.Signature)
	return b.Bytes()
}

func DecodeHandshakeStep(payload []byte) (HandshakeStep, error) {
	var h HandshakeStep
	if len(payload) < 5 {
		return HandshakeStep{}, ErrBadHandshake
	}
	h.Step = payload[0]
	if h.Step != HandshakeStepInitiate && h.Step != HandshakeStepRespond {
		return HandshakeStep{}, fmt.Errorf("%w: step %d", ErrBadHandshake, h.Step)
	}
	paramLen := int(binary.BigEndian.Uint32(payload[1:5]))
	rest := payload[5:]
	if len(rest) < paramLen {
		return HandshakeStep{}, ErrBadHandshake
	}
	h.Parameter = append([]byte(nil), rest[:paramLen]...)
	rest = rest[paramLen:]

	for _, field := range []*[]byte{&h.IdentityKey, &h.Signature} {
		if len(rest) < 2 {
			return HandshakeStep{}, ErrBadHandshake
		}
		l := int(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if len(rest) < l {
			return HandshakeStep{}, ErrBadHandshake
		}
		*field = append([]byte(nil), rest[:l]...)
		rest = rest[l:]
	}
	if len(rest) != 0 {
		return HandshakeStep{}, fmt.Errorf("%w: %d trailing bytes", ErrBadHandshake, len(rest))
	}
	return h, nil
}

// DataFrame is one sequenced, authenticated unit of application ciphertext.
//
// Payload layout:
//
//	4 bytes: key epoch
//	8 bytes: sequence number
//	N bytes: ciphertext (nonce || body || tag, per the AEAD in use)
type DataFrame struct {
	Epoch      uint32
	Seq        uint64
	Ciphertext []byte
}

func EncodeDataFrame(d DataFrame) []byte {
	out := make([]byte, 12+len(d.Ciphertext))
	binary.BigEndian.PutUint32(out[:4], d.Epoch)
	binary.BigEndian.PutUint64(out[4:12], d.Seq)
	copy(out[12:], d.Ciphertext)
	return out
}

func DecodeDataFrame(payload []byte) (DataFrame, error) {
	if len(payload) < 12 {
		return DataFrame{}, ErrBadDataFrame
	}
	return DataFrame{
		Epoch:      binary.BigEndian.Uint32(payload[:4]),
		Seq:        binary.BigEndian.Uint64(payload[4:12]),
		Ciphertext: append([]byte(nil), payload[12:]...),
	}, nil
}

// AssociatedData builds the additional data for a data frame: the epoch and
// sequence number, optionally followed by caller-supplied bytes. Binding the
// epoch prevents replay of frames across rekeys.
func AssociatedData(epoch uint32, seq uint64, extra []byte) []byte {
	ad := make([]byte, 12, 12+len(extra))
	binary.BigEndian.PutUint32(ad[:4], epoch)
	binary.BigEndian.PutUint64(ad[4:12], seq)
	return append(ad, extra...)
}
