package transfer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrInvalidConfig  = errors.New("transfer: invalid data/parity configuration")
	ErrTooManyLost    = errors.New("transfer: too many shards lost, cannot recover")
	ErrBadShard       = errors.New("transfer: malformed shard")
	ErrDigestMismatch = errors.New("transfer: payload digest mismatch after reassembly")
)

const shardHeaderSize = 16 + 2 + 2 + 2 + 1 + 4 + 32

// Shard is one self-describing fragment of a payload. Shards travel as
// opaque application messages; any DataShards of them reassemble the
// payload.
//
// Wire layout (big endian):
//
//	16 bytes: payload id
//	2 bytes: shard index
//	2 bytes: data shard count
//	2 bytes: parity shard count
//	1 byte: compressed flag
//	4 bytes: encoded payload length (before shard padding)
//	32 bytes: SHA-256 of the original payload
//	N bytes: shard data
type Shard struct {
	PayloadID  [16]byte
	Index      uint16
	DataShards uint16
	Parity     uint16
	Compressed bool
	EncodedLen uint32
	Digest     [32]byte
	Data       []byte
}

func (s Shard) Encode() []byte {
	out := make([]byte, shardHeaderSize+len(s.Data))
	copy(out[:16], s.PayloadID[:])
	binary.BigEndian.PutUint16(out[16:18], s.Index)
	binary.BigEndian.PutUint16(out[18:20], s.DataShards)
	binary.BigEndian.PutUint16(out[20:22], s.Parity)
	if s.Compressed {
		out[22] = 1
	}
	binary.BigEndian.PutUint32(out[23:27], s.EncodedLen)
	copy(out[27:59], s.Digest[:])
	copy(out[shardHeaderSize:], s.Data)
	return out
}

func DecodeShard(b []byte) (Shard, error) {
	if len(b) < shardHeaderSize {
		return Shard{}, ErrBadShard
	}
	var s Shard
	copy(s.PayloadID[:], b[:16])
	s.Index = binary.BigEndian.Uint16(b[16:18])
	s.DataShards = binary.BigEndian.Uint16(b[18:20])
	s.Parity = binary.BigEndian.Uint16(b[20:22])
	s.Compressed = b[22] == 1
	s.EncodedLen = binary.BigEndian.Uint32(b[23:27])
	copy(s.Digest[:], b[27:59])
	s.Data = append([]byte(nil), b[shardHeaderSize:]...)
	if s.DataShards == 0 || int(s.Index) >= int(s.DataShards)+int(s.Parity) {
		return Shard{}, ErrBadShard
	}
	return s, nil
}

// Codec shards payloads for loss-tolerant delivery. Up to parityShards of
// every payload's shards may be lost in transit.
type Codec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

func NewCodec(dataShards, parityShards int) (*Codec, error) {
	if dataShards <= 0 || parityShards <= 0 {
		return nil, ErrInvalidConfig
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (c *Codec) DataShards() int   { return c.dataShards }
func (c *Codec) ParityShards() int { return c.parityShards }

// Encode compresses and shards one payload.
func (c *Codec) Encode(payload []byte) ([]Shard, error) {
	digest := sha256.Sum256(payload)

	encoded := payload
	compressed := false
	if packed, err := compress(payload); err == nil && len(packed) < len(payload) {
		encoded = packed
		compressed = true
	}

	shards, err := c.enc.Split(encoded)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}

	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return nil, err
	}

	out := make([]Shard, len(shards))
	for i, data := range shards {
		out[i] = Shard{
			PayloadID:  id,
			Index:      uint16(i),
			DataShards: uint16(c.dataShards),
			Parity:     uint16(c.parityShards),
			Compressed: compressed,
			EncodedLen: uint32(len(encoded)),
			Digest:     digest,
			Data:       data,
		}
	}
	return out, nil
}

// Assembler collects shards across payloads and reconstructs each payload
// as soon as enough shards have arrived. Safe for concurrent use.
type Assembler struct {
	mu      sync.Mutex
	pending map[[16]byte]*pendingPayload
}

type pendingPayload struct {
	shards [][]byte
	have   int
	first  Shard
}

func NewAssembler() *Assembler {
	return &Assembler{pending: make(map[[16]byte]*pendingPayload)}
}

// Add ingests one shard. When the shard completes its payload, the
// reassembled payload is returned with done=true and its state is
// released. Duplicate shards are ignored.
func (a *Assembler) Add(s Shard) (payload []byte, done bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[s.PayloadID]
	if !ok {
		p = &pendingPayload{
			shards: make([][]byte, int(s.DataShards)+int(s.Parity)),
			first:  s,
		}
		a.pending[s.PayloadID] = p
	}
	if p.first.DataShards != s.DataShards || p.first.Parity != s.Parity {
		return nil, false, fmt.Errorf("%w: inconsistent shard geometry", ErrBadShard)
	}
	if p.shards[s.Index] != nil {
		return nil, false, nil
	}
	p.shards[s.Index] = s.Data
	p.have++

	if p.have < int(s.DataShards) {
		return nil, false, nil
	}

	payload, err = reassemble(p)
	delete(a.pending, s.PayloadID)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Drop discards any partial state for a payload.
func (a *Assembler) Drop(id [16]byte) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

func reassemble(p *pendingPayload) ([]byte, error) {
	enc, err := reedsolomon.New(int(p.first.DataShards), int(p.first.Parity))
	if err != nil {
		return nil, err
	}
	if err := enc.ReconstructData(p.shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return nil, ErrTooManyLost
		}
		return nil, err
	}

	encoded := make([]byte, 0, p.first.EncodedLen)
	for i := 0; i < int(p.first.DataShards) && len(encoded) < int(p.first.EncodedLen); i++ {
		remaining := int(p.first.EncodedLen) - len(encoded)
		if remaining >= len(p.shards[i]) {
			encoded = append(encoded, p.shards[i]...)
		} else {
			encoded = append(encoded, p.shards[i][:remaining]...)
		}
	}

	payload := encoded
	if p.first.Compressed {
		if payload, err = decompress(encoded); err != nil {
			return nil, err
		}
	}
	if sha256.Sum256(payload) != p.first.Digest {
		return nil, ErrDigestMismatch
	}
	return payload, nil
}
