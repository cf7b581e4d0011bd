package session

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/veil-im/veil/veil/algo"
	"github.com/veil-im/veil/veil/protocol"
)

const channelNonceSize = 12

// channel protects one key epoch's data frames: authenticated encryption,
// per-direction sequence numbers and replay detection. Send and receive
// sides lock independently so opposite directions proceed concurrently.
type channel struct {
	epoch uint32
	keys  *sessionKeys

	sendMu    sync.Mutex
	sendAEAD  cipher.AEAD
	sendSeq   uint64
	noncePref [4]byte

	recvMu   sync.Mutex
	recvAEAD cipher.AEAD
	window   *replayWindow
}

func newChannel(a algo.AEAD, keys *sessionKeys, windowSize int) (*channel, error) {
	sendAEAD, err := a.New(keys.sendKey)
	if err != nil {
		return nil, err
	}
	recvAEAD, err := a.New(keys.recvKey)
	if err != nil {
		return nil, err
	}
	c := &channel{
		epoch:    keys.epoch,
		keys:     keys,
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
		window:   newReplayWindow(windowSize),
	}
	if _, err := io.ReadFull(rand.Reader, c.noncePref[:]); err != nil {
		return nil, err
	}
	return c, nil
}

// encode assigns the next send sequence number and seals plaintext into a
// data frame. The epoch and sequence number ride in the associated data, so
// a frame cannot be replayed into another epoch or position.
func (c *channel) encode(plaintext, extraAD []byte) (protocol.DataFrame, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	seq := c.sendSeq
	c.sendSeq++

	nonce := make([]byte, channelNonceSize)
	copy(nonce[:4], c.noncePref[:])
	binary.BigEndian.PutUint64(nonce[4:], seq)

	ad := protocol.AssociatedData(c.epoch, seq, extraAD)
	sealed := c.sendAEAD.Seal(nil, nonce, plaintext, ad)

	ct := make([]byte, channelNonceSize+len(sealed))
	copy(ct, nonce)
	copy(ct[channelNonceSize:], sealed)

	return protocol.DataFrame{Epoch: c.epoch, Seq: seq, Ciphertext: ct}, nil
}

// decode verifies and opens a data frame. The authentication check runs
// before the replay bookkeeping so a forged frame cannot poison the window.
func (c *channel) decode(f protocol.DataFrame, extraAD []byte) ([]byte, error) {
	if len(f.Ciphertext) < channelNonceSize+c.recvAEAD.Overhead() {
		return nil, ErrAuthenticationFailed
	}
	nonce := f.Ciphertext[:channelNonceSize]
	body := f.Ciphertext[channelNonceSize:]
	ad := protocol.AssociatedData(f.Epoch, f.Seq, extraAD)

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	plaintext, err := c.recvAEAD.Open(nil, nonce, body, ad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if err := c.window.check(f.Seq); err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (c *channel) sentMessages() uint64 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendSeq
}

func (c *channel) age() time.Duration {
	return time.Since(c.keys.createdAt)
}

func (c *channel) zero() {
	if c == nil {
		return
	}
	c.keys.zero()
}
