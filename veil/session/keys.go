package session

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/binary"
	"time"

	"github.com/veil-im/veil/veil/algo"
	"github.com/veil-im/veil/veil/negotiate"
)

const sessionKeySize = 32

// sessionKeys holds one epoch's directional key material. Discarded and
// zeroed on rekey or close.
type sessionKeys struct {
	epoch       uint32
	sendKey     []byte
	recvKey     []byte
	confirmSend []byte
	confirmRecv []byte
	createdAt   time.Time
}

// deriveSessionKeys expands the exchange secret into directional traffic and
// confirmation keys. The transcript hash salts the derivation, binding the
// keys to the negotiated algorithm choice and not just the shared secret:
// a tampered negotiation yields different keys on each side even when the
// exchange itself succeeded.
//
// role is the handshake role for this derivation (the rekey initiator may be
// either end of the session).
func deriveSessionKeys(h algo.Hash, secret, transcriptHash []byte, role negotiate.Role, epoch uint32) (*sessionKeys, error) {
	info := make([]byte, 0, 32)
	info = append(info, "veil session keys v1"...)
	info = binary.BigEndian.AppendUint32(info, epoch)

	material, err := algo.DeriveKey(h, secret, transcriptHash, info, 4*sessionKeySize)
	if err != nil {
		return nil, err
	}
	initSend := material[0:32]
	respSend := material[32:64]
	initConfirm := material[64:96]
	respConfirm := material[96:128]

	k := &sessionKeys{epoch: epoch, createdAt: time.Now()}
	if role == negotiate.RoleInitiator {
		k.sendKey = initSend
		k.recvKey = respSend
		k.confirmSend = initConfirm
		k.confirmRecv = respConfirm
	} else {
		k.sendKey = respSend
		k.recvKey = initSend
		k.confirmSend = respConfirm
		k.confirmRecv = initConfirm
	}
	return k, nil
}

// confirmMAC computes the key-confirmation MAC over the transcript hash.
// Matching MACs prove both sides derived keys from identical transcripts.
func confirmMAC(h algo.Hash, key, transcriptHash []byte) []byte {
	mac := hmac.New(h.New, key)
	mac.Write(transcriptHash)
	return mac.Sum(nil)
}

func (k *sessionKeys) zero() {
	if k == nil {
		return
	}
	zeroBytes(k.sendKey)
	zeroBytes(k.recvKey)
	zeroBytes(k.confirmSend)
	zeroBytes(k.confirmRecv)
}

// zeroBytes overwrites b in a way the compiler will not elide.
func zeroBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
