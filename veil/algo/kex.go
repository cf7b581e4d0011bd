package algo

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/curve25519"
)

const (
	IDX25519   = "x25519"
	IDMLKEM768 = "mlkem768"
)

var (
	ErrInvalidPublicKey = errors.New("algo: invalid public key")
	ErrInvalidKexParam  = errors.New("algo: malformed key exchange parameter")
)

// X25519 is the Curve25519 Diffie-Hellman key exchange (RFC 7748).
type X25519 struct{}

func (X25519) NewExchange() (Exchange, error) {
	var x x25519Exchange
	if _, err := io.ReadFull(rand.Reader, x.priv[:]); err != nil {
		return nil, err
	}
	// Clamp per RFC 7748.
	x.priv[0] &= 248
	x.priv[31] &= 127
	x.priv[31] |= 64
	curve25519.ScalarBaseMult(&x.pub, &x.priv)
	return &x, nil
}

type x25519Exchange struct {
	priv [32]byte
	pub  [32]byte
}

func (x *x25519Exchange) Parameter() ([]byte, error) {
	return append([]byte(nil), x.pub[:]...), nil
}

func (x *x25519Exchange) Exchange(peerParameter []byte) ([]byte, []byte, error) {
	secret, err := x.dh(peerParameter)
	if err != nil {
		return nil, nil, err
	}
	return append([]byte(nil), x.pub[:]...), secret, nil
}

func (x *x25519Exchange) Complete(reply []byte) ([]byte, error) {
	return x.dh(reply)
}

func (x *x25519Exchange) dh(peer []byte) ([]byte, error) {
	if len(peer) != 32 {
		return nil, ErrInvalidKexParam
	}
	var zero [32]byte
	if string(peer) == string(zero[:]) {
		return nil, ErrInvalidPublicKey
	}
	secret, err := curve25519.X25519(x.priv[:], peer)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return secret, nil
}

// MLKEM768 is the ML-KEM-768 post-quantum key encapsulation mechanism.
// The initiator's parameter is the encapsulation key; the responder's reply
// is the KEM ciphertext.
type MLKEM768 struct{}

func (MLKEM768) NewExchange() (Exchange, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &mlkemExchange{pub: pub, priv: priv}, nil
}

type mlkemExchange struct {
	pub  *mlkem768.PublicKey
	priv *mlkem768.PrivateKey
}

func (m *mlkemExchange) Parameter() ([]byte, error) {
	var buf [mlkem768.PublicKeySize]byte
	m.pub.Pack(buf[:])
	return buf[:], nil
}

func (m *mlkemExchange) Exchange(peerParameter []byte) ([]byte, []byte, error) {
	if len(peerParameter) != mlkem768.PublicKeySize {
		return nil, nil, ErrInvalidKexParam
	}
	var peer mlkem768.PublicKey
	peer.Unpack(peerParameter)

	ct := make([]byte, mlkem768.CiphertextSize)
	secret := make([]byte, mlkem768.SharedKeySize)
	peer.EncapsulateTo(ct, secret, nil)
	return ct, secret, nil
}

func (m *mlkemExchange) Complete(reply []byte) ([]byte, error) {
	if len(reply) != mlkem768.CiphertextSize {
		return nil, ErrInvalidKexParam
	}
	secret := make([]byte, mlkem768.SharedKeySize)
	m.priv.DecapsulateTo(secret, reply)
	return secret, nil
}
