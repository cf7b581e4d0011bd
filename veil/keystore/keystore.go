// Package keystore persists identity keys encrypted under a passphrase.
// The cipher and hash are resolved from the algorithm registry, so the
// at-rest format shares the session layer's agility: the chosen algorithm
// ids are recorded in the file header and honored on load.
//
// File layout (big endian):
//
//	2 bytes: cipher id length || cipher id
//	2 bytes: hash id length || hash id
//	16 bytes: PBKDF2 salt
//	IV (length fixed by the cipher)
//	4 bytes: ciphertext length || ciphertext
//	HMAC over everything above (length fixed by the hash)
package keystore

import (
	"bytes"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/veil-im/veil/veil/algo"
	"github.com/veil-im/veil/veil/identity"
)

var (
	ErrBadPassphrase = errors.New("keystore: passphrase incorrect or file tampered")
	ErrCorrupt       = errors.New("keystore: malformed keystore file")
)

const (
	saltSize   = 16
	kdfRounds  = 210_000
	macKeySize = 32

	identityFile = "identity.key"
)

// Keystore reads and writes encrypted key files under a directory.
type Keystore struct {
	dir      string
	registry *algo.Registry
	cipherID string
	hashID   string
}

// New creates a keystore rooted at dir. cipherID and hashID select the
// at-rest algorithms; empty strings choose ChaCha20 and SHA-256.
func New(dir string, registry *algo.Registry, cipherID, hashID string) *Keystore {
	if cipherID == "" {
		cipherID = algo.IDChaCha20
	}
	if hashID == "" {
		hashID = algo.IDSHA256
	}
	return &Keystore{dir: dir, registry: registry, cipherID: cipherID, hashID: hashID}
}

// SaveIdentity encrypts and writes the identity keypair.
func (k *Keystore) SaveIdentity(kp identity.KeyPair, passphrase string) error {
	return k.save(identityFile, kp.PrivateKey, passphrase)
}

// LoadIdentity decrypts the stored identity keypair.
func (k *Keystore) LoadIdentity(passphrase string) (identity.KeyPair, error) {
	plain, err := k.load(identityFile, passphrase)
	if err != nil {
		return identity.KeyPair{}, err
	}
	if len(plain) != ed25519.PrivateKeySize {
		return identity.KeyPair{}, ErrCorrupt
	}
	priv := ed25519.PrivateKey(plain)
	return identity.KeyPair{
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}

func (k *Keystore) save(name string, plaintext []byte, passphrase string) error {
	cip, err := k.registry.Cipher(k.cipherID)
	if err != nil {
		return err
	}
	h, err := k.registry.Hash(k.hashID)
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	iv := make([]byte, cip.IVSize())
	if _, err := rand.Read(iv); err != nil {
		return err
	}
	encKey, macKey := deriveKeys(passphrase, salt, cip.KeySize(), h)

	stream, err := cip.NewStream(encKey, iv)
	if err != nil {
		return err
	}
	ct := make([]byte, len(plaintext))
	stream.XORKeyStream(ct, plaintext)

	var b bytes.Buffer
	writeString(&b, k.cipherID)
	writeString(&b, k.hashID)
	b.Write(salt)
	b.Write(iv)
	var ctLen [4]byte
	binary.BigEndian.PutUint32(ctLen[:], uint32(len(ct)))
	b.Write(ctLen[:])
	b.Write(ct)

	mac := hmac.New(h.New, macKey)
	mac.Write(b.Bytes())
	b.Write(mac.Sum(nil))

	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(k.dir, name), b.Bytes(), 0o600)
}

func (k *Keystore) load(name string, passphrase string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(k.dir, name))
	if err != nil {
		return nil, err
	}

	rest := raw
	cipherID, rest, err := readString(rest)
	if err != nil {
		return nil, err
	}
	hashID, rest, err := readString(rest)
	if err != nil {
		return nil, err
	}
	cip, err := k.registry.Cipher(cipherID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	h, err := k.registry.Hash(hashID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if len(rest) < saltSize+cip.IVSize()+4 {
		return nil, ErrCorrupt
	}
	salt := rest[:saltSize]
	rest = rest[saltSize:]
	iv := rest[:cip.IVSize()]
	rest = rest[cip.IVSize():]
	ctLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if len(rest) < ctLen+h.Size() {
		return nil, ErrCorrupt
	}
	ct := rest[:ctLen]
	fileMAC := rest[ctLen:]
	if len(fileMAC) != h.Size() {
		return nil, ErrCorrupt
	}

	encKey, macKey := deriveKeys(passphrase, salt, cip.KeySize(), h)

	mac := hmac.New(h.New, macKey)
	mac.Write(raw[:len(raw)-h.Size()])
	if subtle.ConstantTimeCompare(mac.Sum(nil), fileMAC) != 1 {
		return nil, ErrBadPassphrase
	}

	stream, err := cip.NewStream(encKey, iv)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, ctLen)
	stream.XORKeyStream(plain, ct)
	return plain, nil
}

func deriveKeys(passphrase string, salt []byte, cipherKeySize int, h algo.Hash) (encKey, macKey []byte) {
	material := pbkdf2.Key([]byte(passphrase), salt, kdfRounds, cipherKeySize+macKeySize, h.New)
	return material[:cipherKeySize], material[cipherKeySize:]
}

func writeString(b *bytes.Buffer, s string) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	b.Write(l[:])
	b.WriteString(s)
}

func readString(rest []byte) (string, []byte, error) {
	if len(rest) < 2 {
		return "", nil, ErrCorrupt
	}
	l := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < l {
		return "", nil, ErrCorrupt
	}
	return string(rest[:l]), rest[l:], nil
}
