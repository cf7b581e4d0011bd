package algo

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"hash"
	"sync"
)

var (
	ErrDuplicateAlgorithm = errors.New("algo: algorithm id already registered in category")
	ErrUnknownAlgorithm   = errors.New("algo: unknown algorithm")
	ErrRegistryFrozen     = errors.New("algo: registry is frozen")
	ErrBadImplementation  = errors.New("algo: implementation does not match category")
)

// Category identifies one cryptographic concern. Each category is an
// independent namespace for algorithm ids.
type Category uint8

const (
	CategoryKeyExchange Category = iota + 1
	CategoryCipher
	CategoryAEAD
	CategoryHash
)

func (c Category) String() string {
	switch c {
	case CategoryKeyExchange:
		return "key-exchange"
	case CategoryCipher:
		return "cipher"
	case CategoryAEAD:
		return "aead"
	case CategoryHash:
		return "hash"
	default:
		return "unknown"
	}
}

// KeyExchange constructs per-handshake exchange state. Implementations cover
// both Diffie-Hellman and KEM shapes with a single one-round-trip pattern.
type KeyExchange interface {
	// NewExchange creates fresh exchange state. One Exchange serves exactly
	// one handshake attempt.
	NewExchange() (Exchange, error)
}

// Exchange is one in-flight key exchange.
//
// The initiator calls Parameter and sends the result; the responder calls
// Exchange on the received parameter, sends the reply, and holds the shared
// secret; the initiator calls Complete on the reply to obtain the same
// secret. The secret is never exposed on the wire.
type Exchange interface {
	Parameter() ([]byte, error)
	Exchange(peerParameter []byte) (reply, secret []byte, err error)
	Complete(reply []byte) (secret []byte, err error)
}

// Cipher constructs unauthenticated keystream ciphers. Used for at-rest
// encryption; transport frames always use an AEAD.
type Cipher interface {
	KeySize() int
	IVSize() int
	NewStream(key, iv []byte) (cipher.Stream, error)
}

// AEAD constructs authenticated ciphers for frame protection.
type AEAD interface {
	KeySize() int
	New(key []byte) (cipher.AEAD, error)
}

// Hash constructs hash instances, used for key derivation and MACs.
type Hash interface {
	Size() int
	New() hash.Hash
}

// Descriptor binds an algorithm id to its implementation within a category.
type Descriptor struct {
	ID       string
	Category Category
	Impl     any
}

type categoryKey struct {
	id       string
	category Category
}

// Registry maps algorithm ids to implementations. Registration happens at
// startup; after Freeze the registry is immutable and Resolve calls need no
// locking.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	algos  map[categoryKey]any
	ids    map[Category][]string
}

func NewRegistry() *Registry {
	return &Registry{
		algos: make(map[categoryKey]any),
		ids:   make(map[Category][]string),
	}
}

// Register binds d.ID to d.Impl in d.Category. The implementation must
// satisfy the category's contract interface.
func (r *Registry) Register(d Descriptor) error {
	switch d.Category {
	case CategoryKeyExchange:
		if _, ok := d.Impl.(KeyExchange); !ok {
			return fmt.Errorf("%w: %q is not a KeyExchange", ErrBadImplementation, d.ID)
		}
	case CategoryCipher:
		if _, ok := d.Impl.(Cipher); !ok {
			return fmt.Errorf("%w: %q is not a Cipher", ErrBadImplementation, d.ID)
		}
	case CategoryAEAD:
		if _, ok := d.Impl.(AEAD); !ok {
			return fmt.Errorf("%w: %q is not an AEAD", ErrBadImplementation, d.ID)
		}
	case CategoryHash:
		if _, ok := d.Impl.(Hash); !ok {
			return fmt.Errorf("%w: %q is not a Hash", ErrBadImplementation, d.ID)
		}
	default:
		return fmt.Errorf("%w: unknown category %d", ErrBadImplementation, d.Category)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	key := categoryKey{id: d.ID, category: d.Category}
	if _, exists := r.algos[key]; exists {
		return fmt.Errorf("%w: %s %q", ErrDuplicateAlgorithm, d.Category, d.ID)
	}
	r.algos[key] = d.Impl
	r.ids[d.Category] = append(r.ids[d.Category], d.ID)
	return nil
}

// Freeze makes the registry immutable. Resolve on a frozen registry performs
// plain map reads with no synchronization.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) resolve(id string, category Category) (any, error) {
	if !r.isFrozen() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	impl, ok := r.algos[categoryKey{id: id, category: category}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownAlgorithm, category, id)
	}
	return impl, nil
}

func (r *Registry) isFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) KeyExchange(id string) (KeyExchange, error) {
	impl, err := r.resolve(id, CategoryKeyExchange)
	if err != nil {
		return nil, err
	}
	return impl.(KeyExchange), nil
}

func (r *Registry) Cipher(id string) (Cipher, error) {
	impl, err := r.resolve(id, CategoryCipher)
	if err != nil {
		return nil, err
	}
	return impl.(Cipher), nil
}

func (r *Registry) AEAD(id string) (AEAD, error) {
	impl, err := r.resolve(id, CategoryAEAD)
	if err != nil {
		return nil, err
	}
	return impl.(AEAD), nil
}

func (r *Registry) Hash(id string) (Hash, error) {
	impl, err := r.resolve(id, CategoryHash)
	if err != nil {
		return nil, err
	}
	return impl.(Hash), nil
}

// IDs returns the registered ids for a category in registration order.
func (r *Registry) IDs(category Category) []string {
	if !r.isFrozen() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return append([]string(nil), r.ids[category]...)
}

// Default returns a frozen registry with every built-in algorithm.
func Default() *Registry {
	r := NewRegistry()
	builtins := []Descriptor{
		{ID: IDX25519, Category: CategoryKeyExchange, Impl: X25519{}},
		{ID: IDMLKEM768, Category: CategoryKeyExchange, Impl: MLKEM768{}},
		{ID: IDChaCha20, Category: CategoryCipher, Impl: ChaCha20{}},
		{ID: IDAES256CTR, Category: CategoryCipher, Impl: AES256CTR{}},
		{ID: IDChaCha20Poly1305, Category: CategoryAEAD, Impl: ChaCha20Poly1305{}},
		{ID: IDAES256GCM, Category: CategoryAEAD, Impl: AES256GCM{}},
		{ID: IDSHA256, Category: CategoryHash, Impl: SHA256{}},
		{ID: IDSHA512, Category: CategoryHash, Impl: SHA512{}},
		{ID: IDBLAKE2b256, Category: CategoryHash, Impl: BLAKE2b256{}},
	}
	for _, d := range builtins {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	r.Freeze()
	return r
}
