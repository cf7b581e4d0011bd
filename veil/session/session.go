package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veil-im/veil/veil/algo"
	"github.com/veil-im/veil/veil/identity"
	"github.com/veil-im/veil/veil/negotiate"
	"github.com/veil-im/veil/veil/protocol"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReplayWindow     = 1024
	DefaultAuthFailureLimit = 8
	DefaultRekeyAfterMsgs   = 1 << 20
	DefaultRekeyAfterAge    = time.Hour
)

// Config configures one session. Registry and Identity are required.
type Config struct {
	Registry *algo.Registry
	Role     negotiate.Role
	Identity identity.KeyPair

	// Capabilities is the preference-ranked local algorithm support.
	// Zero value: every algorithm in the registry, registration order.
	Capabilities negotiate.CapabilitySet

	// ExpectedPeer pins the remote identity. Nil accepts any peer whose
	// handshake signature verifies.
	ExpectedPeer *identity.PeerID

	// HandshakeTimeout bounds negotiation, handshake and rekey exchanges.
	HandshakeTimeout time.Duration

	// ReplayWindow is the reorder tolerance in frames per epoch.
	ReplayWindow int

	// AuthFailureLimit escalates to session-fatal after this many
	// consecutive frame authentication failures. 0 uses the default;
	// negative disables escalation.
	AuthFailureLimit int

	// RekeyAfterMessages and RekeyAfterAge trigger automatic rekeying.
	// 0 uses the defaults.
	RekeyAfterMessages uint64
	RekeyAfterAge      time.Duration

	// AssociatedData is bound into every data frame's authentication.
	AssociatedData []byte
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ReplayWindow == 0 {
		c.ReplayWindow = DefaultReplayWindow
	}
	if c.AuthFailureLimit == 0 {
		c.AuthFailureLimit = DefaultAuthFailureLimit
	}
	if c.RekeyAfterMessages == 0 {
		c.RekeyAfterMessages = DefaultRekeyAfterMsgs
	}
	if c.RekeyAfterAge == 0 {
		c.RekeyAfterAge = DefaultRekeyAfterAge
	}
}

// Activity is what one Feed call produced: application plaintexts that
// became available, bytes the caller must transmit, and advisory per-frame
// errors for frames that were dropped without killing the session.
type Activity struct {
	Messages [][]byte
	Outbound []byte
	Warnings []error
}

// Session is one secure point-to-point session. All methods are safe for
// concurrent use; state transitions are serialized internally.
type Session struct {
	cfg Config

	mu         sync.Mutex
	state      State
	parser     protocol.Parser
	transcript *negotiate.Transcript
	localCaps  negotiate.CapabilitySet

	negotiated bool
	result     negotiate.Result
	kex        algo.KeyExchange
	aead       algo.AEAD
	hash       algo.Hash

	hs                 *handshakeState
	cur                *channel
	prev               *channel
	lastTranscriptHash []byte
	deadline           time.Time
	authFails          int
	remotePeer         identity.PeerID
}

func New(cfg Config) (*Session, error) {
	if cfg.Registry == nil {
		return nil, errors.New("session: config requires a registry")
	}
	if len(cfg.Identity.PrivateKey) == 0 {
		return nil, errors.New("session: config requires an identity keypair")
	}
	if cfg.Role != negotiate.RoleInitiator && cfg.Role != negotiate.RoleResponder {
		return nil, errors.New("session: config requires a role")
	}
	cfg.applyDefaults()

	caps := cfg.Capabilities
	if len(caps.KeyExchange) == 0 && len(caps.Cipher) == 0 && len(caps.AEAD) == 0 && len(caps.Hash) == 0 {
		caps = negotiate.FromRegistry(cfg.Registry)
	}

	return &Session{
		cfg:        cfg,
		state:      StateIdle,
		transcript: negotiate.NewTranscript(),
		localCaps:  caps.Clone(),
	}, nil
}

// Start begins the session. The initiator receives its capability message
// to transmit; the responder receives nil and waits for incoming bytes.
func (s *Session) Start() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, ErrOperationInProgress
	}
	s.deadline = time.Now().Add(s.cfg.HandshakeTimeout)
	s.transition(StateNegotiating)

	if s.cfg.Role == negotiate.RoleResponder {
		return nil, nil
	}
	return s.buildCapabilities()
}

// Feed consumes raw transport bytes, demultiplexes frames, and advances the
// state machine. Fatal errors leave the session Failed; per-frame drops are
// reported as warnings and the session survives.
func (s *Session) Feed(b []byte) (*Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil, ErrSessionTerminal
	}
	act := &Activity{}
	s.parser.Push(b)

	for {
		f, ok, err := s.parser.Next()
		if err != nil {
			return act, s.fail(err)
		}
		if !ok {
			return act, nil
		}
		if err := s.checkDeadline(); err != nil {
			return act, s.fail(err)
		}
		if done, err := s.dispatch(f, act); err != nil {
			return act, s.fail(err)
		} else if done {
			return act, nil
		}
	}
}

// dispatch routes one frame by type and state. A true result means the
// session reached a terminal state and remaining buffered frames are
// discarded.
func (s *Session) dispatch(f protocol.Frame, act *Activity) (bool, error) {
	switch f.Type {
	case protocol.MessageTypeClose:
		s.zeroAll()
		s.transition(StateClosed)
		return true, nil

	case protocol.MessageTypeCapabilities:
		if s.state != StateNegotiating {
			return false, fmt.Errorf("%w: capabilities in state %s", ErrHandshakeFailed, s.state)
		}
		out, err := s.handleCapabilities(f)
		if err != nil {
			return false, err
		}
		act.Outbound = append(act.Outbound, out...)
		return false, nil

	case protocol.MessageTypeHandshakeStep:
		if s.state != StateHandshaking {
			return false, fmt.Errorf("%w: handshake step in state %s", ErrHandshakeFailed, s.state)
		}
		out, err := s.handleHandshakeStep(f, false)
		if err != nil {
			return false, err
		}
		act.Outbound = append(act.Outbound, out...)
		return false, nil

	case protocol.MessageTypeKeyConfirm:
		if s.state != StateHandshaking && s.state != StateRekeying {
			act.Warnings = append(act.Warnings, fmt.Errorf("%w: key confirm in state %s", ErrUnexpectedMessage, s.state))
			return false, nil
		}
		out, err := s.handleKeyConfirm(f)
		if err != nil {
			return false, err
		}
		act.Outbound = append(act.Outbound, out...)
		return false, nil

	case protocol.MessageTypeRekey:
		if s.state != StateEstablished && s.state != StateRekeying {
			act.Warnings = append(act.Warnings, fmt.Errorf("%w: rekey in state %s", ErrUnexpectedMessage, s.state))
			return false, nil
		}
		out, err := s.handleHandshakeStep(f, true)
		if errors.Is(err, ErrUnexpectedMessage) {
			// Crossed rekey: the peer yields to ours.
			act.Warnings = append(act.Warnings, err)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		act.Outbound = append(act.Outbound, out...)
		return false, nil

	case protocol.MessageTypeData:
		return false, s.handleData(f, act)

	default:
		act.Warnings = append(act.Warnings, fmt.Errorf("%w: type %d", ErrUnexpectedMessage, f.Type))
		return false, nil
	}
}

// handleData decodes one data frame through the channel owning its epoch.
func (s *Session) handleData(f protocol.Frame, act *Activity) error {
	if s.state != StateEstablished && s.state != StateRekeying {
		act.Warnings = append(act.Warnings, fmt.Errorf("%w: data in state %s", ErrUnexpectedMessage, s.state))
		return nil
	}
	df, err := protocol.DecodeDataFrame(f.Payload)
	if err != nil {
		act.Warnings = append(act.Warnings, err)
		return nil
	}
	ch := s.channelFor(df.Epoch)
	if ch == nil {
		act.Warnings = append(act.Warnings, fmt.Errorf("%w: epoch %d", ErrUnknownEpoch, df.Epoch))
		return nil
	}

	plaintext, err := ch.decode(df, s.cfg.AssociatedData)
	switch {
	case err == nil:
		s.authFails = 0
		act.Messages = append(act.Messages, plaintext)
		return nil
	case errors.Is(err, ErrAuthenticationFailed):
		s.authFails++
		if s.cfg.AuthFailureLimit > 0 && s.authFails >= s.cfg.AuthFailureLimit {
			return fmt.Errorf("%w after %d frames", ErrAuthFailureLimit, s.authFails)
		}
		act.Warnings = append(act.Warnings, err)
		return nil
	default:
		// Replay or out-of-window: drop the frame, keep the session.
		act.Warnings = append(act.Warnings, err)
		return nil
	}
}

// channelFor maps a frame epoch to the channel able to decode it: the
// current epoch, a just-derived epoch the peer switched to first, or the
// retired previous epoch.
func (s *Session) channelFor(epoch uint32) *channel {
	if s.cur != nil && s.cur.epoch == epoch {
		return s.cur
	}
	if s.hs != nil && s.hs.ch != nil && s.hs.ch.epoch == epoch {
		return s.hs.ch
	}
	if s.prev != nil && s.prev.epoch == epoch {
		return s.prev
	}
	return nil
}

// SendMessage encrypts plaintext under the current key epoch and returns
// the bytes to transmit. During a rekey, frames continue under the current
// epoch until the peer confirms the new keys. Crossing a rekey threshold
// appends the rekey opener to the returned bytes.
func (s *Session) SendMessage(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished && s.state != StateRekeying {
		return nil, ErrKeysExpired
	}
	df, err := s.cur.encode(plaintext, s.cfg.AssociatedData)
	if err != nil {
		return nil, err
	}
	out, err := protocol.Frame{
		Type:    protocol.MessageTypeData,
		Payload: protocol.EncodeDataFrame(df),
	}.Encode()
	if err != nil {
		return nil, err
	}

	if s.state == StateEstablished && s.rekeyDue() {
		rk, err := s.startRekey()
		if err != nil {
			return out, nil
		}
		out = append(out, rk...)
	}
	return out, nil
}

func (s *Session) rekeyDue() bool {
	return s.cur.sentMessages() >= s.cfg.RekeyAfterMessages ||
		s.cur.age() >= s.cfg.RekeyAfterAge
}

// Rekey explicitly starts a key rotation. At most one handshake or rekey
// may be in flight; a second attempt fails rather than queuing.
func (s *Session) Rekey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateEstablished:
		return s.startRekey()
	case StateNegotiating, StateHandshaking, StateRekeying:
		return nil, ErrOperationInProgress
	default:
		return nil, ErrSessionTerminal
	}
}

// Close releases the session: key material is zeroed and the state becomes
// Closed. The returned bytes, if any, carry the close notification for the
// peer; transmitting them is best effort. Close is idempotent.
func (s *Session) Close() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil
	}
	out, _ := protocol.Frame{Type: protocol.MessageTypeClose}.Encode()
	s.zeroAll()
	s.transition(StateClosed)
	return out
}

func (s *Session) checkDeadline() error {
	switch s.state {
	case StateNegotiating, StateHandshaking, StateRekeying:
		if !s.deadline.IsZero() && time.Now().After(s.deadline) {
			return ErrHandshakeTimeout
		}
	}
	return nil
}

// fail zeroes key material and parks the session in Failed. The original
// error passes through to the caller.
func (s *Session) fail(err error) error {
	s.zeroAll()
	if !s.state.Terminal() {
		s.transition(StateFailed)
	}
	return err
}

func (s *Session) zeroAll() {
	s.hs.abandon()
	s.hs = nil
	s.cur.zero()
	s.cur = nil
	s.prev.zero()
	s.prev = nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the negotiated algorithm set, once negotiation has
// concluded.
func (s *Session) Result() (negotiate.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.negotiated
}

// RemotePeer returns the authenticated peer identity, known after the first
// verified handshake step.
func (s *Session) RemotePeer() identity.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remotePeer
}

// Epoch returns the current send key epoch.
func (s *Session) Epoch() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return 0
	}
	return s.cur.epoch
}
