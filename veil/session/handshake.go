package session

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/veil-im/veil/veil/algo"
	"github.com/veil-im/veil/veil/identity"
	"github.com/veil-im/veil/veil/negotiate"
	"github.com/veil-im/veil/veil/protocol"
)

// handshakeState is one in-flight key exchange: the initial handshake or a
// rekey. At most one exists per session at a time.
type handshakeState struct {
	role       negotiate.Role // role within this exchange, not the session
	rekey      bool
	epoch      uint32
	exch       algo.Exchange
	transcript *negotiate.Transcript
	keys       *sessionKeys
	ch         *channel
	finalHash  []byte // transcript hash at key derivation
}

func (hs *handshakeState) abandon() {
	if hs == nil {
		return
	}
	hs.keys.zero()
}

// buildCapabilities encodes and absorbs the local capability list.
func (s *Session) buildCapabilities() ([]byte, error) {
	caps := protocol.Capabilities{
		Role:        uint8(s.cfg.Role),
		KeyExchange: s.localCaps.KeyExchange,
		Cipher:      s.localCaps.Cipher,
		AEAD:        s.localCaps.AEAD,
		Hash:        s.localCaps.Hash,
	}
	if _, err := rand.Read(caps.Nonce[:]); err != nil {
		return nil, err
	}
	return s.absorbOutbound(protocol.Frame{
		Type:    protocol.MessageTypeCapabilities,
		Payload: protocol.EncodeCapabilities(caps),
	})
}

// absorbOutbound encodes a frame for transmission and feeds the exact wire
// bytes to the active transcript.
func (s *Session) absorbOutbound(f protocol.Frame) ([]byte, error) {
	raw, err := f.Encode()
	if err != nil {
		return nil, err
	}
	s.activeTranscript().Absorb(raw)
	return raw, nil
}

// absorbInbound feeds a received frame's wire bytes to the active transcript.
func (s *Session) absorbInbound(f protocol.Frame) error {
	raw, err := f.Encode()
	if err != nil {
		return err
	}
	s.activeTranscript().Absorb(raw)
	return nil
}

func (s *Session) activeTranscript() *negotiate.Transcript {
	if s.hs != nil && s.hs.transcript != nil {
		return s.hs.transcript
	}
	return s.transcript
}

// signedStep builds a handshake step: the key-exchange parameter, the local
// identity key, and a signature over the transcript hash as it stands before
// this step is absorbed. The peer verifies against the same hash.
func (s *Session) signedStep(step uint8, parameter []byte) protocol.HandshakeStep {
	sum := s.activeTranscript().Sum()
	return protocol.HandshakeStep{
		Step:        step,
		Parameter:   parameter,
		IdentityKey: append([]byte(nil), s.cfg.Identity.PublicKey...),
		Signature:   s.cfg.Identity.Sign(sum[:]),
	}
}

// verifyStep checks the peer's identity binding: signature over the current
// transcript hash, and, when a peer is pinned, the identity itself.
func (s *Session) verifyStep(step protocol.HandshakeStep) error {
	sum := s.activeTranscript().Sum()
	if !identity.Verify(step.IdentityKey, sum[:], step.Signature) {
		return fmt.Errorf("%w: bad handshake signature", ErrHandshakeFailed)
	}
	peer := identity.PeerIDFromPublicKey(step.IdentityKey)
	if s.cfg.ExpectedPeer != nil && peer != *s.cfg.ExpectedPeer {
		return fmt.Errorf("%w: unexpected peer identity %s", ErrHandshakeFailed, peer)
	}
	s.remotePeer = peer
	return nil
}

// handleCapabilities processes the peer's capability list and advances
// Negotiating -> Handshaking. The initiator answers with its first
// handshake step; the responder answers with its own capability list.
func (s *Session) handleCapabilities(f protocol.Frame) ([]byte, error) {
	caps, err := protocol.DecodeCapabilities(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if caps.Role == uint8(s.cfg.Role) {
		return nil, fmt.Errorf("%w: both peers claim role %s", ErrHandshakeFailed, s.cfg.Role)
	}
	remote := negotiate.CapabilitySet{
		KeyExchange: caps.KeyExchange,
		Cipher:      caps.Cipher,
		AEAD:        caps.AEAD,
		Hash:        caps.Hash,
	}
	if err := s.absorbInbound(f); err != nil {
		return nil, err
	}

	result, err := negotiate.Negotiate(s.localCaps, remote, s.cfg.Role)
	if err != nil {
		return nil, err
	}
	if err := s.resolveResult(result); err != nil {
		return nil, err
	}
	s.result = result
	s.negotiated = true

	if s.cfg.Role == negotiate.RoleResponder {
		out, err := s.buildCapabilities()
		if err != nil {
			return nil, err
		}
		s.hs = &handshakeState{role: negotiate.RoleResponder}
		s.transition(StateHandshaking)
		return out, nil
	}

	// Initiator: open the key exchange.
	exch, err := s.kex.NewExchange()
	if err != nil {
		return nil, err
	}
	s.hs = &handshakeState{role: negotiate.RoleInitiator, exch: exch}
	param, err := exch.Parameter()
	if err != nil {
		return nil, err
	}
	step := s.signedStep(protocol.HandshakeStepInitiate, param)
	out, err := s.absorbOutbound(protocol.Frame{
		Type:    protocol.MessageTypeHandshakeStep,
		Payload: protocol.EncodeHandshakeStep(step),
	})
	if err != nil {
		return nil, err
	}
	s.transition(StateHandshaking)
	return out, nil
}

// resolveResult looks up every negotiated algorithm. A failed lookup is a
// local configuration defect: the capability list advertised something the
// registry cannot resolve.
func (s *Session) resolveResult(r negotiate.Result) error {
	var err error
	if s.kex, err = s.cfg.Registry.KeyExchange(r.KeyExchange); err != nil {
		return err
	}
	if s.aead, err = s.cfg.Registry.AEAD(r.AEAD); err != nil {
		return err
	}
	if s.hash, err = s.cfg.Registry.Hash(r.Hash); err != nil {
		return err
	}
	return nil
}

// handleHandshakeStep drives the key exchange for both the initial
// handshake (frame type HANDSHAKE_STEP) and rekeys (frame type REKEY).
func (s *Session) handleHandshakeStep(f protocol.Frame, rekey bool) ([]byte, error) {
	step, err := protocol.DecodeHandshakeStep(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	switch step.Step {
	case protocol.HandshakeStepInitiate:
		return s.handleStepInitiate(f, step, rekey)
	case protocol.HandshakeStepRespond:
		return s.handleStepRespond(f, step)
	default:
		return nil, fmt.Errorf("%w: step %d", ErrHandshakeFailed, step.Step)
	}
}

// handleStepInitiate is the responder side of an exchange: verify, produce
// the reply, derive keys, and confirm.
func (s *Session) handleStepInitiate(f protocol.Frame, step protocol.HandshakeStep, rekey bool) ([]byte, error) {
	if rekey {
		if err := s.beginRekeyResponder(); err != nil {
			return nil, err
		}
	}
	if s.hs == nil || s.hs.role != negotiate.RoleResponder {
		return nil, fmt.Errorf("%w: unsolicited handshake initiation", ErrHandshakeFailed)
	}
	if err := s.verifyStep(step); err != nil {
		return nil, err
	}

	exch, err := s.kex.NewExchange()
	if err != nil {
		return nil, err
	}
	s.hs.exch = exch
	reply, secret, err := exch.Exchange(step.Parameter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if err := s.absorbInbound(f); err != nil {
		return nil, err
	}

	replyStep := s.signedStep(protocol.HandshakeStepRespond, reply)
	ftype := protocol.MessageTypeHandshakeStep
	if s.hs.rekey {
		ftype = protocol.MessageTypeRekey
	}
	out, err := s.absorbOutbound(protocol.Frame{
		Type:    ftype,
		Payload: protocol.EncodeHandshakeStep(replyStep),
	})
	if err != nil {
		return nil, err
	}

	if err := s.deriveKeys(secret); err != nil {
		return nil, err
	}
	confirm, err := s.buildKeyConfirm()
	if err != nil {
		return nil, err
	}
	return append(out, confirm...), nil
}

// handleStepRespond is the initiator side: verify the reply, complete the
// exchange and derive keys. The confirmation wait continues until the
// peer's KEY_CONFIRM arrives.
func (s *Session) handleStepRespond(f protocol.Frame, step protocol.HandshakeStep) ([]byte, error) {
	if s.hs == nil || s.hs.role != negotiate.RoleInitiator || s.hs.exch == nil {
		return nil, fmt.Errorf("%w: unsolicited handshake reply", ErrHandshakeFailed)
	}
	if s.hs.keys != nil {
		return nil, fmt.Errorf("%w: duplicate handshake reply", ErrHandshakeFailed)
	}
	if err := s.verifyStep(step); err != nil {
		return nil, err
	}
	if err := s.absorbInbound(f); err != nil {
		return nil, err
	}
	secret, err := s.hs.exch.Complete(step.Parameter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return nil, s.deriveKeys(secret)
}

// deriveKeys turns the exchange secret into this epoch's keys and channel.
// The transcript hash at this moment salts the derivation.
func (s *Session) deriveKeys(secret []byte) error {
	defer zeroBytes(secret)
	sum := s.activeTranscript().Sum()
	s.hs.finalHash = append([]byte(nil), sum[:]...)

	keys, err := deriveSessionKeys(s.hash, secret, s.hs.finalHash, s.hs.role, s.hs.epoch)
	if err != nil {
		return err
	}
	ch, err := newChannel(s.aead, keys, s.cfg.ReplayWindow)
	if err != nil {
		keys.zero()
		return err
	}
	s.hs.keys = keys
	s.hs.ch = ch
	return nil
}

func (s *Session) buildKeyConfirm() ([]byte, error) {
	mac := confirmMAC(s.hash, s.hs.keys.confirmSend, s.hs.finalHash)
	f := protocol.Frame{Type: protocol.MessageTypeKeyConfirm, Payload: mac}
	return f.Encode()
}

// handleKeyConfirm verifies the peer's confirmation MAC. A mismatch means
// the two sides saw different negotiation transcripts: the downgrade check.
func (s *Session) handleKeyConfirm(f protocol.Frame) ([]byte, error) {
	if s.hs == nil || s.hs.keys == nil {
		return nil, fmt.Errorf("%w: confirmation before key derivation", ErrHandshakeFailed)
	}
	expected := confirmMAC(s.hash, s.hs.keys.confirmRecv, s.hs.finalHash)
	if !hmac.Equal(expected, f.Payload) {
		return nil, ErrNegotiationTampered
	}

	var out []byte
	if s.hs.role == negotiate.RoleInitiator {
		// The responder confirmed first; answer with our confirmation.
		confirm, err := s.buildKeyConfirm()
		if err != nil {
			return nil, err
		}
		out = confirm
	}
	s.activate()
	return out, nil
}

// activate installs the freshly derived channel as the current epoch and
// retires the one before it. The retired epoch stays decodable until the
// next rekey so in-flight frames are not lost at the boundary.
func (s *Session) activate() {
	if s.prev != nil {
		s.prev.zero()
	}
	s.prev = s.cur
	s.cur = s.hs.ch
	s.lastTranscriptHash = s.hs.finalHash
	s.hs = nil
	s.deadline = time.Time{}
	if s.state != StateEstablished {
		s.transition(StateEstablished)
	}
}

// startRekey opens a rekey exchange as its initiator. Either end of the
// session may start one.
func (s *Session) startRekey() ([]byte, error) {
	exch, err := s.kex.NewExchange()
	if err != nil {
		return nil, err
	}
	s.hs = &handshakeState{
		role:       negotiate.RoleInitiator,
		rekey:      true,
		epoch:      s.cur.epoch + 1,
		exch:       exch,
		transcript: s.rekeyTranscript(),
	}
	param, err := exch.Parameter()
	if err != nil {
		s.hs = nil
		return nil, err
	}
	step := s.signedStep(protocol.HandshakeStepInitiate, param)
	out, err := s.absorbOutbound(protocol.Frame{
		Type:    protocol.MessageTypeRekey,
		Payload: protocol.EncodeHandshakeStep(step),
	})
	if err != nil {
		s.hs = nil
		return nil, err
	}
	s.deadline = time.Now().Add(s.cfg.HandshakeTimeout)
	s.transition(StateRekeying)
	return out, nil
}

// beginRekeyResponder prepares responder state for a peer-initiated rekey.
// When both sides initiate at once, the session initiator's attempt wins:
// the session responder abandons its own and services the peer's.
func (s *Session) beginRekeyResponder() error {
	switch s.state {
	case StateEstablished:
		s.transition(StateRekeying)
	case StateRekeying:
		if s.cfg.Role == negotiate.RoleInitiator {
			return fmt.Errorf("%w: crossed rekey, peer yields", ErrUnexpectedMessage)
		}
		s.hs.abandon()
	default:
		return fmt.Errorf("%w: rekey in state %s", ErrUnexpectedMessage, s.state)
	}
	s.hs = &handshakeState{
		role:       negotiate.RoleResponder,
		rekey:      true,
		epoch:      s.cur.epoch + 1,
		transcript: s.rekeyTranscript(),
	}
	s.deadline = time.Now().Add(s.cfg.HandshakeTimeout)
	return nil
}

// rekeyTranscript starts a fresh transcript seeded with the previous
// epoch's final hash, chaining every epoch back to the original
// negotiation.
func (s *Session) rekeyTranscript() *negotiate.Transcript {
	t := negotiate.NewTranscript()
	t.Absorb(s.lastTranscriptHash)
	return t
}
