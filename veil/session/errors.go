package session

import "errors"

var (
	// Session establishment failures. Fatal to the attempt; the session
	// moves to Failed and a new Session must be created to retry.
	ErrNegotiationTampered = errors.New("session: negotiation transcript mismatch")
	ErrHandshakeTimeout    = errors.New("session: handshake deadline exceeded")
	ErrHandshakeFailed     = errors.New("session: handshake verification failed")

	// Per-frame failures. The frame is dropped and the session survives,
	// except that repeated authentication failures past the configured
	// limit escalate to session-fatal.
	ErrAuthenticationFailed = errors.New("session: frame authentication failed")
	ErrReplayDetected       = errors.New("session: frame sequence number replayed")
	ErrSequenceGap          = errors.New("session: frame outside reorder window")
	ErrUnknownEpoch         = errors.New("session: frame for unknown key epoch")
	ErrAuthFailureLimit     = errors.New("session: authentication failure limit exceeded")

	// Caller contract violations.
	ErrKeysExpired         = errors.New("session: no active key epoch")
	ErrOperationInProgress = errors.New("session: handshake or rekey already in flight")
	ErrSessionTerminal     = errors.New("session: session is closed or failed")
	ErrUnexpectedMessage   = errors.New("session: message not valid in current state")
)
