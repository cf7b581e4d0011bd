package veil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veil-im/veil/veil/algo"
	"github.com/veil-im/veil/veil/identity"
	"github.com/veil-im/veil/veil/negotiate"
	"github.com/veil-im/veil/veil/session"
	"github.com/veil-im/veil/veil/transport/quic"
)

var (
	ErrNotListening = errors.New("veil: peer is not listening")
	ErrConnClosed   = errors.New("veil: connection closed")
)

var noDeadline time.Time

// Peer is a high-level helper that combines transport + session.
// It intentionally stays small so applications can customize transport
// and higher-level behavior by using the subpackages directly.
type Peer struct {
	Identity identity.KeyPair
	Registry *algo.Registry

	// Capabilities is the preference-ranked algorithm support offered to
	// remotes. Zero value: everything in Registry, registration order.
	Capabilities negotiate.CapabilitySet

	// ExpectedPeer pins the remote identity on outbound connections.
	ExpectedPeer *identity.PeerID

	// ReplayWindow is the per-epoch reorder tolerance in frames.
	// Zero uses the session default.
	ReplayWindow int

	// RekeyAfterMessages and RekeyAfterAge trigger automatic key
	// rotation. Zero uses the session defaults.
	RekeyAfterMessages uint64
	RekeyAfterAge      time.Duration

	Logger zerolog.Logger

	listener *quic.Listener
}

func NewPeer(kp identity.KeyPair, reg *algo.Registry) *Peer {
	if reg == nil {
		reg = algo.Default()
	}
	return &Peer{
		Identity: kp,
		Registry: reg,
		Logger:   zerolog.Nop(),
	}
}

func (p *Peer) Listen(addr string) error {
	ln, err := quic.Listen(addr)
	if err != nil {
		return err
	}
	p.listener = ln
	return nil
}

func (p *Peer) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

func (p *Peer) ListenAddr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.AddrString()
}

// Accept waits for an inbound connection and completes the VEIL handshake
// as the responder.
func (p *Peer) Accept(ctx context.Context) (*Conn, error) {
	if p.listener == nil {
		return nil, ErrNotListening
	}
	tc, err := p.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return p.connect(ctx, tc, negotiate.RoleResponder)
}

// Dial connects to addr and completes the VEIL handshake as the initiator.
func (p *Peer) Dial(ctx context.Context, addr string) (*Conn, error) {
	tc, err := quic.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return p.connect(ctx, tc, negotiate.RoleInitiator)
}

func (p *Peer) connect(ctx context.Context, tc *quic.Conn, role negotiate.Role) (*Conn, error) {
	sess, err := session.New(session.Config{
		Registry:     p.Registry,
		Role:         role,
		Identity:     p.Identity,
		Capabilities: p.Capabilities,
		ExpectedPeer: p.ExpectedPeer,

		ReplayWindow:       p.ReplayWindow,
		RekeyAfterMessages: p.RekeyAfterMessages,
		RekeyAfterAge:      p.RekeyAfterAge,
	})
	if err != nil {
		tc.Close()
		return nil, err
	}

	c := &Conn{
		sess:     sess,
		tc:       tc,
		log:      p.Logger,
		incoming: make(chan []byte, 32),
		done:     make(chan struct{}),
	}
	if err := c.handshake(ctx); err != nil {
		tc.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

// Conn is one established VEIL connection over QUIC.
type Conn struct {
	sess *session.Session
	tc   *quic.Conn
	log  zerolog.Logger

	writeMu  sync.Mutex
	incoming chan []byte

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

func (c *Conn) handshake(ctx context.Context) error {
	out, err := c.sess.Start()
	if err != nil {
		return err
	}
	if len(out) > 0 {
		if err := c.write(out); err != nil {
			return err
		}
	}

	if dl, ok := ctx.Deadline(); ok {
		c.tc.Control.SetReadDeadline(dl)
		defer c.tc.Control.SetReadDeadline(noDeadline)
	}

	buf := make([]byte, 16*1024)
	for c.sess.State() != session.StateEstablished {
		n, err := c.tc.Control.Read(buf)
		if n > 0 {
			act, ferr := c.sess.Feed(buf[:n])
			if act != nil && len(act.Outbound) > 0 {
				if werr := c.write(act.Outbound); werr != nil {
					return werr
				}
			}
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readLoop pumps transport bytes through the session until the connection
// dies. Decrypted messages land on the incoming channel; advisory frame
// drops are logged and skipped.
func (c *Conn) readLoop() {
	buf := make([]byte, 16*1024)
	for {
		n, err := c.tc.Control.Read(buf)
		if n > 0 {
			act, ferr := c.sess.Feed(buf[:n])
			if act != nil {
				for _, w := range act.Warnings {
					c.log.Warn().Err(w).Msg("frame dropped")
				}
				if len(act.Outbound) > 0 {
					if werr := c.write(act.Outbound); werr != nil {
						c.shutdown(werr)
						return
					}
				}
				for _, m := range act.Messages {
					select {
					case c.incoming <- m:
					case <-c.done:
						return
					}
				}
			}
			if ferr != nil {
				c.shutdown(ferr)
				return
			}
			if c.sess.State().Terminal() {
				c.shutdown(ErrConnClosed)
				return
			}
		}
		if err != nil {
			c.shutdown(err)
			return
		}
	}
}

// Send encrypts plaintext and transmits it. Key rotation happens
// transparently when a rekey threshold is crossed.
func (c *Conn) Send(plaintext []byte) error {
	select {
	case <-c.done:
		return c.closeErr()
	default:
	}
	out, err := c.sess.SendMessage(plaintext)
	if err != nil {
		return err
	}
	return c.write(out)
}

// Receive returns the next decrypted message from the peer.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.incoming:
		return m, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Rekey forces an immediate key rotation.
func (c *Conn) Rekey() error {
	out, err := c.sess.Rekey()
	if err != nil {
		return err
	}
	return c.write(out)
}

// RemotePeer returns the authenticated identity of the remote.
func (c *Conn) RemotePeer() identity.PeerID { return c.sess.RemotePeer() }

// Result returns the negotiated algorithm set.
func (c *Conn) Result() (negotiate.Result, bool) { return c.sess.Result() }

// Epoch returns the current key epoch.
func (c *Conn) Epoch() uint32 { return c.sess.Epoch() }

// Close notifies the peer, zeroes key material and tears down the
// transport. Safe to call multiple times.
func (c *Conn) Close() error {
	if out := c.sess.Close(); len(out) > 0 {
		c.write(out) // best effort
	}
	c.shutdown(ErrConnClosed)
	return nil
}

func (c *Conn) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.tc.Control.Write(b)
	return err
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		c.tc.Close()
	})
}

func (c *Conn) closeErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		return ErrConnClosed
	}
	return c.err
}
