// Package quic carries VEIL frames over QUIC streams. TLS here only
// provides an encrypted pipe with self-signed certificates; real peer
// authentication happens inside the VEIL handshake on top of it.
package quic

import (
	"context"
	"net"
	"time"

	q "github.com/quic-go/quic-go"
)

const (
	defaultIdleTimeout = 2 * time.Minute
	keepAlivePeriod    = 15 * time.Second
)

func quicConfig() *q.Config {
	return &q.Config{
		MaxIdleTimeout:  defaultIdleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}
}

type Listener struct {
	inner *q.Listener
}

func Listen(addr string) (*Listener, error) {
	tlsConf, err := NewServerTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := q.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{inner: ln}, nil
}

// Accept waits for the next inbound QUIC connection and its control
// stream. The control stream is the first bidirectional stream opened
// by the dialer and carries all VEIL protocol frames.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	conn, err := l.inner.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no control stream")
		return nil, err
	}
	return &Conn{inner: conn, Control: stream}, nil
}

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }

func (l *Listener) AddrString() string {
	if l.inner == nil {
		return ""
	}
	return l.inner.Addr().String()
}

func (l *Listener) Close() error { return l.inner.Close() }

// Conn is a QUIC connection with its VEIL control stream already open.
type Conn struct {
	inner   q.Connection
	Control q.Stream
}

func (c *Conn) RemoteAddr() net.Addr { return c.inner.RemoteAddr() }

func (c *Conn) Close() error {
	return c.inner.CloseWithError(0, "closed")
}

func Dial(ctx context.Context, addr string) (*Conn, error) {
	tlsConf, err := NewClientTLSConfig()
	if err != nil {
		return nil, err
	}
	conn, err := q.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "no control stream")
		return nil, err
	}
	return &Conn{inner: conn, Control: stream}, nil
}
