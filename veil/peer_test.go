package veil

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veil-im/veil/veil/identity"
	"github.com/veil-im/veil/veil/session"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return NewPeer(kp, nil)
}

func TestPeerDialAccept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newTestPeer(t)
	client := newTestPeer(t)

	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	type acceptResult struct {
		conn *Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := server.Accept(ctx)
		acceptCh <- acceptResult{conn, err}
	}()

	clientConn, err := client.Dial(ctx, server.ListenAddr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()

	res := <-acceptCh
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	serverConn := res.conn
	defer serverConn.Close()

	if clientConn.RemotePeer() != server.Identity.PeerID() {
		t.Fatalf("client sees wrong peer")
	}
	if serverConn.RemotePeer() != client.Identity.PeerID() {
		t.Fatalf("server sees wrong peer")
	}

	cRes, ok := clientConn.Result()
	if !ok {
		t.Fatalf("client has no negotiation result")
	}
	sRes, _ := serverConn.Result()
	if cRes != sRes {
		t.Fatalf("negotiation results differ")
	}

	if err := clientConn.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := serverConn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(msg, []byte("ping")) {
		t.Fatalf("server got %q", msg)
	}

	if err := serverConn.Send([]byte("pong")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err = clientConn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(msg, []byte("pong")) {
		t.Fatalf("client got %q", msg)
	}
}

func TestPeerRekeyOverTransport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newTestPeer(t)
	client := newTestPeer(t)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	connCh := make(chan *Conn, 1)
	go func() {
		conn, err := server.Accept(ctx)
		if err != nil {
			connCh <- nil
			return
		}
		connCh <- conn
	}()

	clientConn, err := client.Dial(ctx, server.ListenAddr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientConn.Close()
	serverConn := <-connCh
	if serverConn == nil {
		t.Fatalf("accept failed")
	}
	defer serverConn.Close()

	if err := clientConn.Rekey(); err != nil {
		t.Fatalf("Rekey: %v", err)
	}

	// Traffic after the rekey settles proves both sides rotated.
	deadline := time.Now().Add(5 * time.Second)
	for clientConn.Epoch() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if clientConn.Epoch() != 1 {
		t.Fatalf("client epoch = %d, want 1", clientConn.Epoch())
	}

	if err := clientConn.Send([]byte("post-rekey")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := serverConn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(msg, []byte("post-rekey")) {
		t.Fatalf("server got %q", msg)
	}
}

func TestPeerPinningRejectsImpostor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newTestPeer(t)
	client := newTestPeer(t)

	stranger, _ := identity.GenerateKeyPair()
	strangerID := stranger.PeerID()
	client.ExpectedPeer = &strangerID

	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	go func() {
		if conn, err := server.Accept(ctx); err == nil {
			conn.Close()
		}
	}()

	if _, err := client.Dial(ctx, server.ListenAddr()); !errors.Is(err, session.ErrHandshakeFailed) {
		t.Fatalf("expected ErrHandshakeFailed, got %v", err)
	}
}

func TestPeerCloseUnblocksReceive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := newTestPeer(t)
	client := newTestPeer(t)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	connCh := make(chan *Conn, 1)
	go func() {
		conn, _ := server.Accept(ctx)
		connCh <- conn
	}()

	clientConn, err := client.Dial(ctx, server.ListenAddr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	serverConn := <-connCh
	if serverConn == nil {
		t.Fatalf("accept failed")
	}
	defer serverConn.Close()

	clientConn.Close()
	if _, err := clientConn.Receive(ctx); err == nil {
		t.Fatalf("Receive succeeded after Close")
	}
	if err := clientConn.Send([]byte("x")); err == nil {
		t.Fatalf("Send succeeded after Close")
	}
}

func TestAcceptWithoutListen(t *testing.T) {
	p := newTestPeer(t)
	if _, err := p.Accept(context.Background()); !errors.Is(err, ErrNotListening) {
		t.Fatalf("expected ErrNotListening, got %v", err)
	}
}
