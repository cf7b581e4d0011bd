package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/veil-im/veil/veil"
)

// chat runs the interactive loop on an established connection: stdin
// lines go out encrypted, incoming messages print to stdout. Returns
// when stdin closes or the connection dies.
func chat(ctx context.Context, conn *veil.Conn) error {
	if res, ok := conn.Result(); ok {
		logger.Info().
			Str("peer", conn.RemotePeer().String()).
			Str("kex", res.KeyExchange).
			Str("aead", res.AEAD).
			Str("hash", res.Hash).
			Msg("session established")
	}

	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Receive(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			fmt.Printf("<< %s\n", msg)
		}
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				conn.Close()
				return nil
			}
			if line == "" {
				continue
			}
			if line == "/rekey" {
				if err := conn.Rekey(); err != nil {
					logger.Warn().Err(err).Msg("rekey refused")
					continue
				}
				logger.Info().Uint32("epoch", conn.Epoch()).Msg("rekey started")
				continue
			}
			if err := conn.Send([]byte(line)); err != nil {
				return err
			}
		case err := <-recvErr:
			if errors.Is(err, veil.ErrConnClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}
