package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veil-im/veil/veil"
)

func listenCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for an inbound chat connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if addr == "" {
				addr = cfg.Listen
			}
			if addr == "" {
				addr = "127.0.0.1:0"
			}

			kp, err := keys.LoadIdentity(passphrase)
			if err != nil {
				return err
			}
			peer := veil.NewPeer(kp, registry)
			cfg.apply(peer)
			peer.Logger = logger

			if err := peer.Listen(addr); err != nil {
				return err
			}
			defer peer.Close()
			logger.Info().
				Str("addr", peer.ListenAddr()).
				Str("peer_id", kp.PeerID().String()).
				Msg("listening")

			conn, err := peer.Accept(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return chat(cmd.Context(), conn)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "l", "", "listen address (host:port)")
	return cmd
}
