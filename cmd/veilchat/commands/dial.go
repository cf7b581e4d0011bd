package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veil-im/veil/veil"
	"github.com/veil-im/veil/veil/identity"
)

func dialCmd() *cobra.Command {
	var expectedPeer string

	cmd := &cobra.Command{
		Use:   "dial <addr>",
		Short: "Connect to a listening peer and chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if expectedPeer == "" {
				expectedPeer = cfg.Peer
			}

			kp, err := keys.LoadIdentity(passphrase)
			if err != nil {
				return err
			}
			peer := veil.NewPeer(kp, registry)
			cfg.apply(peer)
			peer.Logger = logger

			if expectedPeer != "" {
				id, err := identity.ParsePeerIDHex(expectedPeer)
				if err != nil {
					return fmt.Errorf("bad --peer value: %w", err)
				}
				peer.ExpectedPeer = &id
			}

			conn, err := peer.Dial(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer conn.Close()
			return chat(cmd.Context(), conn)
		},
	}

	cmd.Flags().StringVar(&expectedPeer, "peer", "", "pin the remote peer id (hex)")
	return cmd
}
