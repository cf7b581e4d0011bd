package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veil-im/veil/veil/identity"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity keypair and store it encrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			kp, err := identity.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := keys.SaveIdentity(kp, passphrase); err != nil {
				return err
			}
			fmt.Printf("Identity created.\nPeer ID: %s\n", kp.PeerID())
			return nil
		},
	}
}
