package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"peerlink/internal/crypto"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the long-term identity keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			wire := newWire(false)
			if wire.Identity.Exists() && !force {
				return fmt.Errorf("identity already exists in %s (use --force to replace)", home)
			}
			kp, err := crypto.NewKeypair()
			if err != nil {
				return err
			}
			if err := wire.Identity.Save(kp); err != nil {
				return err
			}
			hash, err := kp.PublicKeyHash()
			if err != nil {
				return err
			}
			printf("Identity created.\nPublic key: %s\nSender id:  %s\n", kp.PublicKeyHex(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}
