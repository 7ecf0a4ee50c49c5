package commands

import (
	"github.com/spf13/cobra"

	"peerlink/internal/domain"
	"peerlink/internal/relay"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the local identity and its relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			wire := newWire(false)
			kp, err := wire.Identity.Load()
			if err != nil {
				return err
			}
			hash, err := kp.PublicKeyHash()
			if err != nil {
				return err
			}

			node, ok, err := wire.Storage.Get(domain.StorageSelectedNode)
			if err != nil {
				return err
			}
			if !ok {
				node, err = relay.NewSelector(nodes).Select(hash, "0")
				if err != nil {
					return err
				}
				node += " (not pinned yet)"
			}

			printf("Public key: %s\nSender id:  %s\nRelay:      %s\n", kp.PublicKeyHex(), hash, node)
			return nil
		},
	}
}
