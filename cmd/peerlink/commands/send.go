package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"peerlink/internal/domain"
)

// send <message>: encrypt and ship a message to the paired peer.
func sendCmd() *cobra.Command {
	var peerFile string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send an encrypted message to a paired peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			raw, err := os.ReadFile(peerFile)
			if err != nil {
				return err
			}
			var peer domain.PeerInfo
			if err := json.Unmarshal(raw, &peer); err != nil {
				return fmt.Errorf("parse peer descriptor: %w", err)
			}

			wire := newWire(false)
			client, err := wire.P2PClient()
			if err != nil {
				return err
			}
			if err := client.Start(ctx); err != nil {
				return err
			}
			defer client.Stop()

			if err := client.SendMessage(ctx, peer, []byte(args[0])); err != nil {
				return err
			}
			printf("sent\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&peerFile, "peer", "", "peer descriptor file (the one written by pair, or the request file given to respond)")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}
