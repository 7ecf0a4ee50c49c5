package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"peerlink/internal/domain"
)

// respond: act as the wallet side. Answer a pairing request that arrived
// out-of-band, then keep printing decrypted session traffic.
func respondCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "respond <pairing-request.json>",
		Short: "Answer a pairing request as the wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var request domain.PeerInfo
			if err := json.Unmarshal(raw, &request); err != nil {
				return fmt.Errorf("parse pairing request: %w", err)
			}
			if request.Type != domain.PairingRequestType {
				return fmt.Errorf("descriptor is a %q, expected a pairing request", request.Type)
			}

			wire := newWire(true)
			client, err := wire.P2PClient()
			if err != nil {
				return err
			}
			if err := client.Start(ctx); err != nil {
				return err
			}
			defer client.Stop()

			printf("Responding to pairing request %s from %q...\n", request.ID, request.Name)
			if err := client.SendPairingResponse(ctx, request); err != nil {
				return err
			}
			printf("Pairing response delivered.\n")

			err = client.ListenForEncryptedMessage(request.PublicKey, func(plaintext []byte) {
				printf("<- %s\n", plaintext)
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
}
