package commands

import (
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"peerlink/internal/domain"
)

// pair: act as the dApp side. Print a pairing request for the wallet to
// scan, then wait for the sealed-box response and any session traffic.
func pairCmd() *cobra.Command {
	var out string
	var noQR bool
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Start a pairing and wait for a wallet to respond",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			wire := newWire(false)
			client, err := wire.P2PClient()
			if err != nil {
				return err
			}
			if err := client.Start(ctx); err != nil {
				return err
			}
			defer client.Stop()

			request, err := client.PairingRequestInfo()
			if err != nil {
				return err
			}
			payload, err := json.Marshal(request)
			if err != nil {
				return err
			}

			printf("Pairing request (share with the wallet):\n%s\n\n", payload)
			if !noQR {
				qrterminal.GenerateWithConfig(string(payload), qrterminal.Config{
					Level:     qrterminal.M,
					Writer:    os.Stdout,
					BlackChar: qrterminal.BLACK,
					WhiteChar: qrterminal.WHITE,
					QuietZone: 1,
				})
			}

			paired := make(chan domain.ExtendedPeerInfo, 1)
			sub, err := client.ListenForChannelOpening(func(info domain.ExtendedPeerInfo) {
				select {
				case paired <- info:
				default:
				}
			})
			if err != nil {
				return err
			}
			defer sub.Cancel()

			printf("Waiting for the wallet...\n")
			var peer domain.ExtendedPeerInfo
			select {
			case <-ctx.Done():
				return ctx.Err()
			case peer = <-paired:
			}
			printf("Paired with %q (sender id %s)\n", peer.Name, peer.SenderID)

			if out == "" {
				out = filepath.Join(home, "peer.json")
			}
			descriptor, err := json.MarshalIndent(peer, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, descriptor, 0o600); err != nil {
				return err
			}
			printf("Peer descriptor written to %s\n", out)

			err = client.ListenForEncryptedMessage(peer.PublicKey, func(plaintext []byte) {
				printf("<- %s\n", plaintext)
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "where to write the peer descriptor (default <home>/peer.json)")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "skip the QR code")
	return cmd
}
