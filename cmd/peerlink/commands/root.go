package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"peerlink/internal/app"
)

var (
	home    string
	appName string
	nodes   []string
	verbose bool

	logger *zap.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:   "peerlink",
		Short: "Wallet and dApp pairing with encrypted messaging over federated chat relays",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".peerlink")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			logger = zap.NewNop()
			if verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.peerlink)")
	root.PersistentFlags().StringVar(&appName, "name", "peerlink", "app name shown to peers")
	root.PersistentFlags().StringSliceVar(&nodes, "node", nil, "relay node (repeatable; default built-in set)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client internals")

	root.AddCommand(initCmd(), infoCmd(), pairCmd(), respondCmd(), sendCmd())
	return root.Execute()
}

// newWire builds the dependency graph for one command invocation.
func newWire(isWallet bool) *app.Wire {
	return app.NewWire(app.Config{
		Home:     home,
		Name:     appName,
		Nodes:    nodes,
		IsWallet: isWallet,
		Logger:   logger,
	})
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}
