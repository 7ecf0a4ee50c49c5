package app

import (
	"net/http"

	"go.uber.org/zap"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home     string       // config directory, e.g. $HOME/.peerlink
	Name     string       // app name advertised in pairing descriptors
	Nodes    []string     // relay candidates; empty uses the built-in set
	IsWallet bool         // enables the standby-room lifecycle
	IconURL  string       // optional descriptor field
	AppURL   string       // optional descriptor field
	HTTP     *http.Client // optional; defaults to http.DefaultClient
	Logger   *zap.Logger  // optional; defaults to zap.NewNop()
}
