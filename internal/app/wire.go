package app

import (
	"go.uber.org/zap"

	"peerlink/internal/domain"
	"peerlink/internal/p2p"
	"peerlink/internal/store"
)

// Wire bundles the stores and client factory for the CLI.
type Wire struct {
	cfg Config

	Identity *store.IdentityFileStore
	Storage  domain.Storage
	Logger   *zap.Logger
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) *Wire {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wire{
		cfg:      cfg,
		Identity: store.NewIdentityFileStore(cfg.Home),
		Storage:  store.NewFileStorage(cfg.Home),
		Logger:   logger,
	}
}

// P2PClient builds an unstarted client around the stored identity.
func (w *Wire) P2PClient() (*p2p.Client, error) {
	kp, err := w.Identity.Load()
	if err != nil {
		return nil, err
	}
	return p2p.New(p2p.Config{
		Name:     w.cfg.Name,
		Keypair:  kp,
		Nodes:    w.cfg.Nodes,
		IconURL:  w.cfg.IconURL,
		AppURL:   w.cfg.AppURL,
		IsWallet: w.cfg.IsWallet,
		Storage:  w.Storage,
		Logger:   w.Logger,
		HTTP:     w.cfg.HTTP,
	})
}
