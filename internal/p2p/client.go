package p2p

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"peerlink/internal/crypto"
	"peerlink/internal/domain"
	"peerlink/internal/matrix"
	"peerlink/internal/relay"
	"peerlink/internal/store"
)

const (
	// channelOpenPrefix tags handshake messages on the shared bus.
	channelOpenPrefix = "@channel-open"

	// initialEventMaxAge bounds how long a captured early message stays
	// replayable for a late listener.
	initialEventMaxAge = 5 * time.Minute

	// joinRetryDelay and joinRetryMax bound tryJoinRooms. A freshly
	// invited user can be rejected by a federated server for a moment.
	joinRetryDelay = 200 * time.Millisecond
	joinRetryMax   = 10
)

// Version is the pairing protocol version advertised in peer descriptors.
const Version = "2"

// Config carries everything a Client needs.
type Config struct {
	// Name identifies this app to peers.
	Name string
	// Keypair is the long-term identity.
	Keypair crypto.Keypair
	// ReplicationCount is advisory only; the core targets one active
	// relay regardless.
	ReplicationCount int
	// Nodes is the relay candidate list; empty falls back to the
	// built-in set. Entries may carry a scheme for local development.
	Nodes []string
	// IconURL and AppURL are optional descriptor fields.
	IconURL string
	AppURL  string
	// IsWallet enables the standby-room lifecycle.
	IsWallet bool
	// Storage persists state, routing and the standby room.
	Storage domain.Storage
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// HTTP is handed to the chat client.
	HTTP *http.Client
	// PollTimeout overrides the chat client's long-poll window.
	PollTimeout time.Duration
}

// Client is the peer-to-peer communication client.
type Client struct {
	cfg      Config
	kp       crypto.Keypair
	pubHash  string
	selector *relay.Selector
	storage  domain.Storage
	log      *zap.Logger

	mu          sync.Mutex
	started     bool
	relayServer string
	chat        *matrix.Client

	sessionMu      sync.Mutex
	clientSessions map[string]domain.SessionKeys // keyed by peer public key hex
	serverSessions map[string]domain.SessionKeys

	listenerMu sync.Mutex
	listeners  map[string]*matrix.Subscription // keyed by sender hash

	initialMu    sync.Mutex
	initialSub   *matrix.Subscription
	initialEvent *domain.MessageEvent
	initialSeen  time.Time

	routingMu sync.Mutex
}

// New builds an unstarted client.
func New(cfg Config) (*Client, error) {
	pubHash, err := cfg.Keypair.PublicKeyHash()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:            cfg,
		kp:             cfg.Keypair,
		pubHash:        pubHash,
		selector:       relay.NewSelector(cfg.Nodes),
		storage:        cfg.Storage,
		log:            logger,
		clientSessions: make(map[string]domain.SessionKeys),
		serverSessions: make(map[string]domain.SessionKeys),
		listeners:      make(map[string]*matrix.Subscription),
	}, nil
}

// PublicKeyHash returns the hex hash identifying this client on the
// substrate.
func (c *Client) PublicKeyHash() string { return c.pubHash }

// RelayServer returns the relay this client is connected to.
func (c *Client) RelayServer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return "", domain.ErrNotReady
	}
	return c.relayServer, nil
}

// Start selects a relay, logs in with the signature-derived credential
// and brings up the sync session. When configured as a wallet it also
// provisions the standby room.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	password, err := crypto.LoginCredentials(c.kp, time.Now())
	if err != nil {
		return err
	}

	node, err := c.selectNode()
	if err != nil {
		return err
	}
	c.relayServer = node

	chat := matrix.New(matrix.Config{
		BaseURL:     nodeURL(node),
		HTTP:        c.cfg.HTTP,
		Store:       store.NewState(c.storage, c.log),
		Logger:      c.log,
		PollTimeout: c.cfg.PollTimeout,
	})
	c.chat = chat

	// Remember the most recent message seen before any caller registers
	// an encrypted-message listener, so an early channel open survives
	// the startup gap.
	c.initialMu.Lock()
	c.initialSub = chat.SubscribeMessages(func(ev domain.MessageEvent) {
		c.captureInitialEvent(ev)
	})
	c.initialMu.Unlock()

	chat.SubscribeInvites(func(ev domain.InviteEvent) {
		go c.tryJoinRooms(context.Background(), chat, ev.RoomID)
	})

	err = chat.Start(ctx, matrix.Credentials{
		UserID:   c.pubHash,
		Password: password,
		DeviceID: c.kp.PublicKeyHex(),
	})
	if err != nil {
		return err
	}

	for _, room := range chat.InvitedRooms() {
		c.tryJoinRooms(ctx, chat, room.ID)
	}

	if c.cfg.IsWallet {
		if err := c.ensureStandbyRoom(ctx, chat); err != nil {
			c.log.Warn("provisioning standby room", zap.Error(err))
		}
	}

	c.started = true
	return nil
}

// Stop tears down the sync session.
func (c *Client) Stop() {
	c.mu.Lock()
	chat := c.chat
	c.started = false
	c.mu.Unlock()
	if chat != nil {
		chat.Stop()
	}
}

// selectNode prefers the relay pinned at first start; otherwise it runs
// deterministic selection over the configured list and pins the result.
func (c *Client) selectNode() (string, error) {
	if pinned, ok, err := c.storage.Get(domain.StorageSelectedNode); err != nil {
		return "", err
	} else if ok && pinned != "" {
		return pinned, nil
	}
	node, err := c.selector.Select(c.pubHash, "0")
	if err != nil {
		return "", err
	}
	if err := c.storage.Set(domain.StorageSelectedNode, node); err != nil {
		return "", err
	}
	return node, nil
}

// tryJoinRooms joins with bounded retries: a forbidden response is
// retried on a short delay, anything else is logged and abandoned.
func (c *Client) tryJoinRooms(ctx context.Context, chat *matrix.Client, roomID string) {
	for attempt := 1; ; attempt++ {
		err := chat.JoinRooms(ctx, roomID)
		if err == nil {
			return
		}
		if !isForbidden(err) || attempt >= joinRetryMax {
			c.log.Warn("joining room", zap.String("room_id", roomID), zap.Int("attempt", attempt), zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(joinRetryDelay):
		}
	}
}

func (c *Client) requireStarted() (*matrix.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.chat == nil {
		return nil, domain.ErrNotReady
	}
	return c.chat, nil
}

func (c *Client) captureInitialEvent(ev domain.MessageEvent) {
	c.initialMu.Lock()
	defer c.initialMu.Unlock()
	if c.initialSub == nil {
		return
	}
	if c.initialEvent == nil || ev.Message.Timestamp >= c.initialEvent.Message.Timestamp {
		copied := ev
		c.initialEvent = &copied
		c.initialSeen = time.Now()
	}
}

// Recipient is the canonical substrate address "@<hash>:<relay>" for a
// peer public key on a relay.
func Recipient(publicKeyHex, relayServer string) (string, error) {
	pk, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	hash, err := crypto.SenderHash(pk)
	if err != nil {
		return "", err
	}
	return "@" + hash + ":" + relayServer, nil
}

// DeriveSenderID returns the sender id for a peer public key, the
// identity half of its recipient address.
func DeriveSenderID(publicKeyHex string) (string, error) {
	pk, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	return crypto.SenderHash(pk)
}

// PairingRequestInfo builds the descriptor shipped out-of-band to start
// a pairing.
func (c *Client) PairingRequestInfo() (domain.PeerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return domain.PeerInfo{}, domain.ErrNotReady
	}
	return domain.PeerInfo{
		ID:          uuid.NewString(),
		Type:        domain.PairingRequestType,
		Name:        c.cfg.Name,
		Version:     Version,
		PublicKey:   c.kp.PublicKeyHex(),
		RelayServer: c.relayServer,
		Icon:        c.cfg.IconURL,
		AppURL:      c.cfg.AppURL,
	}, nil
}

// PairingResponseInfo answers a pairing request with our own descriptor,
// keeping the request id so the requester can correlate.
func (c *Client) PairingResponseInfo(request domain.PeerInfo) (domain.PeerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return domain.PeerInfo{}, domain.ErrNotReady
	}
	return domain.PeerInfo{
		ID:          request.ID,
		Type:        domain.PairingResponseType,
		Name:        c.cfg.Name,
		Version:     Version,
		PublicKey:   c.kp.PublicKeyHex(),
		RelayServer: c.relayServer,
		Icon:        c.cfg.IconURL,
		AppURL:      c.cfg.AppURL,
	}, nil
}

func parsePeerInfo(raw []byte) (domain.PeerInfo, error) {
	var info domain.PeerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return domain.PeerInfo{}, err
	}
	if info.PublicKey == "" {
		return domain.PeerInfo{}, fmt.Errorf("peer descriptor missing public key")
	}
	return info, nil
}

func isForbidden(err error) bool {
	return errors.Is(err, domain.ErrForbidden)
}

// nodeURL turns a configured node name into a base URL. Production nodes
// are bare hostnames; development entries may carry their own scheme.
func nodeURL(node string) string {
	if strings.Contains(node, "://") {
		return node
	}
	return "https://" + node
}

func isTextPrefix(msg domain.TextMessage, prefix string) bool {
	return msg.Kind == domain.MessageText && strings.HasPrefix(msg.Content, prefix)
}
