package matrix

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerlink/internal/domain"
	"peerlink/internal/store"
)

// defaultPollTimeout is the server-side long-poll window requested on
// each sync.
const defaultPollTimeout = 30 * time.Second

// Credentials authenticate one device against the homeserver.
type Credentials struct {
	UserID   string
	Password string
	DeviceID string
}

// Config wires a Client.
type Config struct {
	// BaseURL is the homeserver root, e.g. "https://beacon-node-1.sky.papers.tech".
	BaseURL string
	// HTTP defaults to http.DefaultClient. Sync requests need a client
	// without an aggressive global timeout; the long poll is bounded by
	// PollTimeout instead.
	HTTP *http.Client
	// Store receives sync progress and room deltas.
	Store *store.State
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// PollTimeout overrides defaultPollTimeout.
	PollTimeout time.Duration
}

// Client maintains one authenticated sync session against a homeserver.
type Client struct {
	base        string
	http        *http.Client
	st          *store.State
	log         *zap.Logger
	bus         *bus
	pollTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns an unstarted client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	return &Client{
		base:        cfg.BaseURL,
		http:        httpClient,
		st:          cfg.Store,
		log:         logger,
		bus:         newBus(),
		pollTimeout: pollTimeout,
	}
}

// Store exposes the state store backing this client.
func (c *Client) Store() *store.State { return c.st }

// SubscribeMessages registers a handler for timeline messages.
func (c *Client) SubscribeMessages(fn func(domain.MessageEvent)) *Subscription {
	return c.bus.subscribeMessages(fn)
}

// SubscribeInvites registers a handler for room invites.
func (c *Client) SubscribeInvites(fn func(domain.InviteEvent)) *Subscription {
	return c.bus.subscribeInvites(fn)
}

// Start logs in and launches the background sync loop. A login failure is
// fatal and leaves the client stopped.
func (c *Client) Start(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	var loginResp struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
		DeviceID    string `json:"device_id"`
	}
	err := c.do(ctx, http.MethodPost, apiPrefix+"/login", "", map[string]any{
		"type":      "m.login.password",
		"user":      creds.UserID,
		"password":  creds.Password,
		"device_id": creds.DeviceID,
	}, &loginResp)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	running := true
	pollMillis := c.pollTimeout.Milliseconds()
	if err := c.st.Update(store.Patch{
		IsRunning:      &running,
		UserID:         &loginResp.UserID,
		DeviceID:       &loginResp.DeviceID,
		AccessToken:    &loginResp.AccessToken,
		PollingTimeout: &pollMillis,
	}); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.syncLoop(loopCtx)
	return nil
}

// Stop terminates the sync loop and waits for it to exit. Outstanding
// sends complete or fail independently.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done

	running := false
	if err := c.st.Update(store.Patch{IsRunning: &running}); err != nil {
		c.log.Warn("recording stop", zap.Error(err))
	}
}

// JoinedRooms returns every room we are currently joined to.
func (c *Client) JoinedRooms() []domain.Room {
	return c.st.RoomsWithStatus(domain.RoomJoined)
}

// InvitedRooms returns every room we are currently invited to.
func (c *Client) InvitedRooms() []domain.Room {
	return c.st.RoomsWithStatus(domain.RoomInvited)
}

// RoomByID returns the tracked room with the given id.
func (c *Client) RoomByID(id string) (domain.Room, bool) {
	return c.st.Room(id)
}

// JoinRooms joins each room in turn, stopping at the first failure.
// A forbidden error is reported to the caller and is not fatal to the
// client.
func (c *Client) JoinRooms(ctx context.Context, roomIDs ...string) error {
	token, err := c.accessToken()
	if err != nil {
		return err
	}
	for _, id := range roomIDs {
		path := apiPrefix + "/rooms/" + url.PathEscape(id) + "/join"
		if err := c.do(ctx, http.MethodPost, path, token, struct{}{}, nil); err != nil {
			return fmt.Errorf("join %s: %w", id, err)
		}
		if err := c.st.Update(store.Patch{Rooms: []domain.Room{{ID: id, Status: domain.RoomJoined}}}); err != nil {
			return err
		}
	}
	return nil
}

// CreateTrustedPrivateRoom creates a direct private room with the given
// invitees and returns its id.
func (c *Client) CreateTrustedPrivateRoom(ctx context.Context, invitees ...string) (string, error) {
	token, err := c.accessToken()
	if err != nil {
		return "", err
	}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	err = c.do(ctx, http.MethodPost, apiPrefix+"/createRoom", token, map[string]any{
		"visibility": "private",
		"preset":     "trusted_private_chat",
		"is_direct":  true,
		"invite":     invitees,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	if err := c.st.Update(store.Patch{Rooms: []domain.Room{{ID: resp.RoomID, Status: domain.RoomJoined}}}); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

// InviteToRooms invites userID into each room.
func (c *Client) InviteToRooms(ctx context.Context, userID string, roomIDs ...string) error {
	token, err := c.accessToken()
	if err != nil {
		return err
	}
	for _, id := range roomIDs {
		path := apiPrefix + "/rooms/" + url.PathEscape(id) + "/invite"
		if err := c.do(ctx, http.MethodPost, path, token, map[string]string{"user_id": userID}, nil); err != nil {
			return fmt.Errorf("invite to %s: %w", id, err)
		}
	}
	return nil
}

// SendTextMessage posts a text message into the room.
func (c *Client) SendTextMessage(ctx context.Context, roomID, text string) error {
	token, err := c.accessToken()
	if err != nil {
		return err
	}
	txnID := fmt.Sprintf("m%d.%d", time.Now().UnixMilli(), c.st.NextTxn())
	path := apiPrefix + "/rooms/" + url.PathEscape(roomID) + "/send/m.room.message/" + txnID
	err = c.do(ctx, http.MethodPut, path, token, map[string]string{
		"msgtype": "m.text",
		"body":    text,
	}, nil)
	if err != nil {
		return fmt.Errorf("send to %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) accessToken() (string, error) {
	snap := c.st.Snapshot()
	if snap.AccessToken == "" {
		return "", domain.ErrNotReady
	}
	return snap.AccessToken, nil
}
