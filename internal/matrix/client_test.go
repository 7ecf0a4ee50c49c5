package matrix_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peerlink/internal/domain"
	"peerlink/internal/matrix"
	"peerlink/internal/store"
)

// fakeHomeserver is the minimal API surface the client consumes.
type fakeHomeserver struct {
	t *testing.T

	syncCalls atomic.Int64
	firstSync string // JSON payload returned by the first sync

	sentBodies chan string // bodies of m.room.message sends
	joined     chan string // room ids joined
}

func newFakeHomeserver(t *testing.T, firstSync string) (*fakeHomeserver, *httptest.Server) {
	f := &fakeHomeserver{
		t:          t,
		firstSync:  firstSync,
		sentBodies: make(chan string, 16),
		joined:     make(chan string, 16),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeHomeserver) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/_matrix/client/r0")
	switch {
	case path == "/login":
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["password"] == "wrong" {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"errcode": "M_FORBIDDEN", "error": "bad credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"user_id":      "@" + req["user"].(string) + ":node",
			"access_token": "tok-1",
			"device_id":    req["device_id"].(string),
		})
	case path == "/sync":
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.syncCalls.Add(1) == 1 {
			_, _ = w.Write([]byte(f.firstSync))
			return
		}
		// Later rounds idle briefly and return an empty delta.
		time.Sleep(20 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]string{"next_batch": "s-idle"})
	case strings.HasSuffix(path, "/join"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/rooms/"), "/join")
		if strings.Contains(id, "forbidden") {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"errcode": "M_FORBIDDEN", "error": "not invited"})
			return
		}
		f.joined <- id
		_ = json.NewEncoder(w).Encode(map[string]string{"room_id": id})
	case path == "/createRoom":
		_ = json.NewEncoder(w).Encode(map[string]string{"room_id": "!new:node"})
	case strings.Contains(path, "/send/m.room.message/"):
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.sentBodies <- body["body"]
		_ = json.NewEncoder(w).Encode(map[string]string{"event_id": "$1"})
	case strings.HasSuffix(path, "/invite"):
		w.WriteHeader(http.StatusOK)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func startedClient(t *testing.T, srv *httptest.Server) *matrix.Client {
	t.Helper()
	st := store.NewState(store.NewMemoryStorage(), zap.NewNop())
	c := matrix.New(matrix.Config{
		BaseURL:     srv.URL,
		Store:       st,
		Logger:      zap.NewNop(),
		PollTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, c.Start(context.Background(), matrix.Credentials{
		UserID: "alice", Password: "pw", DeviceID: "dev-1",
	}))
	t.Cleanup(c.Stop)
	return c
}

const syncWithMessage = `{
	"next_batch": "s-1",
	"rooms": {
		"join": {
			"!room:node": {
				"timeline": {"events": [
					{"type": "m.room.message", "sender": "@peer:node",
					 "origin_server_ts": 99,
					 "content": {"msgtype": "m.text", "body": "ping"}}
				]}
			}
		},
		"invite": {
			"!inv:node": {"invite_state": {"events": []}}
		}
	}
}`

func TestStart_LoginAndSyncDeliversEvents(t *testing.T) {
	_, srv := newFakeHomeserver(t, syncWithMessage)

	st := store.NewState(store.NewMemoryStorage(), zap.NewNop())
	c := matrix.New(matrix.Config{
		BaseURL:     srv.URL,
		Store:       st,
		Logger:      zap.NewNop(),
		PollTimeout: 100 * time.Millisecond,
	})

	messages := make(chan domain.MessageEvent, 1)
	invites := make(chan domain.InviteEvent, 1)
	c.SubscribeMessages(func(ev domain.MessageEvent) { messages <- ev })
	c.SubscribeInvites(func(ev domain.InviteEvent) { invites <- ev })

	require.NoError(t, c.Start(context.Background(), matrix.Credentials{
		UserID: "alice", Password: "pw", DeviceID: "dev-1",
	}))
	defer c.Stop()

	select {
	case ev := <-messages:
		assert.Equal(t, "!room:node", ev.RoomID)
		assert.Equal(t, "ping", ev.Message.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no message event")
	}
	select {
	case ev := <-invites:
		assert.Equal(t, "!inv:node", ev.RoomID)
	case <-time.After(2 * time.Second):
		t.Fatal("no invite event")
	}

	snap := st.Snapshot()
	assert.True(t, snap.IsRunning)
	assert.Equal(t, "@alice:node", snap.UserID)
	assert.Equal(t, "dev-1", snap.DeviceID)
	assert.NotEmpty(t, snap.SyncToken)
}

func TestStart_BadLoginIsFatal(t *testing.T) {
	_, srv := newFakeHomeserver(t, "{}")

	st := store.NewState(store.NewMemoryStorage(), zap.NewNop())
	c := matrix.New(matrix.Config{BaseURL: srv.URL, Store: st, Logger: zap.NewNop()})

	err := c.Start(context.Background(), matrix.Credentials{UserID: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.False(t, st.Snapshot().IsRunning)
}

func TestJoinRooms_ForbiddenSurfaced(t *testing.T) {
	_, srv := newFakeHomeserver(t, "{}")
	c := startedClient(t, srv)

	err := c.JoinRooms(context.Background(), "!forbidden:node")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestJoinRooms_TracksMembership(t *testing.T) {
	f, srv := newFakeHomeserver(t, "{}")
	c := startedClient(t, srv)

	require.NoError(t, c.JoinRooms(context.Background(), "!ok:node"))
	assert.Equal(t, "!ok:node", <-f.joined)

	room, ok := c.RoomByID("!ok:node")
	require.True(t, ok)
	assert.Equal(t, domain.RoomJoined, room.Status)
	assert.Len(t, c.JoinedRooms(), 1)
}

func TestSendTextMessage(t *testing.T) {
	f, srv := newFakeHomeserver(t, "{}")
	c := startedClient(t, srv)

	require.NoError(t, c.SendTextMessage(context.Background(), "!room:node", "payload"))
	assert.Equal(t, "payload", <-f.sentBodies)
}

func TestSend_BeforeStartIsNotReady(t *testing.T) {
	st := store.NewState(store.NewMemoryStorage(), zap.NewNop())
	c := matrix.New(matrix.Config{BaseURL: "http://unused", Store: st, Logger: zap.NewNop()})

	err := c.SendTextMessage(context.Background(), "!r:node", "x")
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestCreateTrustedPrivateRoom(t *testing.T) {
	_, srv := newFakeHomeserver(t, "{}")
	c := startedClient(t, srv)

	id, err := c.CreateTrustedPrivateRoom(context.Background(), "@peer:node")
	require.NoError(t, err)
	assert.Equal(t, "!new:node", id)

	room, ok := c.RoomByID(id)
	require.True(t, ok)
	assert.Equal(t, domain.RoomJoined, room.Status)
}
