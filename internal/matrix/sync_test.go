package matrix

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"peerlink/internal/domain"
	"peerlink/internal/store"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	st := store.NewState(store.NewMemoryStorage(), zap.NewNop())
	return New(Config{BaseURL: "http://unused", Store: st, Logger: zap.NewNop()})
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestProcessSync_MergesRoomsAndPublishes(t *testing.T) {
	c := testClient(t)

	var gotMessages []domain.MessageEvent
	var gotInvites []domain.InviteEvent
	c.SubscribeMessages(func(ev domain.MessageEvent) { gotMessages = append(gotMessages, ev) })
	c.SubscribeInvites(func(ev domain.InviteEvent) { gotInvites = append(gotInvites, ev) })

	stateKey := "@peer:node"
	resp := &syncResponse{NextBatch: "s-1"}
	resp.Rooms.Join = map[string]joinedRoom{
		"!joined:node": func() joinedRoom {
			var jr joinedRoom
			jr.State.Events = []roomEvent{{
				Type:     "m.room.member",
				StateKey: &stateKey,
				Content:  mustRaw(t, memberContent{Membership: "join"}),
			}}
			jr.Timeline.Events = []roomEvent{
				{
					Type:           "m.room.message",
					Sender:         "@peer:node",
					OriginServerTS: 1234,
					Content:        mustRaw(t, messageContent{MsgType: "m.text", Body: "hello"}),
				},
				{
					Type:    "m.room.message",
					Sender:  "@peer:node",
					Content: mustRaw(t, messageContent{MsgType: "m.image", Body: "ignored"}),
				},
			}
			return jr
		}(),
	}
	resp.Rooms.Invite = map[string]invitedRoom{
		"!invited:node": {},
	}
	resp.Rooms.Leave = map[string]struct{}{"!left:node": {}}

	c.processSync(resp)

	snap := c.st.Snapshot()
	assert.Equal(t, "s-1", snap.SyncToken)
	assert.Zero(t, snap.PollingRetries)

	joined, ok := c.st.Room("!joined:node")
	require.True(t, ok)
	assert.Equal(t, domain.RoomJoined, joined.Status)
	assert.True(t, joined.HasMember("@peer:node"))

	invited, _ := c.st.Room("!invited:node")
	assert.Equal(t, domain.RoomInvited, invited.Status)
	left, _ := c.st.Room("!left:node")
	assert.Equal(t, domain.RoomLeft, left.Status)

	// Only the text message is surfaced.
	require.Len(t, gotMessages, 1)
	assert.Equal(t, "hello", gotMessages[0].Message.Content)
	assert.Equal(t, domain.MessageText, gotMessages[0].Message.Kind)
	assert.Equal(t, int64(1234), gotMessages[0].Message.Timestamp)

	require.Len(t, gotInvites, 1)
	assert.Equal(t, "!invited:node", gotInvites[0].RoomID)
}

func TestProcessSync_ResetsRetries(t *testing.T) {
	c := testClient(t)
	three := 3
	require.NoError(t, c.st.Update(store.Patch{PollingRetries: &three}))

	c.processSync(&syncResponse{NextBatch: "s-1"})
	assert.Zero(t, c.st.Snapshot().PollingRetries)
}

func TestSubscription_CancelStopsDelivery(t *testing.T) {
	c := testClient(t)

	var calls int
	sub := c.SubscribeMessages(func(domain.MessageEvent) { calls++ })

	ev := domain.MessageEvent{RoomID: "!r:node"}
	c.bus.publishMessage(ev)
	sub.Cancel()
	sub.Cancel() // idempotent
	c.bus.publishMessage(ev)

	assert.Equal(t, 1, calls)
}

func TestAPIError_ForbiddenSentinel(t *testing.T) {
	err := &apiError{Method: "POST", Path: "/join", Status: 403, Errcode: "M_FORBIDDEN"}
	assert.ErrorIs(t, err, domain.ErrForbidden)

	other := &apiError{Method: "GET", Path: "/sync", Status: 500}
	assert.NotErrorIs(t, other, domain.ErrForbidden)
}
