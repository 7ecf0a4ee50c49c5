package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"peerlink/internal/domain"
	"peerlink/internal/store"
)

const (
	syncBackoffBase = time.Second
	syncBackoffCap  = 30 * time.Second
)

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join   map[string]joinedRoom  `json:"join"`
		Invite map[string]invitedRoom `json:"invite"`
		Leave  map[string]struct{}    `json:"leave"`
	} `json:"rooms"`
}

type joinedRoom struct {
	State struct {
		Events []roomEvent `json:"events"`
	} `json:"state"`
	Timeline struct {
		Events []roomEvent `json:"events"`
	} `json:"timeline"`
}

type invitedRoom struct {
	InviteState struct {
		Events []roomEvent `json:"events"`
	} `json:"invite_state"`
}

type roomEvent struct {
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	StateKey       *string         `json:"state_key,omitempty"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

type memberContent struct {
	Membership string `json:"membership"`
}

type messageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// syncLoop long-polls the homeserver until the context is cancelled.
// The sync token only advances on successful responses, so events are
// delivered at least once. Errors back off exponentially up to a ceiling.
func (c *Client) syncLoop(ctx context.Context) {
	defer close(c.done)

	backoff := syncBackoffBase
	for {
		if ctx.Err() != nil {
			return
		}
		resp, err := c.syncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retries := c.st.Snapshot().PollingRetries + 1
			if uerr := c.st.Update(store.Patch{PollingRetries: &retries}); uerr != nil {
				c.log.Warn("recording sync retry", zap.Error(uerr))
			}
			c.log.Warn("sync failed", zap.Int("retries", retries), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > syncBackoffCap {
				backoff = syncBackoffCap
			}
			continue
		}
		backoff = syncBackoffBase
		c.processSync(resp)
	}
}

// syncOnce performs one long-poll round.
func (c *Client) syncOnce(ctx context.Context) (*syncResponse, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("timeout", strconv.FormatInt(c.pollTimeout.Milliseconds(), 10))
	if since := c.st.Snapshot().SyncToken; since != "" {
		q.Set("since", since)
	}

	// Allow the server its full window plus slack before giving up.
	reqCtx, cancel := context.WithTimeout(ctx, c.pollTimeout+10*time.Second)
	defer cancel()

	var resp syncResponse
	if err := c.do(reqCtx, http.MethodGet, apiPrefix+"/sync?"+q.Encode(), token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// processSync merges the room deltas into the store, advances the sync
// token, then publishes events. Store first, so handlers observe the
// post-round room state.
func (c *Client) processSync(resp *syncResponse) {
	var (
		rooms    []domain.Room
		messages []domain.MessageEvent
		invites  []domain.InviteEvent
	)

	for id, jr := range resp.Rooms.Join {
		room := domain.Room{ID: id, Status: domain.RoomJoined}
		for _, ev := range jr.State.Events {
			applyMember(&room, ev)
		}
		for _, ev := range jr.Timeline.Events {
			switch ev.Type {
			case "m.room.member":
				applyMember(&room, ev)
			case "m.room.message":
				var mc messageContent
				if err := json.Unmarshal(ev.Content, &mc); err != nil || mc.MsgType != "m.text" {
					continue
				}
				room.Messages = append(room.Messages, mc.Body)
				messages = append(messages, domain.MessageEvent{
					RoomID: id,
					Message: domain.TextMessage{
						Kind:      domain.MessageText,
						Content:   mc.Body,
						Sender:    ev.Sender,
						Timestamp: ev.OriginServerTS,
					},
				})
			}
		}
		rooms = append(rooms, room)
	}

	for id, ir := range resp.Rooms.Invite {
		room := domain.Room{ID: id, Status: domain.RoomInvited}
		for _, ev := range ir.InviteState.Events {
			applyMember(&room, ev)
		}
		rooms = append(rooms, room)
		invites = append(invites, domain.InviteEvent{RoomID: id})
	}

	for id := range resp.Rooms.Leave {
		rooms = append(rooms, domain.Room{ID: id, Status: domain.RoomLeft})
	}

	patch := store.Patch{Rooms: rooms}
	if resp.NextBatch != "" {
		patch.SyncToken = &resp.NextBatch
	}
	zero := 0
	patch.PollingRetries = &zero
	if err := c.st.Update(patch); err != nil {
		c.log.Warn("merging sync round", zap.Error(err))
	}

	for _, ev := range invites {
		c.bus.publishInvite(ev)
	}
	for _, ev := range messages {
		c.bus.publishMessage(ev)
	}
}

// applyMember folds an m.room.member event into the member list. Only
// joined members count; waiters on room membership must not see invitees
// who never accepted.
func applyMember(room *domain.Room, ev roomEvent) {
	if ev.Type != "m.room.member" || ev.StateKey == nil {
		return
	}
	var mc memberContent
	if err := json.Unmarshal(ev.Content, &mc); err != nil {
		return
	}
	if mc.Membership == "join" && !room.HasMember(*ev.StateKey) {
		room.Members = append(room.Members, *ev.StateKey)
	}
}
