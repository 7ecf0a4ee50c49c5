package p2p

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"peerlink/internal/domain"
	"peerlink/internal/matrix"
)

// relevantRoom maps a recipient to the room used to talk to them:
// cached binding first, then a scan of joined rooms, then the standby
// room, then a freshly created private room. The winning room id is
// cached for next time.
func (c *Client) relevantRoom(ctx context.Context, recipient string) (string, error) {
	c.routingMu.Lock()
	defer c.routingMu.Unlock()

	chat, err := c.requireStarted()
	if err != nil {
		return "", err
	}

	bindings, err := c.loadPeerRooms()
	if err != nil {
		return "", err
	}
	if roomID, ok := bindings[recipient]; ok {
		return roomID, nil
	}

	roomID := ""
	for _, room := range chat.JoinedRooms() {
		if room.HasMember(recipient) {
			roomID = room.ID
			break
		}
	}

	if roomID == "" {
		roomID, err = c.consumeStandbyRoom(ctx, recipient)
		if err != nil {
			return "", err
		}
	}

	if roomID == "" {
		roomID, err = chat.CreateTrustedPrivateRoom(ctx, recipient)
		if err != nil {
			return "", err
		}
	}

	bindings[recipient] = roomID
	if err := c.savePeerRooms(bindings); err != nil {
		return "", err
	}
	return roomID, nil
}

// consumeStandbyRoom takes the pre-provisioned room if one exists,
// invites the recipient into it and schedules a replacement. Returns ""
// when no standby room is available.
func (c *Client) consumeStandbyRoom(ctx context.Context, recipient string) (string, error) {
	roomID, ok, err := c.storage.Get(domain.StorageStandbyRoom)
	if err != nil || !ok || roomID == "" {
		return "", err
	}
	if err := c.storage.Delete(domain.StorageStandbyRoom); err != nil {
		return "", err
	}

	chat, err := c.requireStarted()
	if err != nil {
		return "", err
	}
	go func() {
		if err := c.ensureStandbyRoom(context.Background(), chat); err != nil {
			c.log.Warn("replacing standby room", zap.Error(err))
		}
	}()

	if err := chat.InviteToRooms(ctx, recipient, roomID); err != nil {
		c.log.Warn("inviting into standby room",
			zap.String("room_id", roomID), zap.String("recipient", recipient), zap.Error(err))
		return "", nil
	}
	return roomID, nil
}

// ensureStandbyRoom provisions an empty private room for the next
// pairing if none is stored yet.
func (c *Client) ensureStandbyRoom(ctx context.Context, chat *matrix.Client) error {
	if _, ok, err := c.storage.Get(domain.StorageStandbyRoom); err != nil {
		return err
	} else if ok {
		return nil
	}
	roomID, err := chat.CreateTrustedPrivateRoom(ctx)
	if err != nil {
		return err
	}
	return c.storage.Set(domain.StorageStandbyRoom, roomID)
}

// forgetRoom removes every recipient binding that points at roomID.
func (c *Client) forgetRoom(roomID string) error {
	c.routingMu.Lock()
	defer c.routingMu.Unlock()

	bindings, err := c.loadPeerRooms()
	if err != nil {
		return err
	}
	kept := make(map[string]string, len(bindings))
	for recipient, id := range bindings {
		if id != roomID {
			kept[recipient] = id
		}
	}
	return c.savePeerRooms(kept)
}

func (c *Client) loadPeerRooms() (map[string]string, error) {
	m := make(map[string]string)
	raw, ok, err := c.storage.Get(domain.StoragePeerRoomIDs)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (c *Client) savePeerRooms(m map[string]string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.storage.Set(domain.StoragePeerRoomIDs, string(b))
}
