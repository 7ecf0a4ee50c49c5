package p2p

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"peerlink/internal/crypto"
	"peerlink/internal/domain"
	"peerlink/internal/matrix"
)

const (
	// waitForJoin polls fast for the first ~5s, then once a second, and
	// gives up after 200 attempts.
	joinPollFast     = 100 * time.Millisecond
	joinPollSlow     = time.Second
	joinPollFastMax  = 50
	joinPollAttempts = 200
)

// ListenForChannelOpening invokes cb for every channel-open handshake
// addressed to this client. The sealed box must open under the local
// identity; anything else on the bus is ignored.
func (c *Client) ListenForChannelOpening(cb func(domain.ExtendedPeerInfo)) (*matrix.Subscription, error) {
	chat, err := c.requireStarted()
	if err != nil {
		return nil, err
	}
	prefix := channelOpenPrefix + ":@" + c.pubHash
	sub := chat.SubscribeMessages(func(ev domain.MessageEvent) {
		if !isTextPrefix(ev.Message, prefix) {
			return
		}
		info, err := c.openChannelOpening(ev.Message.Content)
		if err != nil {
			c.log.Debug("ignoring channel opening", zap.Error(err))
			return
		}
		cb(info)
	})
	return sub, nil
}

// openChannelOpening unwraps "@channel-open:<recipient>:<hex sealed box>".
func (c *Client) openChannelOpening(content string) (domain.ExtendedPeerInfo, error) {
	parts := strings.Split(content, ":")
	payload, err := hex.DecodeString(parts[len(parts)-1])
	if err != nil {
		return domain.ExtendedPeerInfo{}, fmt.Errorf("decode handshake payload: %w", err)
	}
	raw, err := crypto.OpenCryptobox(payload, c.kp)
	if err != nil {
		return domain.ExtendedPeerInfo{}, err
	}
	info, err := parsePeerInfo(raw)
	if err != nil {
		return domain.ExtendedPeerInfo{}, err
	}
	senderID, err := DeriveSenderID(info.PublicKey)
	if err != nil {
		return domain.ExtendedPeerInfo{}, err
	}
	return domain.ExtendedPeerInfo{PeerInfo: info, SenderID: senderID}, nil
}

// SendPairingResponse resolves a room shared with the requester, waits
// until the counterparty actually joined, then ships our sealed-box
// descriptor as a channel-open message.
func (c *Client) SendPairingResponse(ctx context.Context, request domain.PeerInfo) error {
	chat, err := c.requireStarted()
	if err != nil {
		return err
	}
	recipient, err := Recipient(request.PublicKey, request.RelayServer)
	if err != nil {
		return err
	}
	roomID, err := c.relevantRoom(ctx, recipient)
	if err != nil {
		return err
	}
	if err := c.waitForJoin(ctx, chat, roomID); err != nil {
		return err
	}

	info, err := c.PairingResponseInfo(request)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	var requesterPub domain.Ed25519Public
	pkBytes, err := hex.DecodeString(request.PublicKey)
	if err != nil || len(pkBytes) != len(requesterPub) {
		return fmt.Errorf("pairing request carries an invalid public key")
	}
	copy(requesterPub[:], pkBytes)

	sealed, err := crypto.SealCryptobox(raw, requesterPub)
	if err != nil {
		return err
	}
	text := channelOpenPrefix + ":" + recipient + ":" + hex.EncodeToString(sealed)
	return chat.SendTextMessage(ctx, roomID, text)
}

// waitForJoin polls room membership until the room holds both parties.
func (c *Client) waitForJoin(ctx context.Context, chat *matrix.Client, roomID string) error {
	for attempt := 0; attempt < joinPollAttempts; attempt++ {
		if room, ok := chat.RoomByID(roomID); ok && len(room.Members) >= 2 {
			return nil
		}
		delay := joinPollFast
		if attempt >= joinPollFastMax {
			delay = joinPollSlow
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("room %s: %w", roomID, domain.ErrJoinTimeout)
}

// sessionFor returns cached session keys for a peer, deriving them on
// first use.
func (c *Client) sessionFor(publicKeyHex string, server bool) (domain.SessionKeys, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	cache := c.clientSessions
	if server {
		cache = c.serverSessions
	}
	if keys, ok := cache[publicKeyHex]; ok {
		return keys, nil
	}

	var peerPub domain.Ed25519Public
	pkBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pkBytes) != len(peerPub) {
		return domain.SessionKeys{}, fmt.Errorf("invalid peer public key %q", publicKeyHex)
	}
	copy(peerPub[:], pkBytes)

	var keys domain.SessionKeys
	if server {
		keys, err = crypto.CreateCryptoBoxServer(peerPub, c.kp)
	} else {
		keys, err = crypto.CreateCryptoBoxClient(peerPub, c.kp)
	}
	if err != nil {
		return domain.SessionKeys{}, err
	}
	cache[publicKeyHex] = keys
	return keys, nil
}

// ListenForEncryptedMessage decrypts session traffic from one sender and
// hands plaintexts to cb. Registering twice for the same sender is a
// no-op. A matching message captured before registration is replayed
// once, then the capture listener is retired.
func (c *Client) ListenForEncryptedMessage(senderPublicKeyHex string, cb func([]byte)) error {
	chat, err := c.requireStarted()
	if err != nil {
		return err
	}
	senderHash, err := DeriveSenderID(senderPublicKeyHex)
	if err != nil {
		return err
	}

	c.listenerMu.Lock()
	if _, ok := c.listeners[senderHash]; ok {
		c.listenerMu.Unlock()
		return nil
	}
	keys, err := c.sessionFor(senderPublicKeyHex, true)
	if err != nil {
		c.listenerMu.Unlock()
		return err
	}
	handler := func(ev domain.MessageEvent) {
		plaintext, ok := c.openSessionPayload(ev, senderHash, keys.Rx)
		if !ok {
			return
		}
		cb(plaintext)
	}
	c.listeners[senderHash] = chat.SubscribeMessages(handler)
	c.listenerMu.Unlock()

	c.replayInitialEvent(handler)
	return nil
}

// openSessionPayload applies the receive pipeline: text type, sender
// match, hex decode, length check, authenticated decrypt. Failures are
// silent; the bus broadcasts to every subscriber.
func (c *Client) openSessionPayload(ev domain.MessageEvent, senderHash string, rx [32]byte) ([]byte, bool) {
	if ev.Message.Kind != domain.MessageText || !strings.HasPrefix(ev.Message.Sender, "@"+senderHash) {
		return nil, false
	}
	plaintext, err := crypto.DecryptCryptoboxPayload(ev.Message.Content, rx)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// replayInitialEvent feeds the captured early message through a freshly
// installed handler, then detaches the capture listener for good.
func (c *Client) replayInitialEvent(handler func(domain.MessageEvent)) {
	c.initialMu.Lock()
	sub := c.initialSub
	ev := c.initialEvent
	seen := c.initialSeen
	c.initialSub = nil
	c.initialEvent = nil
	c.initialMu.Unlock()

	if ev != nil && time.Since(seen) <= initialEventMaxAge {
		handler(*ev)
	}
	sub.Cancel()
}

// SendMessage encrypts plaintext for the peer and posts it into their
// room. One forbidden response evicts the cached room binding and the
// send is retried against a fresh room; errors on that retry are logged
// but not surfaced.
func (c *Client) SendMessage(ctx context.Context, peer domain.PeerInfo, plaintext []byte) error {
	chat, err := c.requireStarted()
	if err != nil {
		return err
	}
	keys, err := c.sessionFor(peer.PublicKey, false)
	if err != nil {
		return err
	}
	recipient, err := Recipient(peer.PublicKey, peer.RelayServer)
	if err != nil {
		return err
	}
	payload, err := crypto.EncryptCryptoboxPayload(plaintext, keys.Tx)
	if err != nil {
		return err
	}

	roomID, err := c.relevantRoom(ctx, recipient)
	if err != nil {
		return err
	}
	err = chat.SendTextMessage(ctx, roomID, payload)
	if !isForbidden(err) {
		return err
	}

	// The room no longer accepts us. Drop the binding, resolve a fresh
	// room and try once more.
	c.log.Info("room rejected send, rebinding",
		zap.String("room_id", roomID), zap.String("recipient", recipient))
	if err := c.forgetRoom(roomID); err != nil {
		c.log.Warn("evicting room binding", zap.Error(err))
		return nil
	}
	freshRoom, err := c.relevantRoom(ctx, recipient)
	if err != nil {
		c.log.Warn("resolving replacement room", zap.String("recipient", recipient), zap.Error(err))
		return nil
	}
	if err := chat.SendTextMessage(ctx, freshRoom, payload); err != nil {
		c.log.Warn("retry send failed", zap.String("room_id", freshRoom), zap.Error(err))
	}
	return nil
}
