package p2p_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlink/internal/crypto"
	"peerlink/internal/domain"
	"peerlink/internal/p2p"
	"peerlink/internal/store"
)

func unstartedClient(t *testing.T) (*p2p.Client, crypto.Keypair) {
	t.Helper()
	kp, err := crypto.NewKeypair()
	require.NoError(t, err)
	c, err := p2p.New(p2p.Config{
		Name:    "test",
		Keypair: kp,
		Storage: store.NewMemoryStorage(),
	})
	require.NoError(t, err)
	return c, kp
}

func TestRecipient_ByteExact(t *testing.T) {
	kp, err := crypto.NewKeypair()
	require.NoError(t, err)

	hash, err := crypto.SenderHash(kp.Pub.Slice())
	require.NoError(t, err)

	got, err := p2p.Recipient(kp.PublicKeyHex(), "matrix.papers.tech")
	require.NoError(t, err)
	assert.Equal(t, "@"+hash+":matrix.papers.tech", got)
}

func TestRecipient_RejectsBadKey(t *testing.T) {
	_, err := p2p.Recipient("zz-not-hex", "matrix.papers.tech")
	require.Error(t, err)
}

func TestDeriveSenderID_MatchesHash(t *testing.T) {
	kp, err := crypto.NewKeypair()
	require.NoError(t, err)

	id, err := p2p.DeriveSenderID(kp.PublicKeyHex())
	require.NoError(t, err)

	expected, err := kp.PublicKeyHash()
	require.NoError(t, err)
	assert.Equal(t, expected, id)
	assert.Len(t, id, 2*crypto.HashSize)
}

func TestOperations_BeforeStartAreNotReady(t *testing.T) {
	c, kp := unstartedClient(t)

	_, err := c.PairingRequestInfo()
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = c.RelayServer()
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = c.ListenForChannelOpening(func(domain.ExtendedPeerInfo) {})
	assert.ErrorIs(t, err, domain.ErrNotReady)

	err = c.ListenForEncryptedMessage(kp.PublicKeyHex(), func([]byte) {})
	assert.ErrorIs(t, err, domain.ErrNotReady)

	err = c.SendMessage(context.Background(), domain.PeerInfo{
		PublicKey:   kp.PublicKeyHex(),
		RelayServer: "matrix.papers.tech",
	}, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrNotReady)

	err = c.SendPairingResponse(context.Background(), domain.PeerInfo{
		PublicKey:   kp.PublicKeyHex(),
		RelayServer: "matrix.papers.tech",
	})
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestPublicKeyHash_MatchesKeypair(t *testing.T) {
	c, kp := unstartedClient(t)
	expected, err := kp.PublicKeyHash()
	require.NoError(t, err)
	assert.Equal(t, expected, c.PublicKeyHash())
}

func TestRecipient_AcceptsTruncatedKey(t *testing.T) {
	short := hex.EncodeToString([]byte{1, 2, 3})
	// A short key still hashes; key sizes are enforced at the session
	// layer, not during address derivation.
	got, err := p2p.Recipient(short, "node")
	require.NoError(t, err)
	assert.Contains(t, got, ":node")
}
