package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlink/internal/crypto"
)

func TestSessionKeys_RolesAgree(t *testing.T) {
	dapp := mustKeypair(t)
	wallet := mustKeypair(t)

	client, err := crypto.CreateCryptoBoxClient(wallet.Pub, dapp)
	require.NoError(t, err)
	server, err := crypto.CreateCryptoBoxServer(dapp.Pub, wallet)
	require.NoError(t, err)

	assert.Equal(t, client.Tx, server.Rx, "client tx must match server rx")
	assert.Equal(t, client.Rx, server.Tx, "client rx must match server tx")
	assert.NotEqual(t, client.Rx, client.Tx)
}

func TestSessionKeys_EndToEndPayload(t *testing.T) {
	dapp := mustKeypair(t)
	wallet := mustKeypair(t)

	client, err := crypto.CreateCryptoBoxClient(wallet.Pub, dapp)
	require.NoError(t, err)
	server, err := crypto.CreateCryptoBoxServer(dapp.Pub, wallet)
	require.NoError(t, err)

	payload, err := crypto.EncryptCryptoboxPayload([]byte("operation request"), client.Tx)
	require.NoError(t, err)

	out, err := crypto.DecryptCryptoboxPayload(payload, server.Rx)
	require.NoError(t, err)
	assert.Equal(t, []byte("operation request"), out)

	// The reverse direction uses the other half.
	_, err = crypto.DecryptCryptoboxPayload(payload, server.Tx)
	assert.Error(t, err)
}

func TestSessionKeys_DifferentPeersDiffer(t *testing.T) {
	self := mustKeypair(t)
	peerA := mustKeypair(t)
	peerB := mustKeypair(t)

	a, err := crypto.CreateCryptoBoxClient(peerA.Pub, self)
	require.NoError(t, err)
	b, err := crypto.CreateCryptoBoxClient(peerB.Pub, self)
	require.NoError(t, err)

	assert.NotEqual(t, a.Tx, b.Tx)
	assert.NotEqual(t, a.Rx, b.Rx)
}
