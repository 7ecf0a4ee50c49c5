package relay_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlink/internal/crypto"
	"peerlink/internal/relay"
)

func TestSelect_SingleNode(t *testing.T) {
	s := relay.NewSelector([]string{"matrix.papers.tech"})

	kp, err := crypto.NewKeypair()
	require.NoError(t, err)
	hash, err := kp.PublicKeyHash()
	require.NoError(t, err)

	node, err := s.Select(hash, "")
	require.NoError(t, err)
	assert.Equal(t, "matrix.papers.tech", node)
}

func TestSelect_Deterministic(t *testing.T) {
	nodes := []string{"node-a.example.org", "node-b.example.org", "node-c.example.org"}

	kp, err := crypto.NewKeypair()
	require.NoError(t, err)
	hash, err := kp.PublicKeyHash()
	require.NoError(t, err)

	first, err := relay.NewSelector(nodes).Select(hash, "0")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := relay.NewSelector(nodes).Select(hash, "0")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelect_NonceDerivesReplicas(t *testing.T) {
	nodes := []string{"node-a.example.org", "node-b.example.org", "node-c.example.org"}
	s := relay.NewSelector(nodes)

	kp, err := crypto.NewKeypair()
	require.NoError(t, err)
	hash, err := kp.PublicKeyHash()
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		node, err := s.Select(hash, strconv.Itoa(i))
		require.NoError(t, err)
		seen[node] = true
	}
	// Thirty-two nonces over three nodes must hit more than one server;
	// all landing on one node would mean the nonce is ignored.
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestSelect_EmptyListFallsBack(t *testing.T) {
	s := relay.NewSelector(nil)

	kp, err := crypto.NewKeypair()
	require.NoError(t, err)
	hash, err := kp.PublicKeyHash()
	require.NoError(t, err)

	node, err := s.Select(hash, "0")
	require.NoError(t, err)
	assert.Contains(t, relay.DefaultNodes, node)
}

func TestSelect_RejectsNonHexHash(t *testing.T) {
	s := relay.NewSelector([]string{"matrix.papers.tech"})
	_, err := s.Select("not a hash", "0")
	require.Error(t, err)
}
