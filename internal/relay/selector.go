// Package relay picks the homeserver a peer talks to.
//
// Selection is a pure function of the peer identity hash and the
// configured node list, so two peers with the same list converge on the
// same server without coordination.
package relay

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"peerlink/internal/crypto"
)

// Selector chooses relays from a fixed node list by hash distance.
type Selector struct {
	nodes []string
}

// NewSelector returns a selector over nodes, falling back to DefaultNodes
// when the list is empty.
func NewSelector(nodes []string) *Selector {
	if len(nodes) == 0 {
		nodes = DefaultNodes
	}
	return &Selector{nodes: append([]string(nil), nodes...)}
}

// Nodes returns the configured node list.
func (s *Selector) Nodes() []string {
	return append([]string(nil), s.nodes...)
}

// Select returns the node whose hash is numerically closest to
// localHashHex. The nonce derives distinct servers for the same identity;
// pass "0" for the primary relay. Ties keep the earliest node.
func (s *Selector) Select(localHashHex, nonce string) (string, error) {
	local, ok := new(big.Int).SetString(localHashHex, 16)
	if !ok {
		return "", fmt.Errorf("relay: local hash %q is not hex", localHashHex)
	}

	var (
		best     string
		bestDist *big.Int
	)
	for _, node := range s.nodes {
		sum, err := crypto.GenericHash([]byte(node+nonce), crypto.HashSize)
		if err != nil {
			return "", err
		}
		nodeVal, _ := new(big.Int).SetString(hex.EncodeToString(sum), 16)
		dist := new(big.Int).Abs(new(big.Int).Sub(local, nodeVal))
		if bestDist == nil || dist.Cmp(bestDist) < 0 {
			best, bestDist = node, dist
		}
	}
	return best, nil
}
