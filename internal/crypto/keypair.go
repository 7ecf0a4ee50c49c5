package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"peerlink/internal/domain"
)

// Keypair is the long-term Ed25519 identity. The hex-encoded hash of the
// public key doubles as the chat-layer user id.
type Keypair struct {
	Priv domain.Ed25519Private
	Pub  domain.Ed25519Public
}

// NewKeypair generates a fresh identity keypair.
func NewKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, err
	}
	var kp Keypair
	copy(kp.Priv[:], priv)
	copy(kp.Pub[:], pub)
	return kp, nil
}

// KeypairFromSeed rebuilds the keypair from a 32-byte Ed25519 seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("keypair seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var kp Keypair
	copy(kp.Priv[:], priv)
	copy(kp.Pub[:], priv[ed25519.SeedSize:])
	return kp, nil
}

// Seed returns the 32-byte seed of the private key.
func (kp Keypair) Seed() []byte {
	return append([]byte(nil), kp.Priv[:ed25519.SeedSize]...)
}

// Sign returns a detached Ed25519 signature over msg.
func (kp Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(kp.Priv[:]), msg)
}

// PublicKeyHex returns the hex form of the public key.
func (kp Keypair) PublicKeyHex() string {
	return hex.EncodeToString(kp.Pub[:])
}

// PublicKeyHash returns the hex 32-byte hash of the public key, the local
// half of every recipient address.
func (kp Keypair) PublicKeyHash() (string, error) {
	return SenderHash(kp.Pub[:])
}
