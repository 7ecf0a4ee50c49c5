package crypto

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"

	"peerlink/internal/domain"
	"peerlink/internal/util/memzero"
)

// Ed25519 identities are converted to their birationally equivalent
// Curve25519 form for key exchange and sealed boxes, mirroring libsodium's
// crypto_sign_ed25519_pk_to_curve25519 and sk_to_curve25519.

// PublicToX25519 converts an Ed25519 public key to X25519.
func PublicToX25519(pub domain.Ed25519Public) (domain.X25519Public, error) {
	var out domain.X25519Public
	p, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return out, fmt.Errorf("convert public key: %w", err)
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// PrivateToX25519 converts an Ed25519 private key to an X25519 scalar.
func PrivateToX25519(priv domain.Ed25519Private) domain.X25519Private {
	h := sha512.Sum512(priv[:ed25519.SeedSize])
	var out domain.X25519Private
	copy(out[:], h[:32])
	out[0] &= 248
	out[31] &= 127
	out[31] |= 64
	memzero.Zero(h[:])
	return out
}
