package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/box"

	"peerlink/internal/domain"
)

// ErrSealedBoxOpen is returned when a sealed box does not authenticate
// under the local identity. On a shared bus this is the common case for
// traffic addressed to somebody else.
var ErrSealedBoxOpen = errors.New("sealed box does not open under this identity")

// SealCryptobox encrypts payload to the holder of otherPub using an
// anonymous sealed box. The recipient needs no prior state beyond their
// long-term identity.
func SealCryptobox(payload []byte, otherPub domain.Ed25519Public) ([]byte, error) {
	xPub, err := PublicToX25519(otherPub)
	if err != nil {
		return nil, err
	}
	pk := [32]byte(xPub)
	return box.SealAnonymous(nil, payload, &pk, rand.Reader)
}

// OpenCryptobox opens a sealed box addressed to kp.
func OpenCryptobox(ciphertext []byte, kp Keypair) ([]byte, error) {
	xPub, err := PublicToX25519(kp.Pub)
	if err != nil {
		return nil, err
	}
	xPriv := PrivateToX25519(kp.Priv)
	pk := [32]byte(xPub)
	sk := [32]byte(xPriv)
	out, ok := box.OpenAnonymous(nil, ciphertext, &pk, &sk)
	if !ok {
		return nil, ErrSealedBoxOpen
	}
	return out, nil
}
