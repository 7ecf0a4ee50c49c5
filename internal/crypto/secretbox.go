package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the secretbox nonce length prepended to every payload.
	NonceSize = 24
	// MACSize is the poly1305 authenticator length.
	MACSize = secretbox.Overhead
)

// ErrPayloadTooShort is returned for hex payloads shorter than a nonce
// plus authenticator.
var ErrPayloadTooShort = errors.New("payload shorter than nonce plus authenticator")

// ErrDecryptPayload is returned when a payload does not authenticate
// under the given shared key.
var ErrDecryptPayload = errors.New("payload does not authenticate under shared key")

// EncryptCryptoboxPayload seals msg under sharedKey with a fresh nonce and
// returns hex(nonce || box).
func EncryptCryptoboxPayload(msg []byte, sharedKey [32]byte) (string, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], msg, &nonce, &sharedKey)
	return hex.EncodeToString(out), nil
}

// DecryptCryptoboxPayload reverses EncryptCryptoboxPayload. The input is
// hex(nonce || box).
func DecryptCryptoboxPayload(payload string, sharedKey [32]byte) ([]byte, error) {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(raw) < NonceSize+MACSize {
		return nil, ErrPayloadTooShort
	}
	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])
	out, ok := secretbox.Open(nil, raw[NonceSize:], &nonce, &sharedKey)
	if !ok {
		return nil, ErrDecryptPayload
	}
	return out, nil
}
