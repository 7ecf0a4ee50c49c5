package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the byte length of identity hashes.
const HashSize = 32

// GenericHash returns an unkeyed BLAKE2b digest of data with the given
// output size.
func GenericHash(data []byte, size int) ([]byte, error) {
	h, err := blake2b.New(size, nil)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// SenderHash returns the hex form of the 32-byte hash of a public key.
// It is the identity half of the recipient address "@<hash>:<relay>".
func SenderHash(publicKey []byte) (string, error) {
	sum, err := GenericHash(publicKey, HashSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}
