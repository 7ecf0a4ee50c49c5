package crypto

import (
	"encoding/hex"
	"fmt"
	"time"
)

// loginBucketSeconds is the replay window the relay enforces on the login
// signature.
const loginBucketSeconds = 300

// LoginDigest hashes "login:<bucket>" where bucket is the current unix
// time truncated to five-minute boundaries.
func LoginDigest(now time.Time) ([]byte, error) {
	bucket := now.Unix() / loginBucketSeconds
	return GenericHash([]byte(fmt.Sprintf("login:%d", bucket)), HashSize)
}

// LoginCredentials builds the relay password "ed:<hex sig>:<hex pk>" from
// a detached signature over the login digest.
func LoginCredentials(kp Keypair, now time.Time) (string, error) {
	digest, err := LoginDigest(now)
	if err != nil {
		return "", err
	}
	sig := kp.Sign(digest)
	return "ed:" + hex.EncodeToString(sig) + ":" + kp.PublicKeyHex(), nil
}
