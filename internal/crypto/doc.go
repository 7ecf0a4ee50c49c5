// Package crypto exposes the primitives used by peerlink.
//
// Contents
//
//   - BLAKE2b generic hashing (GenericHash, SenderHash)
//   - The long-term Ed25519 keypair and its derived artifacts (Keypair)
//   - Ed25519 to X25519 key conversion (convert.go)
//   - Anonymous sealed boxes for the pairing handshake (sealedbox.go)
//   - Authenticated secretbox payloads for session traffic (secretbox.go)
//   - Directional session-key derivation via X25519 key exchange (kx.go)
//   - The time-bucketed relay login credential (login.go)
//
// All functions are pure apart from random key and nonce generation
// (NewKeypair, SealCryptobox, EncryptCryptoboxPayload). Callers should treat
// returned secrets as sensitive; derived scalars are wiped where practical.
package crypto
