package crypto

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"

	"peerlink/internal/domain"
	"peerlink/internal/util/memzero"
)

// Session keys follow the libsodium crypto_kx construction: both sides
// compute q = X25519(self_priv, other_pub) over the converted long-term
// keys, then split BLAKE2b-512(q || client_pk || server_pk) into a receive
// half and a transmit half. The two roles swap halves, so each side's Tx
// key equals the other side's Rx key.

// CreateCryptoBoxClient derives session keys acting as the client role.
func CreateCryptoBoxClient(otherPub domain.Ed25519Public, kp Keypair) (domain.SessionKeys, error) {
	selfPub, otherX, q, err := kxSecret(otherPub, kp)
	if err != nil {
		return domain.SessionKeys{}, err
	}
	defer memzero.Zero(q)

	h, err := kxHash(q, selfPub, otherX)
	if err != nil {
		return domain.SessionKeys{}, err
	}
	var keys domain.SessionKeys
	copy(keys.Rx[:], h[:32])
	copy(keys.Tx[:], h[32:])
	return keys, nil
}

// CreateCryptoBoxServer derives session keys acting as the server role.
func CreateCryptoBoxServer(otherPub domain.Ed25519Public, kp Keypair) (domain.SessionKeys, error) {
	selfPub, otherX, q, err := kxSecret(otherPub, kp)
	if err != nil {
		return domain.SessionKeys{}, err
	}
	defer memzero.Zero(q)

	h, err := kxHash(q, otherX, selfPub)
	if err != nil {
		return domain.SessionKeys{}, err
	}
	var keys domain.SessionKeys
	copy(keys.Tx[:], h[:32])
	copy(keys.Rx[:], h[32:])
	return keys, nil
}

// kxSecret converts both identities and computes the raw shared secret.
func kxSecret(otherPub domain.Ed25519Public, kp Keypair) (selfX, otherX domain.X25519Public, q []byte, err error) {
	otherX, err = PublicToX25519(otherPub)
	if err != nil {
		return selfX, otherX, nil, err
	}
	selfX, err = PublicToX25519(kp.Pub)
	if err != nil {
		return selfX, otherX, nil, err
	}
	priv := PrivateToX25519(kp.Priv)
	defer memzero.Zero32((*[32]byte)(&priv))

	q, err = curve25519.X25519(priv.Slice(), otherX.Slice())
	if err != nil {
		return selfX, otherX, nil, fmt.Errorf("key exchange: %w", err)
	}
	return selfX, otherX, q, nil
}

// kxHash computes BLAKE2b-512(q || client_pk || server_pk).
func kxHash(q []byte, clientPub, serverPub domain.X25519Public) ([]byte, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}
	h.Write(q)
	h.Write(clientPub.Slice())
	h.Write(serverPub.Slice())
	return h.Sum(nil), nil
}
