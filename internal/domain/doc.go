// Package domain holds the shared types and narrow interfaces used across
// peerlink.
//
// Contents
//
//   - Fixed-size key types for Ed25519 and X25519 material (keys.go)
//   - Peer descriptors exchanged during pairing (peer.go)
//   - Rooms, room status and chat events (room.go, events.go)
//   - The persistent key-value Storage interface and its keys (storage.go)
//   - Sentinel errors shared between packages (errors.go)
//
// The package depends on nothing else in the module so that every other
// package can import it freely.
package domain
