// Package p2p implements the pairing and messaging core.
//
// A Client owns one chat client against the relay selected for the local
// identity. It performs the signature-derived login, runs the sealed-box
// pairing handshake over "@channel-open" text messages, derives per-peer
// session keys, and routes encrypted payloads into the right room,
// recovering when the substrate revokes room access.
package p2p
