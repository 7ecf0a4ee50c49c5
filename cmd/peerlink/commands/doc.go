// Package commands implements the peerlink CLI.
//
// The binary covers both pairing roles: "pair" acts as the dApp side and
// prints a pairing request QR code, "respond" acts as the wallet side
// and answers a scanned request, and "send" ships an encrypted message
// to an already paired peer.
package commands
