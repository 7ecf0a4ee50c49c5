package domain

// Message types carried in the pairing handshake payload.
const (
	PairingRequestType  = "p2p-pairing-request"
	PairingResponseType = "p2p-pairing-response"
)

// PeerInfo describes one side of a pairing. It is shipped out-of-band as
// the pairing request (QR code) and returned sealed-boxed as the pairing
// response.
type PeerInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	PublicKey   string `json:"publicKey"`
	RelayServer string `json:"relayServer"`
	Icon        string `json:"icon,omitempty"`
	AppURL      string `json:"appUrl,omitempty"`
}

// ExtendedPeerInfo is a pairing response enriched with the sender id
// derived from the embedded public key.
type ExtendedPeerInfo struct {
	PeerInfo
	SenderID string `json:"senderId"`
}
