package domain

// EventType identifies a chat client event variant.
type EventType int

const (
	// EventMessage fires for every text timeline message observed in a
	// sync round; other message types are not published.
	EventMessage EventType = iota
	// EventInvite fires when the local user is invited to a room.
	EventInvite
)

// MessageKind is the chat-level message type. Only text messages are
// meaningful to the pairing and messaging core.
type MessageKind string

const MessageText MessageKind = "text"

// TextMessage is one timeline message.
type TextMessage struct {
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	Sender    string      `json:"sender"`
	Timestamp int64       `json:"timestamp"`
}

// MessageEvent is emitted for each timeline message.
type MessageEvent struct {
	RoomID  string
	Message TextMessage
}

// InviteEvent is emitted when an invite for the local user is observed.
type InviteEvent struct {
	RoomID string
}
