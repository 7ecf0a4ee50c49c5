package domain

import "errors"

var (
	// ErrNotReady is returned when an operation is invoked before Start
	// has completed.
	ErrNotReady = errors.New("client is not ready")

	// ErrForbidden is returned when the chat substrate rejects a join,
	// invite or send, typically because the room no longer permits us.
	ErrForbidden = errors.New("forbidden")

	// ErrJoinTimeout is returned when the counterparty never joins the
	// room within the bounded wait.
	ErrJoinTimeout = errors.New("timed out waiting for room members")
)
