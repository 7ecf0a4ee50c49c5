// Package matrix is the chat client the pairing core runs on.
//
// It speaks a small subset of the Matrix client-server r0 API: password
// login, long-poll sync, room creation, join, invite and text message
// send. The sync loop merges room deltas into the state store and
// publishes Message and Invite events on an in-process event bus. The
// wire protocol is otherwise treated as opaque; nothing outside this
// package builds HTTP requests.
package matrix
