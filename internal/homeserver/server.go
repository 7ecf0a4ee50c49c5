// Package homeserver is an in-memory implementation of the Matrix
// subset peerlink consumes: password login, long-poll sync, room
// creation, join, invite and text message send. It exists so two local
// clients can pair against a dev server and so the core can be tested
// end to end without federation.
package homeserver

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerlink/internal/crypto"
)

type event struct {
	Seq      int64
	Type     string
	Sender   string
	StateKey string
	TS       int64
	Content  map[string]any
}

type room struct {
	id      string
	members map[string]string // user id -> "join" | "invite" | "leave"
	events  []event

	// delivered tracks the highest seq shipped to each joined member, so
	// a member who joins late still receives the room's earlier events.
	delivered map[string]int64
	// notified tracks invite/leave transitions already surfaced.
	notified map[string]int64
}

func newRoom(id string) *room {
	return &room{
		id:        id,
		members:   make(map[string]string),
		delivered: make(map[string]int64),
		notified:  make(map[string]int64),
	}
}

// Server implements http.Handler over in-memory state.
type Server struct {
	log        *zap.Logger
	mu         sync.Mutex
	serverName string
	seq        int64
	nextID     int
	tokens     map[string]string // access token -> user id
	rooms      map[string]*room
}

// New returns an empty server. serverName is the host part baked into
// user and room ids; it must match the node string clients were
// configured with, or member scans on the client side will miss.
func New(serverName string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:        log,
		serverName: serverName,
		tokens:     make(map[string]string),
		rooms:      make(map[string]*room),
	}
}

// SetServerName swaps the baked-in host part. Useful when the listen
// address is only known after the listener is up.
func (s *Server) SetServerName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverName = name
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/_matrix/client/r0")
	switch {
	case r.Method == http.MethodPost && path == "/login":
		s.handleLogin(w, r)
	case r.Method == http.MethodGet && path == "/sync":
		s.handleSync(w, r)
	case r.Method == http.MethodPost && path == "/createRoom":
		s.handleCreateRoom(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/join"):
		s.handleJoin(w, r, trimRoomPath(path, "/join"))
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/invite"):
		s.handleInvite(w, r, trimRoomPath(path, "/invite"))
	case r.Method == http.MethodPut && strings.Contains(path, "/send/m.room.message/"):
		id := path[len("/rooms/"):strings.Index(path, "/send/")]
		s.handleSend(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "M_NOT_FOUND", "unknown endpoint")
	}
}

func trimRoomPath(path, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, "/rooms/"), suffix)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"errcode": code, "error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleLogin validates the "ed:<sig>:<pk>" credential: the user name
// must be the hash of the embedded key and the signature must cover the
// current (or immediately previous) login bucket.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User     string `json:"user"`
		Password string `json:"password"`
		DeviceID string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}
	if !s.verifyCredential(req.User, req.Password) {
		writeError(w, http.StatusForbidden, "M_FORBIDDEN", "invalid login signature")
		return
	}

	s.mu.Lock()
	s.nextID++
	token := fmt.Sprintf("syt_%d", s.nextID)
	userID := "@" + req.User + ":" + s.serverName
	s.tokens[token] = userID
	s.mu.Unlock()

	s.log.Info("login", zap.String("user_id", userID), zap.String("device_id", req.DeviceID))
	writeJSON(w, map[string]string{
		"user_id":      userID,
		"access_token": token,
		"device_id":    req.DeviceID,
	})
}

func (s *Server) verifyCredential(user, password string) bool {
	parts := strings.Split(password, ":")
	if len(parts) != 3 || parts[0] != "ed" {
		return false
	}
	sig, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	pk, err := hex.DecodeString(parts[2])
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return false
	}
	hash, err := crypto.SenderHash(pk)
	if err != nil || hash != user {
		return false
	}
	now := time.Now()
	for _, at := range []time.Time{now, now.Add(-5 * time.Minute)} {
		digest, err := crypto.LoginDigest(at)
		if err == nil && ed25519.Verify(ed25519.PublicKey(pk), digest, sig) {
			return true
		}
	}
	return false
}

func (s *Server) auth(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.tokens[token]
	return user, ok
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	user, ok := s.auth(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "bad token")
		return
	}
	var req struct {
		Invite []string `json:"invite"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.nextID++
	rm := newRoom(fmt.Sprintf("!%d:%s", s.nextID, s.serverName))
	rm.members[user] = "join"
	s.rooms[rm.id] = rm
	s.appendMember(rm, user, user, "join")
	for _, invitee := range req.Invite {
		rm.members[invitee] = "invite"
		s.appendMember(rm, user, invitee, "invite")
	}
	s.mu.Unlock()

	writeJSON(w, map[string]string{"room_id": rm.id})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, roomID string) {
	user, ok := s.auth(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "bad token")
		return
	}
	s.mu.Lock()
	rm := s.rooms[roomID]
	if rm == nil || (rm.members[user] != "invite" && rm.members[user] != "join") {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "M_FORBIDDEN", "not invited to this room")
		return
	}
	if rm.members[user] != "join" {
		rm.members[user] = "join"
		s.appendMember(rm, user, user, "join")
	}
	s.mu.Unlock()
	writeJSON(w, map[string]string{"room_id": roomID})
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request, roomID string) {
	user, ok := s.auth(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "bad token")
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	rm := s.rooms[roomID]
	if rm == nil || rm.members[user] != "join" {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "M_FORBIDDEN", "not a member")
		return
	}
	if rm.members[req.UserID] == "" {
		rm.members[req.UserID] = "invite"
		s.appendMember(rm, user, req.UserID, "invite")
	}
	s.mu.Unlock()
	writeJSON(w, map[string]string{})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, roomID string) {
	user, ok := s.auth(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "bad token")
		return
	}
	var content map[string]any
	_ = json.NewDecoder(r.Body).Decode(&content)

	s.mu.Lock()
	rm := s.rooms[roomID]
	if rm == nil || rm.members[user] != "join" {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "M_FORBIDDEN", "not in room")
		return
	}
	s.seq++
	ev := event{
		Seq:     s.seq,
		Type:    "m.room.message",
		Sender:  user,
		TS:      time.Now().UnixMilli(),
		Content: content,
	}
	rm.events = append(rm.events, ev)
	eventID := fmt.Sprintf("$%d", s.seq)
	s.mu.Unlock()

	writeJSON(w, map[string]string{"event_id": eventID})
}

// appendMember records a membership transition; callers hold the lock.
func (s *Server) appendMember(rm *room, sender, target, membership string) {
	s.seq++
	rm.events = append(rm.events, event{
		Seq:      s.seq,
		Type:     "m.room.member",
		Sender:   sender,
		StateKey: target,
		TS:       time.Now().UnixMilli(),
		Content:  map[string]any{"membership": membership},
	})
}

// KickFromRoom drops a user from a room out-of-band, emitting the leave
// so the victim's next sync reflects it. Exercises the forbidden-send
// recovery path.
func (s *Server) KickFromRoom(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[roomID]
	if rm == nil || rm.members[userID] == "" {
		return
	}
	rm.members[userID] = "leave"
	s.appendMember(rm, userID, userID, "leave")
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	user, ok := s.auth(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "bad token")
		return
	}
	// The client's since token is accepted but delivery is tracked by
	// per-user watermarks, so late joiners still see a room's earlier
	// events.
	timeoutMillis, _ := strconv.ParseInt(r.URL.Query().Get("timeout"), 10, 64)
	deadline := time.Now().Add(time.Duration(timeoutMillis) * time.Millisecond)

	for {
		resp, changed := s.buildSync(user)
		if changed || time.Now().After(deadline) {
			writeJSON(w, resp)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

type syncRoomJoin struct {
	State struct {
		Events []map[string]any `json:"events"`
	} `json:"state"`
	Timeline struct {
		Events []map[string]any `json:"events"`
	} `json:"timeline"`
}

type syncRoomInvite struct {
	InviteState struct {
		Events []map[string]any `json:"events"`
	} `json:"invite_state"`
}

func eventJSON(ev event) map[string]any {
	out := map[string]any{
		"type":             ev.Type,
		"sender":           ev.Sender,
		"origin_server_ts": ev.TS,
		"content":          ev.Content,
	}
	if ev.StateKey != "" {
		out["state_key"] = ev.StateKey
	}
	return out
}

func memberState(rm *room) []map[string]any {
	var out []map[string]any
	for target, ms := range rm.members {
		out = append(out, eventJSON(event{
			Type:     "m.room.member",
			Sender:   target,
			StateKey: target,
			Content:  map[string]any{"membership": ms},
		}))
	}
	return out
}

func (s *Server) buildSync(user string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	join := make(map[string]syncRoomJoin)
	invite := make(map[string]syncRoomInvite)
	leave := make(map[string]any)
	changed := false

	for _, rm := range s.rooms {
		switch rm.members[user] {
		case "join":
			var fresh []event
			for _, ev := range rm.events {
				if ev.Seq > rm.delivered[user] {
					fresh = append(fresh, ev)
				}
			}
			rm.delivered[user] = s.seq
			if len(fresh) == 0 {
				continue
			}
			changed = true
			var jr syncRoomJoin
			jr.State.Events = memberState(rm)
			for _, ev := range fresh {
				jr.Timeline.Events = append(jr.Timeline.Events, eventJSON(ev))
			}
			join[rm.id] = jr
		case "invite":
			if s.seq <= rm.notified[user] {
				continue
			}
			rm.notified[user] = s.seq
			changed = true
			var ir syncRoomInvite
			ir.InviteState.Events = memberState(rm)
			invite[rm.id] = ir
		case "leave":
			if s.seq <= rm.notified[user] {
				continue
			}
			rm.notified[user] = s.seq
			changed = true
			leave[rm.id] = map[string]any{}
		}
	}

	resp := map[string]any{
		"next_batch": strconv.FormatInt(s.seq, 10),
		"rooms": map[string]any{
			"join":   join,
			"invite": invite,
			"leave":  leave,
		},
	}
	return resp, changed
}
