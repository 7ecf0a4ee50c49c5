package store

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"peerlink/internal/domain"
)

// Key names a field of ChatState for change subscriptions.
type Key string

const (
	KeyIsRunning      Key = "isRunning"
	KeyUserID         Key = "userId"
	KeyDeviceID       Key = "deviceId"
	KeyTxnNo          Key = "txnNo"
	KeyAccessToken    Key = "accessToken"
	KeySyncToken      Key = "syncToken"
	KeyPollingTimeout Key = "pollingTimeout"
	KeyPollingRetries Key = "pollingRetries"
	KeyRooms          Key = "rooms"
)

// ChatState is the full client state tracked by the store. Only SyncToken
// and Rooms survive a restart.
type ChatState struct {
	IsRunning      bool
	UserID         string
	DeviceID       string
	TxnNo          uint64
	AccessToken    string
	SyncToken      string
	PollingTimeout int64 // milliseconds
	PollingRetries int
	Rooms          map[string]domain.Room
}

// Patch is a partial state update. Nil fields leave the current value
// untouched; Rooms entries are merged by id into the existing map.
type Patch struct {
	IsRunning      *bool
	UserID         *string
	DeviceID       *string
	TxnNo          *uint64
	AccessToken    *string
	SyncToken      *string
	PollingTimeout *int64
	PollingRetries *int
	Rooms          []domain.Room
}

// Listener observes one state transition.
type Listener func(old, new ChatState, delta Patch)

// preservedState is the JSON snapshot written to storage.
type preservedState struct {
	SyncToken string                 `json:"syncToken,omitempty"`
	Rooms     map[string]domain.Room `json:"rooms,omitempty"`
}

// State is the serialized chat state store. All access goes through one
// mutex, so listeners observe each transition exactly once and in order.
type State struct {
	storage domain.Storage
	log     *zap.Logger

	mu        sync.Mutex
	hydrated  bool
	current   ChatState
	listeners map[Key][]Listener
	all       []Listener
}

// NewState returns a store that will hydrate itself from storage before
// the first read or update.
func NewState(storage domain.Storage, log *zap.Logger) *State {
	return &State{
		storage:   storage,
		log:       log,
		current:   ChatState{Rooms: make(map[string]domain.Room)},
		listeners: make(map[Key][]Listener),
	}
}

// hydrate loads the preserved snapshot once. Updates arriving before the
// read completes wait on the mutex, so no update is lost to a startup
// race.
func (s *State) hydrate() {
	if s.hydrated {
		return
	}
	s.hydrated = true

	raw, ok, err := s.storage.Get(domain.StoragePreservedState)
	if err != nil {
		s.log.Warn("reading preserved state", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	var p preservedState
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.log.Warn("decoding preserved state", zap.Error(err))
		return
	}
	s.current.SyncToken = p.SyncToken
	for id, room := range p.Rooms {
		room.Messages = nil
		s.current.Rooms[id] = room
	}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrate()
	return s.copyState()
}

// Room returns the tracked room with the given id.
func (s *State) Room(id string) (domain.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrate()
	r, ok := s.current.Rooms[id]
	return r, ok
}

// RoomsWithStatus returns every room currently in the given status.
func (s *State) RoomsWithStatus(status domain.RoomStatus) []domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrate()
	var out []domain.Room
	for _, r := range s.current.Rooms {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

// NextTxn increments and returns the send transaction counter.
func (s *State) NextTxn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrate()
	s.current.TxnNo++
	return s.current.TxnNo
}

// Subscribe registers a listener for the given keys, or for every change
// when no keys are passed. Listeners run synchronously under the store
// lock and must not call back into the store.
func (s *State) Subscribe(l Listener, keys ...Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(keys) == 0 {
		s.all = append(s.all, l)
		return
	}
	for _, k := range keys {
		s.listeners[k] = append(s.listeners[k], l)
	}
}

// Update applies the patch, persists the preserved fields when they were
// part of the patch, and notifies listeners with the old state, the new
// state and the delta.
func (s *State) Update(p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hydrate()

	old := s.copyState()
	changed := s.apply(p)

	if err := s.persist(p); err != nil {
		return err
	}

	now := s.copyState()
	for _, k := range changed {
		for _, l := range s.listeners[k] {
			l(old, now, p)
		}
	}
	if len(changed) > 0 {
		for _, l := range s.all {
			l(old, now, p)
		}
	}
	return nil
}

// apply mutates current and returns the set of changed keys.
func (s *State) apply(p Patch) []Key {
	var changed []Key
	if p.IsRunning != nil && *p.IsRunning != s.current.IsRunning {
		s.current.IsRunning = *p.IsRunning
		changed = append(changed, KeyIsRunning)
	}
	if p.UserID != nil && *p.UserID != s.current.UserID {
		s.current.UserID = *p.UserID
		changed = append(changed, KeyUserID)
	}
	if p.DeviceID != nil && *p.DeviceID != s.current.DeviceID {
		s.current.DeviceID = *p.DeviceID
		changed = append(changed, KeyDeviceID)
	}
	if p.TxnNo != nil && *p.TxnNo != s.current.TxnNo {
		s.current.TxnNo = *p.TxnNo
		changed = append(changed, KeyTxnNo)
	}
	if p.AccessToken != nil && *p.AccessToken != s.current.AccessToken {
		s.current.AccessToken = *p.AccessToken
		changed = append(changed, KeyAccessToken)
	}
	if p.SyncToken != nil && *p.SyncToken != s.current.SyncToken {
		s.current.SyncToken = *p.SyncToken
		changed = append(changed, KeySyncToken)
	}
	if p.PollingTimeout != nil && *p.PollingTimeout != s.current.PollingTimeout {
		s.current.PollingTimeout = *p.PollingTimeout
		changed = append(changed, KeyPollingTimeout)
	}
	if p.PollingRetries != nil && *p.PollingRetries != s.current.PollingRetries {
		s.current.PollingRetries = *p.PollingRetries
		changed = append(changed, KeyPollingRetries)
	}
	if len(p.Rooms) > 0 {
		for _, r := range p.Rooms {
			s.current.Rooms[r.ID] = mergeRoom(s.current.Rooms[r.ID], r)
		}
		changed = append(changed, KeyRooms)
	}
	return changed
}

// persist writes {syncToken, rooms} when at least one of them was part of
// the patch and is non-empty. Room messages are cleared first.
func (s *State) persist(p Patch) error {
	tokenTruthy := p.SyncToken != nil && *p.SyncToken != ""
	roomsTruthy := len(p.Rooms) > 0
	if !tokenTruthy && !roomsTruthy {
		return nil
	}

	out := preservedState{
		SyncToken: s.current.SyncToken,
		Rooms:     make(map[string]domain.Room, len(s.current.Rooms)),
	}
	for id, room := range s.current.Rooms {
		room.Messages = nil
		out.Rooms[id] = room
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.storage.Set(domain.StoragePreservedState, string(b))
}

func (s *State) copyState() ChatState {
	c := s.current
	c.Rooms = make(map[string]domain.Room, len(s.current.Rooms))
	for id, r := range s.current.Rooms {
		r.Members = append([]string(nil), r.Members...)
		r.Messages = append([]string(nil), r.Messages...)
		c.Rooms[id] = r
	}
	return c
}

// mergeRoom folds an incoming room over the prior snapshot: the incoming
// status wins unless unknown, members and messages are unioned so history
// is preserved.
func mergeRoom(old, in domain.Room) domain.Room {
	out := old
	out.ID = in.ID
	if in.Status != domain.RoomUnknown {
		out.Status = in.Status
	}
	out.Members = unionStrings(old.Members, in.Members)
	out.Messages = unionStrings(old.Messages, in.Messages)
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
