package matrix

import (
	"sync"

	"peerlink/internal/domain"
)

// Subscription is a handle for removing a registered handler.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel removes the handler. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// bus fans chat events out to registered handlers, one handler list per
// event variant. Handlers run synchronously in subscription order, so a
// subscriber registered before a sync round observes every event from
// that round.
type bus struct {
	mu       sync.Mutex
	nextID   int
	messages map[int]func(domain.MessageEvent)
	invites  map[int]func(domain.InviteEvent)
}

func newBus() *bus {
	return &bus{
		messages: make(map[int]func(domain.MessageEvent)),
		invites:  make(map[int]func(domain.InviteEvent)),
	}
}

func (b *bus) subscribeMessages(fn func(domain.MessageEvent)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.messages[id] = fn
	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.messages, id)
	}}
}

func (b *bus) subscribeInvites(fn func(domain.InviteEvent)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.invites[id] = fn
	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.invites, id)
	}}
}

func (b *bus) publishMessage(ev domain.MessageEvent) {
	for _, fn := range b.messageHandlers() {
		fn(ev)
	}
}

func (b *bus) publishInvite(ev domain.InviteEvent) {
	for _, fn := range b.inviteHandlers() {
		fn(ev)
	}
}

// Handlers are copied out in id order so delivery does not hold the bus
// lock and ordering is stable.
func (b *bus) messageHandlers() []func(domain.MessageEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(domain.MessageEvent), 0, len(b.messages))
	for id := 0; id < b.nextID; id++ {
		if fn, ok := b.messages[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (b *bus) inviteHandlers() []func(domain.InviteEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(domain.InviteEvent), 0, len(b.invites))
	for id := 0; id < b.nextID; id++ {
		if fn, ok := b.invites[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
