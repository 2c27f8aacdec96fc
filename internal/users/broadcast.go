package users

import "wired/internal/protocol"

// Broadcaster implements the three fan-out shapes of component L:
// broadcast-to-all-logged-in, broadcast-to-chat-members (the caller
// supplies the member id list; chat membership itself lives in the chat
// package to avoid an import cycle), and broadcast-to-subscribers. All
// three iterate under the registry's read lock and send through each
// session's own socket mutex, so a slow or dead client never blocks
// another session's fan-out beyond its own Send call.
//
// Grounded on Room.Broadcast's snapshot-then-send pattern (room.go):
// the teacher takes a read lock, builds a slice of targets, releases the
// lock, then sends — this implementation keeps that shape rather than
// holding the registry lock across the (possibly slow) network writes.
type Broadcaster struct {
	registry *Registry
}

func NewBroadcaster(r *Registry) *Broadcaster {
	return &Broadcaster{registry: r}
}

// BroadcastAll sends m to every logged-in session.
func (b *Broadcaster) BroadcastAll(m *protocol.Message) {
	for _, s := range b.registry.All() {
		if s.State() != StateLoggedIn && s.State() != StateTransferring {
			continue
		}
		_ = s.Send(m)
	}
}

// BroadcastTo sends m to exactly the given session ids, skipping any that
// are no longer registered.
func (b *Broadcaster) BroadcastTo(ids []uint32, m *protocol.Message) {
	for _, id := range ids {
		if s, ok := b.registry.UserWithID(id); ok {
			_ = s.Send(m)
		}
	}
}

// BroadcastSubscribers sends m to every session subscribed to the named
// singleton category ("log", "accounts", "boards", "events").
func (b *Broadcaster) BroadcastSubscribers(category string, m *protocol.Message) {
	for _, s := range b.registry.All() {
		subs := s.Subscriptions()
		subscribed := false
		switch category {
		case "log":
			subscribed = subs.Log
		case "accounts":
			subscribed = subs.Accounts
		case "boards":
			subscribed = subs.Boards
		case "events":
			subscribed = subs.Events
		}
		if subscribed {
			_ = s.Send(m)
		}
	}
}

// BroadcastPath sends m to every session subscribed to the given
// filesystem path (component M's file-tree subscription fan-out).
func (b *Broadcaster) BroadcastPath(path string, m *protocol.Message) {
	for _, s := range b.registry.All() {
		subs := s.Subscriptions()
		if _, ok := subs.Paths[path]; ok {
			_ = s.Send(m)
		}
	}
}
