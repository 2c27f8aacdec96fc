package users

import (
	"sort"
	"sync"

	"wired/internal/protocol"
)

// OnRemove is invoked by Remove for the departing session so the caller
// (the server root object, §9) can tear down chat membership, abort any
// in-flight transfer, and clear subscriptions — kept out of this package
// to avoid an import cycle, matching the teacher's callback-wiring style.
type OnRemove func(*Session)

// Registry is the global {id -> Session} table (§4.D), read-write locked.
// The id generator resets to zero when the live set becomes empty, per
// the invariant in §3.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	nextID   uint32

	onRemove OnRemove
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint32]*Session)}
}

func (r *Registry) SetOnRemove(fn OnRemove) { r.onRemove = fn }

// Add allocates a fresh session id and registers the session (U1: unique
// among all sessions live simultaneously).
func (r *Registry) Add(conn func(id uint32) *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := conn(r.nextID)
	r.sessions[s.ID] = s
	return s
}

// Remove unregisters a session, invokes the cleanup callback, and resets
// the id generator to zero once the registry is empty.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	_, existed := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	empty := len(r.sessions) == 0
	if empty {
		r.nextID = 0
	}
	r.mu.Unlock()

	if existed {
		s.SetState(StateDisconnected)
		if r.onRemove != nil {
			r.onRemove(s)
		}
	}
}

func (r *Registry) UserWithID(id uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// UsersWithLogin returns every live session whose account login matches
// name (used to enforce U9 on account deletion, and to disconnect a user
// by login for admin actions).
func (r *Registry) UsersWithLogin(login string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.Login() == login {
			out = append(out, s)
		}
	}
	return out
}

// All returns every live session, ordered by id for deterministic listing.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ReplyUserList streams one user_list row per live session to s, followed
// by a user_list.done terminator carrying the same transaction id (§4.D,
// §4.J's ".done" convention).
func ReplyUserList(s *Session, req *protocol.Message, all []*Session) error {
	for _, u := range all {
		row := protocol.New("wired.user.user_list").
			SetUint32("wired.user.id", u.ID).
			SetString("wired.user.nick", u.Nick()).
			SetString("wired.user.status", u.Status()).
			EchoTxn(req)
		if err := s.Send(row); err != nil {
			return err
		}
	}
	done := protocol.New("wired.user.user_list.done").EchoTxn(req)
	return s.Send(done)
}
