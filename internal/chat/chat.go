// Package chat implements chat rooms (component E): the public room plus
// ad-hoc private rooms, topic state, invitations, and say/me fan-out.
//
// Grounded on the teacher's Room type (room.go) — channel membership
// list, broadcast-to-members, and the topic/join/leave lifecycle are the
// same shape, generalized from "a flat list of named channels" to "one
// fixed public room plus a dictionary of private rooms keyed by a random
// non-colliding id". The teacher's ownership-succession logic
// (ClaimOwnership/TransferOwnership) has no analog here: Wired ties
// set_topic/kick_user to an account privilege flag, not per-room
// ownership, so that machinery is dropped (see DESIGN.md).
package chat

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"wired/internal/atomicfile"
	"wired/internal/protocol"
)

const PublicChatID uint32 = 1

var (
	ErrChatNotFound     = errors.New("chat: not found")
	ErrNotOnChat        = errors.New("chat: not a member")
	ErrAlreadyOnChat    = errors.New("chat: already a member")
	ErrNotInvited       = errors.New("chat: not invited")
)

// Topic is the public room's persisted topic (§3).
type Topic struct {
	Nick string    `toml:"nick"`
	Text string    `toml:"text"`
	Date time.Time `toml:"date"`
}

// Chat is a room: the public room (id 1) or a private, ad-hoc room.
type Chat struct {
	mu sync.RWMutex

	ID       uint32
	members  []uint32 // ordered; first-in-first-broadcast
	invited  map[uint32]struct{}
	topic    Topic
}

func (c *Chat) Members() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint32, len(c.members))
	copy(out, c.members)
	return out
}

func (c *Chat) IsMember(id uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.members {
		if m == id {
			return true
		}
	}
	return false
}

func (c *Chat) Topic() Topic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic
}

// Registry owns the chat dictionary: the public room, created at boot and
// never destroyed, plus private rooms created on demand. Lock ordering
// per §5: Users -> Chat-dictionary -> individual Chat (this package only
// ever takes its own dictionary lock then a Chat's lock, never the
// reverse, and never reaches into the users package).
type Registry struct {
	mu    sync.RWMutex
	chats map[uint32]*Chat

	topicPath string
}

// NewRegistry creates the registry with the public room pre-populated,
// loading its persisted topic from topicPath if present.
func NewRegistry(topicPath string) *Registry {
	r := &Registry{
		chats:     make(map[uint32]*Chat),
		topicPath: topicPath,
	}
	public := &Chat{ID: PublicChatID, invited: make(map[uint32]struct{})}
	if data, err := os.ReadFile(topicPath); err == nil {
		if parts := strings.SplitN(string(data), "\n", 3); len(parts) == 3 {
			date, _ := time.Parse(time.RFC3339, parts[1])
			public.topic = Topic{Nick: parts[0], Date: date, Text: parts[2]}
		}
	}
	r.chats[PublicChatID] = public
	return r
}

func (r *Registry) Public() *Chat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chats[PublicChatID]
}

func (r *Registry) Get(id uint32) (*Chat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chats[id]
	return c, ok
}

// CreatePrivate allocates a random non-colliding id in [1, 2^32) excluding
// 1 (the public room's reserved id).
func (r *Registry) CreatePrivate(creator uint32) *Chat {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id uint32
	for {
		id = randomID()
		if id != PublicChatID {
			if _, exists := r.chats[id]; !exists {
				break
			}
		}
	}
	c := &Chat{ID: id, invited: map[uint32]struct{}{creator: {}}}
	c.members = append(c.members, creator)
	r.chats[id] = c
	return c
}

func randomID() uint32 {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	v := binary.BigEndian.Uint32(buf[:])
	if v == 0 {
		v = 1
	}
	return v
}

// Join adds session to chat. The public room accepts anyone; a private
// room requires prior invitation.
func (r *Registry) Join(chatID, session uint32) (*Chat, error) {
	c, ok := r.Get(chatID)
	if !ok {
		return nil, ErrChatNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.members {
		if m == session {
			return c, ErrAlreadyOnChat
		}
	}
	if chatID != PublicChatID {
		if _, invited := c.invited[session]; !invited {
			return nil, ErrNotInvited
		}
	}
	c.members = append(c.members, session)
	return c, nil
}

// Leave removes session from chat. If the chat is now empty and is not
// the public room, it is destroyed (§3, U3).
func (r *Registry) Leave(chatID, session uint32) (*Chat, bool, error) {
	c, ok := r.Get(chatID)
	if !ok {
		return nil, false, ErrChatNotFound
	}
	c.mu.Lock()
	found := false
	for i, m := range c.members {
		if m == session {
			c.members = append(c.members[:i], c.members[i+1:]...)
			found = true
			break
		}
	}
	empty := len(c.members) == 0
	c.mu.Unlock()

	if !found {
		return c, false, ErrNotOnChat
	}

	destroyed := false
	if empty && chatID != PublicChatID {
		r.mu.Lock()
		delete(r.chats, chatID)
		r.mu.Unlock()
		destroyed = true
	}
	return c, destroyed, nil
}

// LeaveAll removes session from every chat it belongs to (used on
// disconnect/forced-removal cleanup). Returns the ids of chats the
// session left, and which of those were destroyed.
func (r *Registry) LeaveAll(session uint32) (left []uint32, destroyed []uint32) {
	r.mu.RLock()
	ids := make([]uint32, 0, len(r.chats))
	for id := range r.chats {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if c, ok := r.Get(id); ok && c.IsMember(session) {
			_, wasDestroyed, err := r.Leave(id, session)
			if err == nil {
				left = append(left, id)
				if wasDestroyed {
					destroyed = append(destroyed, id)
				}
			}
		}
	}
	return left, destroyed
}

// SetTopic updates chat's topic. For the public room this persists to
// disk (§4.E); private rooms keep their topic in memory only.
func (r *Registry) SetTopic(chatID uint32, nick, text string) error {
	c, ok := r.Get(chatID)
	if !ok {
		return ErrChatNotFound
	}
	c.mu.Lock()
	c.topic = Topic{Nick: nick, Text: text, Date: time.Now()}
	topicCopy := c.topic
	c.mu.Unlock()

	if chatID == PublicChatID && r.topicPath != "" {
		return persistTopic(r.topicPath, topicCopy)
	}
	return nil
}

func persistTopic(path string, t Topic) error {
	var sb strings.Builder
	sb.WriteString(t.Nick)
	sb.WriteByte('\n')
	sb.WriteString(t.Date.Format(time.RFC3339))
	sb.WriteByte('\n')
	sb.WriteString(t.Text)
	return atomicfile.Write(path, []byte(sb.String()), 0o644)
}

// Invite adds target to chat's invited set. Caller verifies inviter is a
// member before calling.
func (r *Registry) Invite(chatID, target uint32) error {
	c, ok := r.Get(chatID)
	if !ok {
		return ErrChatNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invited[target] = struct{}{}
	return nil
}

// SplitSayLines splits text on newlines and drops empty lines, per §4.E's
// send_say/send_me rule (an all-newline message produces zero broadcasts).
func SplitSayLines(text string) []string {
	parts := strings.Split(text, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Say builds the say/me broadcast messages for one logical send_say/
// send_me request: one wired.chat.say (or .me) message per non-empty
// line, each addressed to the same chat and transaction.
func Say(chatID, senderID uint32, name, text string, req *protocol.Message) []*protocol.Message {
	lines := SplitSayLines(text)
	out := make([]*protocol.Message, 0, len(lines))
	for _, line := range lines {
		m := protocol.New(name).
			SetUint32("wired.chat.id", chatID).
			SetUint32("wired.user.id", senderID).
			SetString("wired.chat.text", line).
			EchoTxn(req)
		out = append(out, m)
	}
	return out
}
