// Package users implements the live session table (component D), the
// per-session state machine, and the broadcaster (component L). Sessions
// are held behind a read/write-locked registry; each Session itself guards
// its mutable fields with a single non-recursive mutex and its outgoing
// socket with a second, separate mutex, so that concurrent broadcast
// fan-out and direct replies never interleave bytes on the wire (§4.D).
//
// Grounded on the teacher's Client type (client.go): ctrlMu sync.Mutex
// guarding the outgoing writer is carried over verbatim in spirit; the
// teacher's recursive-lock-free design for Client's own fields is kept,
// per §9's explicit direction not to reintroduce recursive locks.
package users

import (
	"errors"
	"net"
	"sync"
	"time"

	"wired/internal/accounts"
	"wired/internal/protocol"
)

var errNoRawWriter = errors.New("users: session writer does not support raw replay")

// State is a session's position in the pre-dispatch state gate (§4.J).
type State int

const (
	StateConnected State = iota
	StateGaveClientInfo
	StateLoggedIn
	StateTransferring
	StateDisconnected
)

// ClientInfo is the application/os/arch/build tuple exchanged at handshake.
type ClientInfo struct {
	Application string
	Version     string
	OS          string
	OSVersion   string
	Arch        string
}

// Subscriptions is the per-session subscription bit-set plus the set of
// subscribed filesystem paths (component M).
type Subscriptions struct {
	Log      bool
	Accounts bool
	Boards   bool
	Events   bool
	Paths    map[string]struct{}
}

func newSubscriptions() Subscriptions {
	return Subscriptions{Paths: make(map[string]struct{})}
}

// MessageWriter is the minimal surface Session needs to send a message;
// satisfied by *protocol.Codec. Abstracted so tests can substitute a fake
// without standing up a real connection.
type MessageWriter interface {
	WriteMessage(*protocol.Message) error
}

// RawWriter is the optional surface a MessageWriter may additionally
// satisfy to replay an already-encoded payload (the search index's
// pre-serialized file.search_list rows, §4.G) without re-encoding it.
type RawWriter interface {
	WriteRaw([]byte) error
}

// Session is a live connection (§3 "Session (User)").
type Session struct {
	ID uint32

	conn net.Conn
	out  MessageWriter

	// ctrlMu serializes all writes to out so a broadcast from another
	// goroutine never interleaves with a direct reply.
	ctrlMu sync.Mutex

	mu sync.Mutex // guards everything below

	account  *accounts.Account
	login    string
	nick     string
	status   string
	icon     []byte
	remoteIP string
	hostname string

	idle         bool
	lastActivity time.Time

	info  ClientInfo
	state State

	subs Subscriptions

	transferID uint64 // 0 = no active transfer

	// transferIn relays inbound messages to the transfer worker while the
	// session sits in StateTransferring, since the worker must not race
	// the receive loop's own codec.ReadMessage call (§4.J).
	transferIn chan *protocol.Message
}

func NewSession(id uint32, conn net.Conn, out MessageWriter) *Session {
	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	return &Session{
		ID:           id,
		conn:         conn,
		out:          out,
		remoteIP:     host,
		lastActivity: time.Now(),
		state:        StateConnected,
		subs:         newSubscriptions(),
	}
}

// Send writes m to the session's socket, serialized against any
// concurrent broadcast.
func (s *Session) Send(m *protocol.Message) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	return s.out.WriteMessage(m)
}

// SendRaw replays an already-encoded message payload (a search index
// hit's pre-serialized row) if the underlying writer supports it,
// falling back to decoding and re-sending is not attempted here: a
// writer that can't replay raw bytes simply can't serve search results
// this way.
func (s *Session) SendRaw(payload []byte) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	rw, ok := s.out.(RawWriter)
	if !ok {
		return errNoRawWriter
	}
	return rw.WriteRaw(payload)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) Account() *accounts.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

func (s *Session) SetAccount(a *accounts.Account) {
	s.mu.Lock()
	s.account = a
	s.login = a.Name
	s.mu.Unlock()
}

func (s *Session) Login() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login
}

func (s *Session) Nick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

func (s *Session) SetNick(nick string) {
	s.mu.Lock()
	s.nick = nick
	s.mu.Unlock()
}

func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Session) SetIcon(icon []byte) {
	s.mu.Lock()
	s.icon = icon
	s.mu.Unlock()
}

func (s *Session) RemoteIP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteIP
}

func (s *Session) SetClientInfo(info ClientInfo) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

// Touch clears the idle flag and records activity, returning whether the
// session was idle (the caller broadcasts a status update in that case,
// per §4.J's receive loop).
func (s *Session) Touch() (wasIdle bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasIdle = s.idle
	s.idle = false
	s.lastActivity = time.Now()
	return wasIdle
}

func (s *Session) SetIdle(idle bool) {
	s.mu.Lock()
	s.idle = idle
	s.mu.Unlock()
}

func (s *Session) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) Subscriptions() Subscriptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.subs
	cp.Paths = make(map[string]struct{}, len(s.subs.Paths))
	for p := range s.subs.Paths {
		cp.Paths[p] = struct{}{}
	}
	return cp
}

func (s *Session) SetSubscribed(kind string, v bool) {
	s.mu.Lock()
	switch kind {
	case "log":
		s.subs.Log = v
	case "accounts":
		s.subs.Accounts = v
	case "boards":
		s.subs.Boards = v
	case "events":
		s.subs.Events = v
	}
	s.mu.Unlock()
}

func (s *Session) SubscribePath(path string)   { s.mu.Lock(); s.subs.Paths[path] = struct{}{}; s.mu.Unlock() }
func (s *Session) UnsubscribePath(path string) { s.mu.Lock(); delete(s.subs.Paths, path); s.mu.Unlock() }

func (s *Session) UnsubscribeAll() {
	s.mu.Lock()
	s.subs = newSubscriptions()
	s.mu.Unlock()
}

func (s *Session) SetTransferID(id uint64) {
	s.mu.Lock()
	s.transferID = id
	s.mu.Unlock()
}

func (s *Session) TransferID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferID
}

// BeginTransferChan opens the inbound relay channel a transfer worker
// reads from while the receive loop keeps owning codec.ReadMessage.
func (s *Session) BeginTransferChan() chan *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferIn = make(chan *protocol.Message, 4)
	return s.transferIn
}

// TransferChan returns the current relay channel, or nil if no transfer
// is in progress.
func (s *Session) TransferChan() chan *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferIn
}

// EndTransferChan closes and clears the relay channel.
func (s *Session) EndTransferChan() {
	s.mu.Lock()
	ch := s.transferIn
	s.transferIn = nil
	s.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (s *Session) Close() error {
	return s.conn.Close()
}
