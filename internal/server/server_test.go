package server

import (
	"net"
	"path/filepath"
	"testing"

	"log/slog"

	"wired/internal/accounts"
	"wired/internal/boards"
	"wired/internal/config"
	"wired/internal/protocol"
	"wired/internal/users"
)

// fakeWriter records every message written to it, the same stand-in the
// users package's own tests use in place of a live socket codec.
type fakeWriter struct {
	sent []*protocol.Message
}

func (w *fakeWriter) WriteMessage(m *protocol.Message) error {
	w.sent = append(w.sent, m)
	return nil
}

// newTestServer builds a Server against a temp data directory, the same
// shape server.New produces but without opening a TLS listener.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Files = filepath.Join(dir, "files")
	s, err := New(cfg, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

// newTestSession wires a Session to a fakeWriter via a net.Pipe, the same
// pattern internal/users' own tests use.
func newTestSession(t *testing.T, id uint32) (*users.Session, *fakeWriter) {
	t.Helper()
	client, srv := net.Pipe()
	t.Cleanup(func() { client.Close(); srv.Close() })
	w := &fakeWriter{}
	return users.NewSession(id, srv, w), w
}

func TestStateAllowsGate(t *testing.T) {
	cases := []struct {
		state users.State
		name  string
		want  bool
	}{
		{users.StateConnected, "wired.client_info", true},
		{users.StateConnected, "wired.send_login", false},
		{users.StateGaveClientInfo, "wired.send_login", true},
		{users.StateGaveClientInfo, "wired.board.get_boards", false},
		{users.StateLoggedIn, "wired.board.get_boards", true},
		{users.StateLoggedIn, "wired.anything.at.all", true},
		{users.StateTransferring, "wired.send_ping", false},
	}
	for _, c := range cases {
		if got := stateAllows(c.state, c.name); got != c.want {
			t.Errorf("stateAllows(%v, %q) = %v, want %v", c.state, c.name, got, c.want)
		}
	}
}

func TestRouteUnknownMessageRepliesUnrecognized(t *testing.T) {
	s := newTestServer(t)
	sess, w := newTestSession(t, 1)

	s.route(sess, protocol.New("wired.not.a.real.message").WithTxn(7, true))

	if len(w.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(w.sent))
	}
	if w.sent[0].Name != "wired.error" {
		t.Fatalf("expected wired.error reply, got %s", w.sent[0].Name)
	}
}

func TestRouteHandlerErrorBecomesSingleErrorReply(t *testing.T) {
	s := newTestServer(t)
	sess, w := newTestSession(t, 1)
	// join_chat on a nonexistent private chat id returns chat_not_found.
	req := protocol.New("wired.chat.join_chat").SetUint32("wired.chat.id", 999).WithTxn(3, true)

	s.route(sess, req)

	if len(w.sent) != 1 {
		t.Fatalf("expected exactly one error reply, got %d", len(w.sent))
	}
	if w.sent[0].Name != "wired.error" {
		t.Fatalf("expected wired.error, got %s", w.sent[0].Name)
	}
	if !w.sent[0].HasTxn || w.sent[0].Transaction != 3 {
		t.Fatalf("expected the error reply to echo the request's transaction id")
	}
}

func TestJoinPublicChatBroadcastsAndReplies(t *testing.T) {
	s := newTestServer(t)
	sess, w := newTestSession(t, 1)
	s.Users.Add(func(id uint32) *users.Session { return sess })
	sess.SetState(users.StateLoggedIn)
	sess.SetNick("alice")

	req := protocol.New("wired.chat.join_chat").SetUint32("wired.chat.id", 1).WithTxn(1, true)
	s.route(sess, req)

	if len(w.sent) != 2 {
		t.Fatalf("expected a joined reply plus a user_joined broadcast, got %d: %+v", len(w.sent), w.sent)
	}
	if w.sent[0].Name != "wired.chat.joined" {
		t.Fatalf("expected first message to be wired.chat.joined, got %s", w.sent[0].Name)
	}
}

func TestAddBoardDeniedWithoutPrivilege(t *testing.T) {
	s := newTestServer(t)
	sess, w := newTestSession(t, 1)
	sess.SetState(users.StateLoggedIn)
	sess.SetAccount(&accounts.Account{Name: "alice", Privileges: map[string]bool{}})

	req := protocol.New("wired.board.add_board").SetString("wired.board.board", "news").WithTxn(9, true)
	s.route(sess, req)

	if len(w.sent) != 1 || w.sent[0].Name != "wired.error" {
		t.Fatalf("expected a single permission_denied error reply, got %+v", w.sent)
	}
	if _, err := s.Boards.ListBoards(); err != nil {
		t.Fatalf("ListBoards: %v", err)
	}
	all, _ := s.Boards.ListBoards()
	for _, b := range all {
		if b.Path == "news" {
			t.Fatalf("board must not be created when the caller lacks add_boards")
		}
	}
}

func TestAddBoardSucceedsWithPrivilege(t *testing.T) {
	s := newTestServer(t)
	sess, w := newTestSession(t, 1)
	sess.SetState(users.StateLoggedIn)
	sess.SetAccount(&accounts.Account{
		Name:       "admin",
		Group:      "admins",
		Privileges: map[string]bool{accounts.PrivAddBoards: true},
	})

	req := protocol.New("wired.board.add_board").SetString("wired.board.board", "news").WithTxn(1, true)
	s.route(sess, req)

	if len(w.sent) != 1 || w.sent[0].Name != "wired.okay" {
		t.Fatalf("expected a single okay reply, got %+v", w.sent)
	}
	all, err := s.Boards.ListBoards()
	if err != nil {
		t.Fatalf("ListBoards: %v", err)
	}
	found := false
	for _, b := range all {
		if b.Path == "news" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected board %q to exist after add_board, got %+v", "news", all)
	}
}

func TestCreateUserRoundTripsThroughAccountStore(t *testing.T) {
	s := newTestServer(t)
	sess, w := newTestSession(t, 1)
	sess.SetState(users.StateLoggedIn)
	sess.SetAccount(&accounts.Account{
		Name: "admin",
		Privileges: map[string]bool{
			accounts.PrivCreateUsers:          true,
			protocol.AccountPrivilegeNames[0]: true,
		},
	})

	req := protocol.New("wired.account.create_user").
		SetString("wired.account.name", "bob").
		SetString("wired.account.full_name", "Bob Builder").
		SetString("wired.user.password", "secret").
		SetBool("wired.account.privilege."+protocol.AccountPrivilegeNames[0], true).
		WithTxn(1, true)

	s.route(sess, req)

	if len(w.sent) != 1 || w.sent[0].Name != "wired.okay" {
		t.Fatalf("expected a single okay reply, got %+v", w.sent)
	}
	acct, err := s.Accounts.ReadUser("bob")
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if acct.FullName != "Bob Builder" {
		t.Fatalf("expected full name to round-trip, got %q", acct.FullName)
	}
	if !acct.HasPrivilege(protocol.AccountPrivilegeNames[0]) {
		t.Fatalf("expected dynamic privilege field to round-trip into the stored account")
	}
}

func TestAccountEditedDisconnectsStrippedSubscription(t *testing.T) {
	s := newTestServer(t)
	if err := s.Accounts.CreateGroup(&accounts.Account{Name: "users", IsGroup: true}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := s.Accounts.CreateUser(&accounts.Account{Name: "alice", Group: "users", Privileges: map[string]bool{accounts.PrivAddBoards: true}}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	sess, _ := newTestSession(t, 1)
	sess.SetState(users.StateLoggedIn)
	eff, err := s.Accounts.ReadUserWithGroupOverlay("alice")
	if err != nil {
		t.Fatalf("ReadUserWithGroupOverlay: %v", err)
	}
	sess.SetAccount(eff)
	s.Users.Add(func(id uint32) *users.Session { return sess })
	sess.SetSubscribed("boards", true)

	if err := s.Accounts.EditUser("alice", func(a *accounts.Account) {
		a.Privileges[accounts.PrivAddBoards] = false
	}); err != nil {
		t.Fatalf("EditUser: %v", err)
	}

	if sess.Subscriptions().Boards {
		t.Fatalf("expected the boards subscription to be stripped once add_boards (the only board privilege held) is revoked")
	}
}

// TestEditUserRenameCascadesBoardOwnershipAndNotifiesSubscriber covers §8
// scenario 6: account.edit_user carrying a new_name rewrites every board
// ACL naming the old login as owner or group, and every board-subscribed
// session with the required visibility receives one permissions_changed.
func TestEditUserRenameCascadesBoardOwnershipAndNotifiesSubscriber(t *testing.T) {
	s := newTestServer(t)
	if err := s.Accounts.CreateUser(&accounts.Account{
		Name:       "alice",
		Privileges: map[string]bool{accounts.PrivAddBoards: true},
	}); err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	if err := s.Boards.AddBoard("b", boards.ACL{Owner: "alice", Mode: boards.ModeOwnerRead | boards.ModeOwnerWrite | boards.ModeEveryoneRead}); err != nil {
		t.Fatalf("AddBoard: %v", err)
	}

	admin, w := newTestSession(t, 1)
	admin.SetState(users.StateLoggedIn)
	admin.SetAccount(&accounts.Account{Name: "admin", Privileges: map[string]bool{
		accounts.PrivEditAccounts: true, accounts.PrivAddBoards: true,
	}})
	s.Users.Add(func(id uint32) *users.Session { return admin })

	subscriber, subW := newTestSession(t, 2)
	subscriber.SetState(users.StateLoggedIn)
	subscriber.SetAccount(&accounts.Account{Name: "carol"})
	s.Users.Add(func(id uint32) *users.Session { return subscriber })
	subscriber.SetSubscribed("boards", true)

	req := protocol.New("wired.account.edit_user").
		SetString("wired.account.name", "alice").
		SetString("wired.account.new_name", "bob").
		WithTxn(7, true)
	s.route(admin, req)

	if len(w.sent) != 1 || w.sent[0].Name != "wired.okay" {
		t.Fatalf("expected a single okay reply, got %+v", w.sent)
	}
	acl, err := s.Boards.ReadACL("b")
	if err != nil {
		t.Fatalf("ReadACL: %v", err)
	}
	if acl.Owner != "bob" {
		t.Fatalf("expected board owner rewritten to bob, got %q", acl.Owner)
	}

	found := false
	for _, m := range subW.sent {
		if m.Name == "wired.board.permissions_changed" {
			owner, _ := m.GetString("wired.board.owner")
			if owner == "bob" {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected subscriber to receive permissions_changed with owner=bob, got %+v", subW.sent)
	}

	if _, err := s.Accounts.ReadUser("alice"); err == nil {
		t.Fatalf("expected old login to no longer resolve after rename")
	}
	if _, err := s.Accounts.ReadUser("bob"); err != nil {
		t.Fatalf("expected new login to resolve after rename: %v", err)
	}
}
