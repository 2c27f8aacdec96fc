package accounts

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestCreateAndReadUser(t *testing.T) {
	s := newTestStore(t)
	a := &Account{Name: "alice", PasswordHash: HashPassword("")}
	if err := s.CreateUser(a); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	got, err := s.ReadUser("alice")
	if err != nil {
		t.Fatalf("ReadUser: %v", err)
	}
	if got.Name != "alice" {
		t.Fatalf("Name = %q", got.Name)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	s := newTestStore(t)
	a := &Account{Name: "alice"}
	if err := s.CreateUser(a); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(&Account{Name: "alice"}); err != ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestGroupOverlay(t *testing.T) {
	s := newTestStore(t)
	group := &Account{
		Name:       "admins",
		Privileges: map[string]bool{PrivAddBoards: true, PrivKickUsers: true},
		Limits:     map[string]int64{LimitDownloadSpeed: 0},
	}
	if err := s.CreateGroup(group); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	user := &Account{
		Name:       "bob",
		Group:      "admins",
		Privileges: map[string]bool{PrivKickUsers: false}, // explicit override
	}
	if err := s.CreateUser(user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	eff, err := s.ReadUserWithGroupOverlay("bob")
	if err != nil {
		t.Fatalf("ReadUserWithGroupOverlay: %v", err)
	}
	if !eff.HasPrivilege(PrivAddBoards) {
		t.Fatalf("expected add_boards from group overlay")
	}
	if eff.HasPrivilege(PrivKickUsers) {
		t.Fatalf("user's explicit false should take precedence over group's true")
	}
}

func TestEditUserInvalidatesOverlayCache(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateUser(&Account{Name: "carol"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	eff, _ := s.ReadUserWithGroupOverlay("carol")
	if eff.HasPrivilege(PrivAddBoards) {
		t.Fatalf("unexpected privilege before edit")
	}

	if err := s.EditUser("carol", func(a *Account) {
		a.Privileges = map[string]bool{PrivAddBoards: true}
	}); err != nil {
		t.Fatalf("EditUser: %v", err)
	}

	eff2, err := s.ReadUserWithGroupOverlay("carol")
	if err != nil {
		t.Fatalf("ReadUserWithGroupOverlay: %v", err)
	}
	if !eff2.HasPrivilege(PrivAddBoards) {
		t.Fatalf("expected add_boards immediately after edit (U5)")
	}
}

func TestEditUserNotifiesCallback(t *testing.T) {
	s := newTestStore(t)
	s.CreateUser(&Account{Name: "dave"})

	var notified, notifiedNew string
	s.SetOnAccountEdited(func(oldName, newName string) { notified, notifiedNew = oldName, newName })

	s.EditUser("dave", func(a *Account) { a.FullName = "Dave Smith" })
	if notified != "dave" || notifiedNew != "dave" {
		t.Fatalf("onEdited not called with unchanged name, got %q/%q", notified, notifiedNew)
	}

	s.EditUser("dave", func(a *Account) { a.Name = "dave2" })
	if notified != "dave" || notifiedNew != "dave2" {
		t.Fatalf("onEdited not called with old/new name on rename, got %q/%q", notified, notifiedNew)
	}
}

func TestDeleteUserNotifiesCallback(t *testing.T) {
	s := newTestStore(t)
	s.CreateUser(&Account{Name: "erin"})

	var deleted string
	s.SetOnAccountDeleted(func(name string) { deleted = name })

	if err := s.DeleteUser("erin"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if deleted != "erin" {
		t.Fatalf("onDeleted not called, got %q", deleted)
	}
	if _, err := s.ReadUser("erin"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestAccountsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.CreateUser(&Account{Name: "frank", PasswordHash: HashPassword("secret")})

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := s2.ReadUser("frank")
	if err != nil {
		t.Fatalf("ReadUser after reopen: %v", err)
	}
	if got.PasswordHash != HashPassword("secret") {
		t.Fatalf("password hash not persisted correctly")
	}
}

func TestVerifyEditDoesNotEscalate(t *testing.T) {
	editor := &Account{Privileges: map[string]bool{PrivAddBoards: true}}
	edited := &Account{Privileges: map[string]bool{PrivAddBoards: true, PrivDeleteAccounts: true}}
	if VerifyEditDoesNotEscalate(editor, edited) {
		t.Fatalf("expected escalation to be rejected")
	}

	editor2 := &Account{Privileges: map[string]bool{PrivAddBoards: true, PrivDeleteAccounts: true}}
	if !VerifyEditDoesNotEscalate(editor2, edited) {
		t.Fatalf("expected edit to be allowed when editor has every granted privilege")
	}
}
