package accounts

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bluele/gcache"

	"wired/internal/atomicfile"
)

// ErrNotFound and ErrExists match the wire-level account_not_found /
// account_exists taxonomy (§6); the dispatcher translates these into the
// corresponding *protocol.WireError.
var (
	ErrNotFound = fmt.Errorf("accounts: not found")
	ErrExists   = fmt.Errorf("accounts: already exists")
)

// HashPassword hashes a cleartext password the way the original wire
// protocol's login scenario expects (§8 scenario 1: password=sha1("")):
// a plain SHA-1 hex digest. This is a fixed wire-compatibility detail, not
// a design choice — a real deployment would not choose SHA-1 for new
// password hashing, but the wire contract is what it is.
func HashPassword(cleartext string) string {
	sum := sha1.Sum([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}

// OnAccountEdited is invoked after an account edit commits, with the login
// the account was read under and the login it is stored under afterward
// (identical unless the edit renamed it), so the caller (component D) can
// force a privilege re-check and, if a capability was stripped, unsubscribe
// / demote / disconnect the session (§4.B, U5), resolving the fresh record
// under newName rather than the now-stale oldName. Mirrors the teacher's
// injected-callback pattern (Room.SetOnRename, SetOnAuditLog, SetOnBan) for
// wiring persistence-adjacent side effects into a stateless core without a
// direct import cycle.
type OnAccountEdited func(oldName, newName string)

// OnAccountDeleted is invoked once after a user account is deleted, so the
// caller can forcibly disconnect every live session logged in as it (U9).
type OnAccountDeleted func(name string)

// Store is the persistent account/group store. Two independent
// read/write-locked dictionaries guard the in-memory cache, as specified
// in §5; writes go through the corresponding lock and are flushed with an
// atomic tempfile-then-rename write (§7).
type Store struct {
	dir string

	usersMu sync.RWMutex
	users   map[string]*Account

	groupsMu sync.RWMutex
	groups   map[string]*Account

	overlayCache gcache.Cache

	onEdited  OnAccountEdited
	onDeleted OnAccountDeleted
}

// Open loads every account/group TOML file under dir/users and
// dir/groups into memory. The directories are created if absent.
func Open(dir string) (*Store, error) {
	usersDir := filepath.Join(dir, "users")
	groupsDir := filepath.Join(dir, "groups")
	if err := os.MkdirAll(usersDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(groupsDir, 0o755); err != nil {
		return nil, err
	}

	s := &Store{
		dir:          dir,
		users:        make(map[string]*Account),
		groups:       make(map[string]*Account),
		overlayCache: gcache.New(1024).LRU().Build(),
	}

	if err := loadDir(usersDir, s.users); err != nil {
		return nil, err
	}
	if err := loadDir(groupsDir, s.groups); err != nil {
		return nil, err
	}
	return s, nil
}

func loadDir(dir string, into map[string]*Account) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		var a Account
		if _, err := toml.DecodeFile(filepath.Join(dir, e.Name()), &a); err != nil {
			return fmt.Errorf("accounts: decode %s: %w", e.Name(), err)
		}
		into[a.Name] = &a
	}
	return nil
}

func (s *Store) SetOnAccountEdited(fn OnAccountEdited)   { s.onEdited = fn }
func (s *Store) SetOnAccountDeleted(fn OnAccountDeleted) { s.onDeleted = fn }

func (s *Store) userPath(name string) string  { return filepath.Join(s.dir, "users", name+".toml") }
func (s *Store) groupPath(name string) string { return filepath.Join(s.dir, "groups", name+".toml") }

func persist(path string, a *Account) error {
	w := new(tomlBuffer)
	if err := toml.NewEncoder(w).Encode(a); err != nil {
		return err
	}
	return atomicfile.Write(path, w.Bytes(), 0o600)
}

// ReadUser returns a copy of the raw user record (no group overlay).
func (s *Store) ReadUser(name string) (*Account, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	a, ok := s.users[name]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

// ReadGroup returns a copy of the raw group record.
func (s *Store) ReadGroup(name string) (*Account, error) {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()
	a, ok := s.groups[name]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

// ReadUserWithGroupOverlay returns the user merged with its primary
// group's privileges/limits (§4.B), served from an LRU cache invalidated
// synchronously by EditUser/EditGroup so that the very next read after an
// edit observes fresh data (U5).
func (s *Store) ReadUserWithGroupOverlay(name string) (*Account, error) {
	if cached, err := s.overlayCache.Get(name); err == nil {
		return cached.(*Account).clone(), nil
	}

	user, err := s.ReadUser(name)
	if err != nil {
		return nil, err
	}
	var group *Account
	if user.Group != "" {
		group, _ = s.ReadGroup(user.Group)
	}
	eff := Overlay(user, group)
	s.overlayCache.Set(name, eff)
	return eff.clone(), nil
}

// CreateUser persists a brand new user account.
func (s *Store) CreateUser(a *Account) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if _, exists := s.users[a.Name]; exists {
		return ErrExists
	}
	a.IsGroup = false
	a.CreatedAt = time.Now()
	a.ModifiedAt = a.CreatedAt
	if err := persist(s.userPath(a.Name), a); err != nil {
		return err
	}
	s.users[a.Name] = a.clone()
	return nil
}

// CreateGroup persists a brand new group account.
func (s *Store) CreateGroup(a *Account) error {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	if _, exists := s.groups[a.Name]; exists {
		return ErrExists
	}
	a.IsGroup = true
	a.CreatedAt = time.Now()
	a.ModifiedAt = a.CreatedAt
	if err := persist(s.groupPath(a.Name), a); err != nil {
		return err
	}
	s.groups[a.Name] = a.clone()
	return nil
}

// EditUser applies edit to the named user, persists it, invalidates the
// overlay cache, and notifies any live session logged in as it.
func (s *Store) EditUser(name string, edit func(*Account)) error {
	s.usersMu.Lock()
	a, ok := s.users[name]
	if !ok {
		s.usersMu.Unlock()
		return ErrNotFound
	}
	updated := a.clone()
	edit(updated)
	updated.ModifiedAt = time.Now()

	finalName := updated.Name
	if err := persist(s.userPath(finalName), updated); err != nil {
		s.usersMu.Unlock()
		return err
	}
	if finalName != name {
		delete(s.users, name)
		os.Remove(s.userPath(name))
	}
	s.users[finalName] = updated
	s.usersMu.Unlock()

	s.overlayCache.Remove(name)
	s.overlayCache.Remove(finalName)
	if s.onEdited != nil {
		s.onEdited(name, finalName)
	}
	return nil
}

// EditGroup applies edit to the named group and persists it. Since any
// number of users may overlay this group, every cached overlay is
// invalidated (a single gcache.Purge is cheap relative to edit frequency).
func (s *Store) EditGroup(name string, edit func(*Account)) error {
	s.groupsMu.Lock()
	a, ok := s.groups[name]
	if !ok {
		s.groupsMu.Unlock()
		return ErrNotFound
	}
	updated := a.clone()
	edit(updated)
	updated.ModifiedAt = time.Now()

	finalName := updated.Name
	if err := persist(s.groupPath(finalName), updated); err != nil {
		s.groupsMu.Unlock()
		return err
	}
	if finalName != name {
		delete(s.groups, name)
		os.Remove(s.groupPath(name))
	}
	s.groups[finalName] = updated
	s.groupsMu.Unlock()

	s.overlayCache.Purge()
	return nil
}

// ChangePassword updates only the password hash. The §9 open question (a)
// applies here: this function itself does not check the change_password
// privilege — it is the dispatcher's job (component J) to check it before
// calling this, matching the original source's enforcement point.
func (s *Store) ChangePassword(name, hash string) error {
	return s.EditUser(name, func(a *Account) { a.PasswordHash = hash })
}

// DeleteUser removes a user account and notifies the caller so live
// sessions logged in as it can be disconnected (U9).
func (s *Store) DeleteUser(name string) error {
	s.usersMu.Lock()
	if _, ok := s.users[name]; !ok {
		s.usersMu.Unlock()
		return ErrNotFound
	}
	delete(s.users, name)
	s.usersMu.Unlock()

	os.Remove(s.userPath(name))
	s.overlayCache.Remove(name)
	if s.onDeleted != nil {
		s.onDeleted(name)
	}
	return nil
}

// DeleteGroup removes a group account. Per spec.md this does not cascade
// onto member users beyond no longer being resolvable as a primary group;
// resolving that is the caller's concern.
func (s *Store) DeleteGroup(name string) error {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	if _, ok := s.groups[name]; !ok {
		return ErrNotFound
	}
	delete(s.groups, name)
	os.Remove(s.groupPath(name))
	s.overlayCache.Purge()
	return nil
}

// ListUsers returns every user account (for account.list_users / U5-style
// admin listings). Order is unspecified.
func (s *Store) ListUsers() []*Account {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	out := make([]*Account, 0, len(s.users))
	for _, a := range s.users {
		out = append(out, a.clone())
	}
	return out
}

// ListGroups returns every group account.
func (s *Store) ListGroups() []*Account {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()
	out := make([]*Account, 0, len(s.groups))
	for _, a := range s.groups {
		out = append(out, a.clone())
	}
	return out
}

// VerifyEditDoesNotEscalate reports whether editor is allowed to produce
// the given edited privilege set: a session may never grant a privilege it
// does not itself hold (no self-escalation via editing others).
func VerifyEditDoesNotEscalate(editor, edited *Account) bool {
	for priv, granted := range edited.Privileges {
		if granted && !editor.HasPrivilege(priv) {
			return false
		}
	}
	return true
}

// tomlBuffer is a tiny io.Writer adapter so we can encode to []byte without
// pulling in bytes.Buffer's larger API surface at the call site above.
type tomlBuffer struct {
	data []byte
}

func (b *tomlBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *tomlBuffer) Bytes() []byte { return b.data }
