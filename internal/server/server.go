// Package server wires every component in SPEC_FULL.md §4 into one root
// object (§9: "model these as components held by a single Server root
// object passed explicitly, avoid process-wide mutable statics"), and
// implements the message dispatcher (4.J), acceptor (4.K), and the
// handler set that fans protocol operations out onto the component
// packages.
//
// Grounded on the teacher's Server type (server.go: addr, tlsConfig,
// room, idleTimeout held on one struct, constructed once in main and
// passed down) generalized from one Room to the full component set this
// spec requires.
package server

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"wired/internal/accounts"
	"wired/internal/banlist"
	"wired/internal/boards"
	"wired/internal/chat"
	"wired/internal/config"
	"wired/internal/events"
	"wired/internal/files"
	"wired/internal/news"
	"wired/internal/protocol"
	"wired/internal/transfer"
	"wired/internal/users"
)

// Server owns every shared component and is passed explicitly to the
// dispatcher and its handlers (no package-level singletons, per §9).
type Server struct {
	Config *config.Config
	Log    *slog.Logger

	Schema   *protocol.Schema
	Accounts *accounts.Store
	Banlist  *banlist.Banlist
	Chats    *chat.Registry
	Boards   *boards.Store
	Files    *files.Tree
	Watch    *files.WatchHub
	Events   *events.Log
	News     *news.News
	Users    *users.Registry
	Bcast    *users.Broadcaster

	Transfers        *transfer.Scheduler
	totalDownloadBps int64
	totalUploadBps   int64

	// privCache holds the group-overlaid effective Account for a login,
	// invalidated synchronously on edit/delete so U5 ("next privilege
	// check after edit sees fresh data") holds without a TTL race.
	privCache gcache.Cache

	// tombstones holds index-relative paths deleted since the last
	// search index rebuild, so file.search suppresses stale hits for
	// paths the on-disk index hasn't caught up with yet (§4.G).
	tombstoneMu sync.Mutex
	tombstones  map[string]struct{}

	dataDir string
	startAt time.Time
}

// markTombstone records name (a path relative to Config.Files) as
// deleted, so it is suppressed from search results until the next index
// rebuild clears the set.
func (s *Server) markTombstone(name string) {
	s.tombstoneMu.Lock()
	if s.tombstones == nil {
		s.tombstones = make(map[string]struct{})
	}
	s.tombstones[name] = struct{}{}
	s.tombstoneMu.Unlock()
}

// tombstoneSet returns a snapshot of the current tombstone set, safe for
// a caller to range over without holding the server's lock.
func (s *Server) tombstoneSet() map[string]struct{} {
	s.tombstoneMu.Lock()
	defer s.tombstoneMu.Unlock()
	out := make(map[string]struct{}, len(s.tombstones))
	for k := range s.tombstones {
		out[k] = struct{}{}
	}
	return out
}

// clearTombstones resets the tombstone set, called at the start of each
// index rebuild since a fresh index no longer contains the deleted rows.
func (s *Server) clearTombstones() {
	s.tombstoneMu.Lock()
	s.tombstones = make(map[string]struct{})
	s.tombstoneMu.Unlock()
}

// New constructs the Server root, opening every on-disk store under
// cfg.DataDir and cfg.Files, and wiring the cross-component callbacks
// (account edit/delete cascades, queue-position notifications, file
// watch fan-out) that the teacher wires via injected closures
// (Room.SetOnRename, SetOnAuditLog, SetOnBan).
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create data dir: %w", err)
	}

	acctStore, err := accounts.Open(filepath.Join(cfg.DataDir, "accounts"))
	if err != nil {
		return nil, fmt.Errorf("server: open accounts: %w", err)
	}
	bans, err := banlist.Open(filepath.Join(cfg.DataDir, "banlist"))
	if err != nil {
		return nil, fmt.Errorf("server: open banlist: %w", err)
	}
	boardStore, err := boards.Open(filepath.Join(cfg.DataDir, "boards"))
	if err != nil {
		return nil, fmt.Errorf("server: open boards: %w", err)
	}
	if err := os.MkdirAll(cfg.Files, 0o755); err != nil {
		return nil, fmt.Errorf("server: create files root: %w", err)
	}
	evLog, err := events.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("server: open events: %w", err)
	}
	newsStore, err := news.Open(filepath.Join(cfg.DataDir, "news"), cfg.NewsLimit)
	if err != nil {
		return nil, fmt.Errorf("server: open news: %w", err)
	}

	chats := chat.NewRegistry(filepath.Join(cfg.DataDir, "topic"))
	registry := users.NewRegistry()
	bcast := users.NewBroadcaster(registry)

	s := &Server{
		Config:   cfg,
		Log:      logger,
		Schema:   protocol.DefaultSchema(),
		Accounts: acctStore,
		Banlist:  bans,
		Chats:    chats,
		Boards:   boardStore,
		Files:    files.NewTree(cfg.Files),
		Events:   evLog,
		News:     newsStore,
		Users:    registry,
		Bcast:    bcast,
		dataDir:  cfg.DataDir,
		startAt:  time.Now(),

		totalDownloadBps: int64(cfg.TotalDownloadSpeed),
		totalUploadBps:   int64(cfg.TotalUploadSpeed),
	}

	s.privCache = gcache.New(1024).LRU().
		LoaderFunc(func(key any) (any, error) {
			return s.loadEffective(key.(string))
		}).Build()

	s.Transfers = transfer.NewScheduler(s.perUserTransferCap)
	s.Transfers.TotalDownloads = cfg.TotalDownloads
	s.Transfers.TotalUploads = cfg.TotalUploads
	s.Transfers.SetOnQueueChange(s.onQueueChange)

	watch, err := files.NewWatchHub(s.onFileChanged)
	if err != nil {
		return nil, fmt.Errorf("server: start file watcher: %w", err)
	}
	s.Watch = watch

	registry.SetOnRemove(func(sess *users.Session) {
		left, _ := s.Chats.LeaveAll(sess.ID)
		for _, id := range left {
			if c, ok := s.Chats.Get(id); ok {
				s.Bcast.BroadcastTo(c.Members(), protocol.New("wired.chat.user_left").
					SetUint32("wired.chat.id", id).
					SetUint32("wired.user.id", sess.ID))
			}
		}
		if t, ok := s.Transfers.Get(sess.TransferID()); ok {
			t.Stop()
		}
		for p := range sess.Subscriptions().Paths {
			_ = s.Watch.Unsubscribe(p)
		}
		sess.UnsubscribeAll()
	})

	acctStore.SetOnAccountEdited(s.onAccountEdited)
	acctStore.SetOnAccountDeleted(s.onAccountDeleted)
	evLog.SetOnEvent(s.onEvent)

	return s, nil
}

// onEvent fans a newly accepted audit event out to every log/event
// subscriber (component L), mirroring the teacher's audit-log broadcast
// hook wired the same way (SetOnAuditLog).
func (s *Server) onEvent(ev events.Event) {
	m := eventToMessage(ev)
	s.Bcast.BroadcastSubscribers("log", m)
	s.Bcast.BroadcastSubscribers("events", m)
}

// Close releases background resources (file watcher, event log archive
// index) owned directly by the Server.
func (s *Server) Close() error {
	_ = s.Watch.Close()
	return s.Events.Close()
}

// effectivePrivileges returns the group-overlaid Account for login,
// through the LRU cache (§2.2's gcache wiring).
func (s *Server) effectivePrivileges(login string) (*accounts.Account, error) {
	v, err := s.privCache.Get(login)
	if err != nil {
		return nil, err
	}
	return v.(*accounts.Account), nil
}

func (s *Server) loadEffective(login string) (*accounts.Account, error) {
	return s.Accounts.ReadUserWithGroupOverlay(login)
}

// onAccountEdited invalidates the cache synchronously, then forces every
// live session logged in as oldName to re-check its privileges (§4.B, U5):
// subscriptions/roles the new privileges no longer cover are torn down
// and a status broadcast is issued. oldName and newName differ only when
// the edit renamed the account (§4.F scenario 6); the fresh record is
// always resolved under newName, since oldName no longer reads back once
// renamed.
func (s *Server) onAccountEdited(oldName, newName string) {
	s.privCache.Remove(oldName)
	s.privCache.Remove(newName)
	for _, sess := range s.Users.UsersWithLogin(oldName) {
		eff, err := s.effectivePrivileges(newName)
		if err != nil {
			continue
		}
		sess.SetAccount(eff)
		s.enforceStrippedCapabilities(sess, eff)
	}
}

// enforceStrippedCapabilities demotes a session from any subscription or
// role its newly-edited privileges no longer permit.
func (s *Server) enforceStrippedCapabilities(sess *users.Session, eff *accounts.Account) {
	subs := sess.Subscriptions()
	if subs.Boards && !eff.HasPrivilege(accounts.PrivViewAccounts) && !hasAnyBoardPriv(eff) {
		sess.SetSubscribed("boards", false)
	}
	if subs.Accounts && !eff.HasPrivilege(accounts.PrivViewAccounts) {
		sess.SetSubscribed("accounts", false)
	}
	if subs.Log && !eff.HasPrivilege(accounts.PrivViewAccounts) {
		// log subscription has no dedicated privilege in this
		// implementation's table; re-subscribe silently allowed.
		_ = subs
	}
	s.Bcast.BroadcastAll(protocol.New("wired.user.status").
		SetUint32("wired.user.id", sess.ID).
		SetString("wired.user.status", sess.Status()))
}

func hasAnyBoardPriv(a *accounts.Account) bool {
	return a.HasPrivilege(accounts.PrivAddBoards) || a.HasPrivilege(accounts.PrivDeleteBoards) ||
		a.HasPrivilege(accounts.PrivRenameBoards) || a.HasPrivilege(accounts.PrivMoveBoards)
}

// onAccountDeleted forcibly disconnects every live session logged in as
// the deleted account, before the delete handler's reply is written (U9).
func (s *Server) onAccountDeleted(name string) {
	s.privCache.Remove(name)
	for _, sess := range s.Users.UsersWithLogin(name) {
		s.disconnectSession(sess, "account deleted")
	}
}

// onQueueChange sends a transfer.queue notification to the owning
// session when its queue position changes (§4.H scheduling algorithm).
func (s *Server) onQueueChange(t *transfer.Transfer) {
	sess, ok := s.findSessionByTransfer(t.ID)
	if !ok {
		return
	}
	_ = sess.Send(protocol.New("wired.transfer.queue").
		SetUint32("wired.transfer.queue_position", uint32(t.QueuePosition())))
}

func (s *Server) findSessionByTransfer(id uint64) (*users.Session, bool) {
	for _, sess := range s.Users.All() {
		if sess.TransferID() == id {
			return sess, true
		}
	}
	return nil, false
}

// perUserTransferCap reads an account's transfer-count limit for the
// given direction, 0 meaning unlimited (§4.H).
func (s *Server) perUserTransferCap(login string, dir transfer.Direction) int {
	eff, err := s.effectivePrivileges(login)
	if err != nil {
		return 0
	}
	if dir == transfer.Download {
		return int(eff.Limit(accounts.LimitDownloadLimit))
	}
	return int(eff.Limit(accounts.LimitUploadLimit))
}

// disconnectSession flips the session to Disconnected, closes its
// socket (waking its receive loop), and lets the registry's removal
// callback run the rest of the cleanup (chat membership, transfer
// abort, subscriptions).
func (s *Server) disconnectSession(sess *users.Session, reason string) {
	sess.SetState(users.StateDisconnected)
	_ = sess.Close()
}
