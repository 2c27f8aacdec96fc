// Package accounts implements the persistent account/group store (component
// B): keyed maps of user and group records, a group-overlay privilege
// computation, and the account-edit cascade that forces live sessions to
// re-check their privileges.
package accounts

import "time"

// Privilege names this implementation recognizes. Not exhaustive of every
// privilege the original protocol defines, but enough to exercise every
// permission check named in SPEC_FULL.md's component design and testable
// properties.
const (
	PrivChangePassword    = "change_password"
	PrivGetUserInfo       = "get_user_info"
	PrivBroadcast         = "broadcast"
	PrivPostNews          = "post_news"
	PrivClearNews         = "clear_news"
	PrivDownload          = "download"
	PrivUpload            = "upload"
	PrivUploadAnywhere    = "upload_anywhere"
	PrivCreateDirectories = "create_directories"
	PrivMoveFiles         = "move_files"
	PrivDeleteFiles       = "delete_files"
	PrivViewDropboxes     = "view_dropboxes"
	PrivCreateAccounts    = "create_accounts"
	PrivEditAccounts      = "edit_accounts"
	PrivDeleteAccounts    = "delete_accounts"
	PrivCreateUsers       = "create_users"
	PrivCreateGroups      = "create_groups"
	PrivElevatePrivileges = "elevate_privileges"
	PrivKickUsers         = "kick_users"
	PrivBanUsers          = "ban_users"
	PrivCannotBeKicked    = "cannot_be_kicked"
	PrivSetTopic          = "set_topic"
	PrivAddBoards         = "add_boards"
	PrivDeleteBoards      = "delete_boards"
	PrivRenameBoards      = "rename_boards"
	PrivMoveBoards        = "move_boards"
	PrivSetPermissions    = "set_permissions"
	PrivAddThreads        = "add_threads"
	PrivDeleteThreads     = "delete_threads"
	PrivMoveThreads       = "move_threads"
	PrivAddPosts          = "add_posts"
	PrivEditAllPosts      = "edit_all_posts"
	PrivDeleteAllPosts    = "delete_all_posts"
	PrivViewAccounts      = "view_accounts"
	PrivChangeTopic       = "change_topic"
)

// Limit names: numeric caps rather than booleans.
const (
	LimitDownloadSpeed        = "download_speed"
	LimitUploadSpeed          = "upload_speed"
	LimitDownloadLimit        = "download_limit"
	LimitUploadLimit          = "upload_limit"
	LimitRecursiveListDepth   = "recursive_list_depth_limit"
)

// Account is the persistent identity of a user or group (§3).
type Account struct {
	Name    string `toml:"name"`
	NewName string `toml:"new_name,omitempty"`
	IsGroup bool   `toml:"is_group"`

	FullName     string `toml:"full_name"`
	PasswordHash string `toml:"password_hash"`

	Group      string   `toml:"group,omitempty"`       // primary group, users only
	ExtraGroups []string `toml:"extra_groups,omitempty"`

	Privileges map[string]bool  `toml:"privileges,omitempty"`
	Limits     map[string]int64 `toml:"limits,omitempty"`

	FilesRoot string `toml:"files_root,omitempty"`

	EditedBy string `toml:"edited_by,omitempty"`

	CreatedAt  time.Time `toml:"created_at"`
	ModifiedAt time.Time `toml:"modified_at"`
	LoginAt    time.Time `toml:"login_at,omitempty"`

	DownloadCount int64 `toml:"download_count"`
	DownloadBytes int64 `toml:"download_bytes"`
	UploadCount   int64 `toml:"upload_count"`
	UploadBytes   int64 `toml:"upload_bytes"`
}

// clone returns a deep-enough copy safe to hand to callers without
// exposing the store's internal map.
func (a *Account) clone() *Account {
	c := *a
	c.Privileges = make(map[string]bool, len(a.Privileges))
	for k, v := range a.Privileges {
		c.Privileges[k] = v
	}
	c.Limits = make(map[string]int64, len(a.Limits))
	for k, v := range a.Limits {
		c.Limits[k] = v
	}
	c.ExtraGroups = append([]string(nil), a.ExtraGroups...)
	return &c
}

// Overlay computes the effective privilege/limit set: the user account's
// fields take precedence; any field absent on the user falls back to the
// primary group's value (§3 invariant, §4.B group overlay rule).
func Overlay(user, group *Account) *Account {
	if group == nil {
		return user.clone()
	}
	eff := user.clone()
	for k, v := range group.Privileges {
		if _, ok := eff.Privileges[k]; !ok {
			eff.Privileges[k] = v
		}
	}
	for k, v := range group.Limits {
		if _, ok := eff.Limits[k]; !ok {
			eff.Limits[k] = v
		}
	}
	if eff.FilesRoot == "" {
		eff.FilesRoot = group.FilesRoot
	}
	return eff
}

// HasPrivilege reports whether the effective account carries the named
// boolean privilege.
func (a *Account) HasPrivilege(name string) bool {
	return a.Privileges[name]
}

// Limit returns the named numeric limit, or 0 (meaning "unlimited" per
// §4.H's cap semantics) if unset.
func (a *Account) Limit(name string) int64 {
	return a.Limits[name]
}
