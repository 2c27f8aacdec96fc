package protocol

import "wired/internal/accounts"

// FieldSpec describes one named field a message may or must carry.
type FieldSpec struct {
	Type     FieldType
	Required bool
}

// MessageSchema is the closed set of fields a message name may carry.
type MessageSchema struct {
	Fields map[string]FieldSpec
}

// Schema is the full, closed table of message names this server understands.
// It is loaded once at startup (here: built in Go rather than parsed from an
// XML description, since this implementation does not carry the original
// transport's XML schema language) and is the single place that decides
// whether a decoded message is well-formed.
type Schema struct {
	messages map[string]MessageSchema
}

func NewSchema() *Schema {
	return &Schema{messages: make(map[string]MessageSchema)}
}

func (s *Schema) Register(name string, fields map[string]FieldSpec) {
	s.messages[name] = MessageSchema{Fields: fields}
}

// Verify checks that m's name is known and that every field it carries both
// belongs to the schema and has the declared type, and that every required
// field is present. An unrecognized name fails distinctly from a malformed
// known message, since the dispatcher (component J) reports the two cases
// with different wire errors (unrecognized_message vs invalid_message).
func (s *Schema) Verify(m *Message) error {
	sch, ok := s.messages[m.Name]
	if !ok {
		return ErrUnrecognizedMessage
	}
	for name, field := range m.Fields {
		spec, ok := sch.Fields[name]
		if !ok {
			return ErrInvalidMessage
		}
		if field.Type != spec.Type {
			return ErrInvalidMessage
		}
	}
	for name, spec := range sch.Fields {
		if spec.Required {
			if _, ok := m.Fields[name]; !ok {
				return ErrInvalidMessage
			}
		}
	}
	return nil
}

// accountPrivilegeNames and accountLimitNames list every dynamic
// "wired.account.privilege.<name>" / "wired.account.limit.<name>" field a
// create_user/create_group/edit_user/edit_group message may carry, mirrored
// from internal/accounts' privilege and limit constants so the inbound
// schema check (ReadMessage verifies, WriteMessage does not) accepts
// exactly the fields internal/server's account handlers read.
// AccountPrivilegeNames and AccountLimitNames are exported so callers that
// build wired.account.* messages (handlers, CLI tooling) can iterate the
// exact field names the schema accepts, rather than duplicating the list.
var AccountPrivilegeNames = accountPrivilegeNames

var accountPrivilegeNames = []string{
	accounts.PrivChangePassword, accounts.PrivGetUserInfo, accounts.PrivBroadcast,
	accounts.PrivPostNews, accounts.PrivClearNews, accounts.PrivDownload, accounts.PrivUpload,
	accounts.PrivUploadAnywhere, accounts.PrivCreateDirectories, accounts.PrivMoveFiles,
	accounts.PrivDeleteFiles, accounts.PrivViewDropboxes, accounts.PrivCreateAccounts,
	accounts.PrivEditAccounts, accounts.PrivDeleteAccounts, accounts.PrivCreateUsers,
	accounts.PrivCreateGroups, accounts.PrivElevatePrivileges, accounts.PrivKickUsers,
	accounts.PrivBanUsers, accounts.PrivCannotBeKicked, accounts.PrivSetTopic,
	accounts.PrivAddBoards, accounts.PrivDeleteBoards, accounts.PrivRenameBoards,
	accounts.PrivMoveBoards, accounts.PrivSetPermissions, accounts.PrivAddThreads,
	accounts.PrivDeleteThreads, accounts.PrivMoveThreads, accounts.PrivAddPosts,
	accounts.PrivEditAllPosts, accounts.PrivDeleteAllPosts, accounts.PrivViewAccounts,
	accounts.PrivChangeTopic,
}

var AccountLimitNames = accountLimitNames

var accountLimitNames = []string{
	accounts.LimitDownloadSpeed, accounts.LimitUploadSpeed,
	accounts.LimitDownloadLimit, accounts.LimitUploadLimit,
	accounts.LimitRecursiveListDepth,
}

// accountEditFields builds the shared field table for the four inbound
// account write messages: a required name, the optional profile fields,
// and one optional bool/int64 field per known privilege/limit.
func accountEditFields() map[string]FieldSpec {
	f := map[string]FieldSpec{
		"wired.account.name":      req(TypeString),
		"wired.account.new_name":  opt(TypeString),
		"wired.account.full_name": opt(TypeString),
		"wired.account.group":     opt(TypeString),
		"wired.user.password":     opt(TypeString),
	}
	for _, priv := range accountPrivilegeNames {
		f["wired.account.privilege."+priv] = opt(TypeBool)
	}
	for _, limit := range accountLimitNames {
		f["wired.account.limit."+limit] = opt(TypeInt64)
	}
	return f
}

// req is a small helper for building a required FieldSpec.
func req(t FieldType) FieldSpec { return FieldSpec{Type: t, Required: true} }

// opt is a small helper for building an optional FieldSpec.
func opt(t FieldType) FieldSpec { return FieldSpec{Type: t, Required: false} }

// DefaultSchema builds the closed message table for every message category
// in the wire protocol (§6). Fields not exercised by a handler in this
// implementation are still declared here, so that a client sending a
// well-formed message for a feature this server doesn't act on yet gets
// routed rather than rejected as unrecognized.
func DefaultSchema() *Schema {
	s := NewSchema()

	s.Register("wired.client_info", map[string]FieldSpec{
		"wired.info.application.name":    req(TypeString),
		"wired.info.application.version": req(TypeString),
		"wired.info.os.name":             opt(TypeString),
		"wired.info.os.version":          opt(TypeString),
		"wired.info.arch":                opt(TypeString),
	})
	s.Register("wired.server_info", map[string]FieldSpec{
		"wired.info.name":        req(TypeString),
		"wired.info.description": opt(TypeString),
	})
	s.Register("wired.send_login", map[string]FieldSpec{
		"wired.user.login":    req(TypeString),
		"wired.user.password": req(TypeString),
	})
	s.Register("wired.login", map[string]FieldSpec{
		"wired.user.id": req(TypeUint32),
	})
	s.Register("wired.banned", map[string]FieldSpec{
		"wired.banlist.message": opt(TypeString),
	})
	s.Register("wired.send_ping", map[string]FieldSpec{})
	s.Register("wired.ping", map[string]FieldSpec{})

	s.Register("wired.user.set_nick", map[string]FieldSpec{
		"wired.user.nick": req(TypeString),
	})
	s.Register("wired.user.set_status", map[string]FieldSpec{
		"wired.user.status": req(TypeString),
	})
	s.Register("wired.user.set_icon", map[string]FieldSpec{
		"wired.user.icon": req(TypeData),
	})
	s.Register("wired.user.set_idle", map[string]FieldSpec{
		"wired.user.idle": req(TypeBool),
	})
	s.Register("wired.user.get_info", map[string]FieldSpec{
		"wired.user.id": req(TypeUint32),
	})
	s.Register("wired.user.get_users", map[string]FieldSpec{})
	s.Register("wired.user.disconnect_user", map[string]FieldSpec{
		"wired.user.id":      req(TypeUint32),
		"wired.user.message": opt(TypeString),
	})
	s.Register("wired.user.ban_user", map[string]FieldSpec{
		"wired.user.id": req(TypeUint32),
	})

	s.Register("wired.chat.join_chat", map[string]FieldSpec{
		"wired.chat.id": req(TypeUint32),
	})
	s.Register("wired.chat.leave_chat", map[string]FieldSpec{
		"wired.chat.id": req(TypeUint32),
	})
	s.Register("wired.chat.set_topic", map[string]FieldSpec{
		"wired.chat.id":              req(TypeUint32),
		"wired.chat.topic.topic":     req(TypeString),
	})
	s.Register("wired.chat.send_say", map[string]FieldSpec{
		"wired.chat.id":   req(TypeUint32),
		"wired.chat.say":  req(TypeString),
	})
	s.Register("wired.chat.send_me", map[string]FieldSpec{
		"wired.chat.id": req(TypeUint32),
		"wired.chat.me": req(TypeString),
	})
	s.Register("wired.chat.create_chat", map[string]FieldSpec{})
	s.Register("wired.chat.invite_user", map[string]FieldSpec{
		"wired.chat.id": req(TypeUint32),
		"wired.user.id": req(TypeUint32),
	})
	s.Register("wired.chat.decline_invitation", map[string]FieldSpec{
		"wired.chat.id": req(TypeUint32),
	})
	s.Register("wired.chat.kick_user", map[string]FieldSpec{
		"wired.chat.id":      req(TypeUint32),
		"wired.user.id":      req(TypeUint32),
		"wired.user.message": opt(TypeString),
	})

	s.Register("wired.message.send_message", map[string]FieldSpec{
		"wired.user.id":        req(TypeUint32),
		"wired.message.message": req(TypeString),
	})
	s.Register("wired.message.send_broadcast", map[string]FieldSpec{
		"wired.message.broadcast": req(TypeString),
	})

	s.Register("wired.board.get_boards", map[string]FieldSpec{})
	s.Register("wired.board.get_posts", map[string]FieldSpec{})
	s.Register("wired.board.add_board", map[string]FieldSpec{
		"wired.board.board": req(TypeString),
	})
	s.Register("wired.board.rename_board", map[string]FieldSpec{
		"wired.board.board":   req(TypeString),
		"wired.board.newboard": req(TypeString),
	})
	s.Register("wired.board.move_board", map[string]FieldSpec{
		"wired.board.board":   req(TypeString),
		"wired.board.newboard": req(TypeString),
	})
	s.Register("wired.board.delete_board", map[string]FieldSpec{
		"wired.board.board": req(TypeString),
	})
	s.Register("wired.board.set_permissions", map[string]FieldSpec{
		"wired.board.board": req(TypeString),
		"wired.board.owner": opt(TypeString),
		"wired.board.group": opt(TypeString),
		"wired.board.mode":  req(TypeUint32),
	})
	s.Register("wired.board.add_thread", map[string]FieldSpec{
		"wired.board.board":          req(TypeString),
		"wired.board.thread.subject": req(TypeString),
		"wired.board.thread.text":    req(TypeString),
	})
	s.Register("wired.board.add_post", map[string]FieldSpec{
		"wired.board.board":    req(TypeString),
		"wired.board.thread":   req(TypeUUID),
		"wired.board.post.text": req(TypeString),
	})
	s.Register("wired.board.edit_post", map[string]FieldSpec{
		"wired.board.board":    req(TypeString),
		"wired.board.post":     req(TypeUUID),
		"wired.board.post.text": req(TypeString),
	})
	s.Register("wired.board.delete_post", map[string]FieldSpec{
		"wired.board.board": req(TypeString),
		"wired.board.post":  req(TypeUUID),
	})
	s.Register("wired.board.subscribe_boards", map[string]FieldSpec{})
	s.Register("wired.board.unsubscribe_boards", map[string]FieldSpec{})

	s.Register("wired.file.list_directory", map[string]FieldSpec{
		"wired.file.path":      req(TypeString),
		"wired.file.recursive": opt(TypeBool),
	})
	s.Register("wired.file.get_info", map[string]FieldSpec{
		"wired.file.path": req(TypeString),
	})
	s.Register("wired.file.move", map[string]FieldSpec{
		"wired.file.path":    req(TypeString),
		"wired.file.newpath": req(TypeString),
	})
	s.Register("wired.file.delete", map[string]FieldSpec{
		"wired.file.path": req(TypeString),
	})
	s.Register("wired.file.create_directory", map[string]FieldSpec{
		"wired.file.path": req(TypeString),
	})
	s.Register("wired.file.set_type", map[string]FieldSpec{
		"wired.file.path": req(TypeString),
		"wired.file.type": req(TypeUint32),
	})
	s.Register("wired.file.set_comment", map[string]FieldSpec{
		"wired.file.path":    req(TypeString),
		"wired.file.comment": req(TypeString),
	})
	s.Register("wired.file.set_executable", map[string]FieldSpec{
		"wired.file.path":       req(TypeString),
		"wired.file.executable": req(TypeBool),
	})
	s.Register("wired.file.set_label", map[string]FieldSpec{
		"wired.file.path":  req(TypeString),
		"wired.file.label": req(TypeUint32),
	})
	s.Register("wired.file.set_permissions", map[string]FieldSpec{
		"wired.file.path":  req(TypeString),
		"wired.file.owner": opt(TypeString),
		"wired.file.group": opt(TypeString),
		"wired.file.mode":  req(TypeUint32),
	})
	s.Register("wired.file.search", map[string]FieldSpec{
		"wired.file.query": req(TypeString),
	})
	s.Register("wired.file.subscribe_directory", map[string]FieldSpec{
		"wired.file.path": req(TypeString),
	})
	s.Register("wired.file.unsubscribe_directory", map[string]FieldSpec{
		"wired.file.path": req(TypeString),
	})

	s.Register("wired.account.change_password", map[string]FieldSpec{
		"wired.user.password": req(TypeString),
	})
	s.Register("wired.account.list_users", map[string]FieldSpec{})
	s.Register("wired.account.list_groups", map[string]FieldSpec{})
	s.Register("wired.account.read_user", map[string]FieldSpec{
		"wired.account.name": req(TypeString),
	})
	s.Register("wired.account.read_group", map[string]FieldSpec{
		"wired.account.name": req(TypeString),
	})
	s.Register("wired.account.create_user", accountEditFields())
	s.Register("wired.account.create_group", accountEditFields())
	s.Register("wired.account.edit_user", accountEditFields())
	s.Register("wired.account.edit_group", accountEditFields())
	s.Register("wired.account.delete_user", map[string]FieldSpec{
		"wired.account.name": req(TypeString),
	})
	s.Register("wired.account.delete_group", map[string]FieldSpec{
		"wired.account.name": req(TypeString),
	})
	s.Register("wired.account.subscribe_accounts", map[string]FieldSpec{})
	s.Register("wired.account.unsubscribe_accounts", map[string]FieldSpec{})

	s.Register("wired.transfer.download_file", map[string]FieldSpec{
		"wired.file.path":           req(TypeString),
		"wired.transfer.data_offset": opt(TypeUint64),
		"wired.transfer.rsrc_offset": opt(TypeUint64),
	})
	s.Register("wired.transfer.upload_file", map[string]FieldSpec{
		"wired.file.path":            req(TypeString),
		"wired.transfer.data_size":   req(TypeUint64),
		"wired.transfer.rsrc_size":   opt(TypeUint64),
		"wired.transfer.executable":  opt(TypeBool),
		"wired.file.finderinfo":      opt(TypeData),
	})
	s.Register("wired.transfer.upload_directory", map[string]FieldSpec{
		"wired.file.path": req(TypeString),
	})
	s.Register("wired.transfer.data", map[string]FieldSpec{
		"wired.transfer.data": req(TypeData),
	})
	s.Register("wired.transfer.stop", map[string]FieldSpec{})

	s.Register("wired.log.subscribe_log", map[string]FieldSpec{})
	s.Register("wired.log.unsubscribe_log", map[string]FieldSpec{})
	s.Register("wired.events.get_archives", map[string]FieldSpec{})
	s.Register("wired.events.get_events", map[string]FieldSpec{
		"wired.events.archive": opt(TypeString),
	})
	s.Register("wired.events.subscribe_events", map[string]FieldSpec{})
	s.Register("wired.events.unsubscribe_events", map[string]FieldSpec{})

	s.Register("wired.news.get_news", map[string]FieldSpec{})
	s.Register("wired.news.post_news", map[string]FieldSpec{
		"wired.news.post": req(TypeString),
	})
	s.Register("wired.news.clear_news", map[string]FieldSpec{})

	s.Register("wired.banlist.get_bans", map[string]FieldSpec{})
	s.Register("wired.banlist.add_ban", map[string]FieldSpec{
		"wired.banlist.pattern": req(TypeString),
		"wired.banlist.expiry":  opt(TypeUint64),
	})
	s.Register("wired.banlist.delete_ban", map[string]FieldSpec{
		"wired.banlist.pattern": req(TypeString),
	})

	s.Register("wired.error", map[string]FieldSpec{
		"wired.error": req(TypeString),
	})

	return s
}
