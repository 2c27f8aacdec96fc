package server

import (
	"wired/internal/accounts"
	"wired/internal/protocol"
	"wired/internal/users"
)

func accountStoreErr(err error) *protocol.WireError {
	switch err {
	case accounts.ErrNotFound:
		return protocol.NewError(protocol.ErrAccountNotFound)
	case accounts.ErrExists:
		return protocol.NewError(protocol.ErrAccountExists)
	default:
		return protocol.Internal(err.Error())
	}
}

func handleChangePassword(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if acc := sess.Account(); acc == nil || !acc.HasPrivilege(accounts.PrivChangePassword) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	password, _ := req.GetString("wired.user.password")
	if err := s.Accounts.ChangePassword(sess.Login(), accounts.HashPassword(password)); err != nil {
		return accountStoreErr(err)
	}
	return okay(sess, req)
}

func requireViewAccounts(sess *users.Session) *protocol.WireError {
	if acc := sess.Account(); acc == nil || !acc.HasPrivilege(accounts.PrivViewAccounts) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	return nil
}

func handleListUsers(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccounts(sess); werr != nil {
		return werr
	}
	for _, a := range s.Accounts.ListUsers() {
		row := protocol.New("wired.account.user_list").
			SetString("wired.account.name", a.Name).
			SetString("wired.account.full_name", a.FullName).
			SetString("wired.account.group", a.Group).
			EchoTxn(req)
		if err := sess.Send(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.account.user_list.done").EchoTxn(req)))
}

func handleListGroups(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccounts(sess); werr != nil {
		return werr
	}
	for _, a := range s.Accounts.ListGroups() {
		row := protocol.New("wired.account.group_list").
			SetString("wired.account.name", a.Name).
			EchoTxn(req)
		if err := sess.Send(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.account.group_list.done").EchoTxn(req)))
}

func handleReadUser(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccounts(sess); werr != nil {
		return werr
	}
	name, _ := req.GetString("wired.account.name")
	a, err := s.Accounts.ReadUser(name)
	if err != nil {
		return accountStoreErr(err)
	}
	reply := accountToMessage("wired.account.user", a).EchoTxn(req)
	_ = sess.Send(reply)
	return nil
}

func handleReadGroup(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccounts(sess); werr != nil {
		return werr
	}
	name, _ := req.GetString("wired.account.name")
	a, err := s.Accounts.ReadGroup(name)
	if err != nil {
		return accountStoreErr(err)
	}
	reply := accountToMessage("wired.account.group", a).EchoTxn(req)
	_ = sess.Send(reply)
	return nil
}

func accountToMessage(name string, a *accounts.Account) *protocol.Message {
	m := protocol.New(name).
		SetString("wired.account.name", a.Name).
		SetString("wired.account.full_name", a.FullName).
		SetString("wired.account.group", a.Group)
	for priv, granted := range a.Privileges {
		m.SetBool("wired.account.privilege."+priv, granted)
	}
	for limit, v := range a.Limits {
		m.SetInt64("wired.account.limit."+limit, v)
	}
	return m
}

func accountFromMessage(req *protocol.Message) *accounts.Account {
	name, _ := req.GetString("wired.account.name")
	fullName, _ := req.GetString("wired.account.full_name")
	group, _ := req.GetString("wired.account.group")
	password, _ := req.GetString("wired.user.password")
	newName, _ := req.GetString("wired.account.new_name")
	a := &accounts.Account{
		Name:         name,
		NewName:      newName,
		FullName:     fullName,
		Group:        group,
		PasswordHash: accounts.HashPassword(password),
		Privileges:   make(map[string]bool),
		Limits:       make(map[string]int64),
	}
	for _, priv := range allPrivilegeNames {
		if v, ok := req.GetBool("wired.account.privilege." + priv); ok {
			a.Privileges[priv] = v
		}
	}
	for _, limit := range allLimitNames {
		if v, ok := req.GetInt64("wired.account.limit." + limit); ok {
			a.Limits[limit] = v
		}
	}
	return a
}

// allPrivilegeNames and allLimitNames reuse the exact same name lists the
// schema registers the dynamic wired.account.privilege.*/limit.* fields
// under, so a message this code builds is never rejected by its own
// inbound verification.
var allPrivilegeNames = protocol.AccountPrivilegeNames
var allLimitNames = protocol.AccountLimitNames

// handleCreateUser requires create_users (create_accounts in spec
// terms) and refuses to grant a privilege the creator itself lacks
// (accounts.VerifyEditDoesNotEscalate, U-series self-escalation rule).
func handleCreateUser(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivCreateUsers) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	a := accountFromMessage(req)
	if !accounts.VerifyEditDoesNotEscalate(acc, a) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	a.EditedBy = sess.Login()
	if err := s.Accounts.CreateUser(a); err != nil {
		return accountStoreErr(err)
	}
	s.Bcast.BroadcastSubscribers("accounts", protocol.New("wired.account.user_created").SetString("wired.account.name", a.Name))
	return okay(sess, req)
}

func handleCreateGroup(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivCreateGroups) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	a := accountFromMessage(req)
	if !accounts.VerifyEditDoesNotEscalate(acc, a) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	if err := s.Accounts.CreateGroup(a); err != nil {
		return accountStoreErr(err)
	}
	return okay(sess, req)
}

func handleEditUser(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivEditAccounts) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	name, _ := req.GetString("wired.account.name")
	edit := accountFromMessage(req)
	if !accounts.VerifyEditDoesNotEscalate(acc, edit) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	renamed := edit.NewName != "" && edit.NewName != name
	err := s.Accounts.EditUser(name, func(a *accounts.Account) {
		if renamed {
			a.Name = edit.NewName
		}
		a.FullName = edit.FullName
		a.Group = edit.Group
		if edit.PasswordHash != accounts.HashPassword("") {
			a.PasswordHash = edit.PasswordHash
		}
		a.Privileges = edit.Privileges
		a.Limits = edit.Limits
		a.EditedBy = sess.Login()
	})
	if err != nil {
		return accountStoreErr(err)
	}
	finalName := name
	if renamed {
		finalName = edit.NewName
		// Account rename cascade (§4.F scenario 6): rewrite any board
		// ACL entry naming the old account as owner or group, then tell
		// every board-subscribed session whose visibility on the new
		// ACL qualifies.
		if changed, rerr := s.Boards.RewriteOwner(name, finalName); rerr == nil {
			for _, path := range changed {
				if acl, aerr := s.Boards.ReadACL(path); aerr == nil {
					s.broadcastBoardVisibility(acl, protocol.New("wired.board.permissions_changed").
						SetString("wired.board.board", path).
						SetString("wired.board.owner", acl.Owner).
						SetString("wired.board.group", acl.Group).
						SetUint32("wired.board.mode", uint32(acl.Mode)))
				}
			}
		} else {
			s.Log.Warn("[accounts] board owner rewrite failed", "old", name, "new", finalName, "error", rerr)
		}
	}
	s.Bcast.BroadcastSubscribers("accounts", protocol.New("wired.account.user_edited").
		SetString("wired.account.name", name).
		SetString("wired.account.new_name", finalName))
	return okay(sess, req)
}

func handleEditGroup(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivEditAccounts) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	name, _ := req.GetString("wired.account.name")
	edit := accountFromMessage(req)
	if !accounts.VerifyEditDoesNotEscalate(acc, edit) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	err := s.Accounts.EditGroup(name, func(a *accounts.Account) {
		a.Privileges = edit.Privileges
		a.Limits = edit.Limits
	})
	if err != nil {
		return accountStoreErr(err)
	}
	return okay(sess, req)
}

func handleDeleteUser(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivDeleteAccounts) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	name, _ := req.GetString("wired.account.name")
	if name == sess.Login() {
		return protocol.NewError(protocol.ErrAccountInUse)
	}
	if err := s.Accounts.DeleteUser(name); err != nil {
		return accountStoreErr(err)
	}
	_, _ = s.Boards.RewriteOwner(name, "")
	s.Bcast.BroadcastSubscribers("accounts", protocol.New("wired.account.user_deleted").SetString("wired.account.name", name))
	return okay(sess, req)
}

func handleDeleteGroup(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivDeleteAccounts) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	name, _ := req.GetString("wired.account.name")
	if err := s.Accounts.DeleteGroup(name); err != nil {
		return accountStoreErr(err)
	}
	return okay(sess, req)
}

func handleSubscribeAccounts(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccounts(sess); werr != nil {
		return werr
	}
	sess.SetSubscribed("accounts", true)
	return okay(sess, req)
}

func handleUnsubscribeAccounts(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	sess.SetSubscribed("accounts", false)
	return okay(sess, req)
}
