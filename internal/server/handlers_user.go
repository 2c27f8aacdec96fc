package server

import (
	"wired/internal/accounts"
	"wired/internal/protocol"
	"wired/internal/users"
)

func handleSetNick(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	nick, _ := req.GetString("wired.user.nick")
	sess.SetNick(nick)
	s.Bcast.BroadcastAll(protocol.New("wired.user.status").
		SetUint32("wired.user.id", sess.ID).
		SetString("wired.user.nick", nick).
		SetString("wired.user.status", sess.Status()))
	return nil
}

func handleSetStatus(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	status, _ := req.GetString("wired.user.status")
	sess.SetStatus(status)
	s.Bcast.BroadcastAll(protocol.New("wired.user.status").
		SetUint32("wired.user.id", sess.ID).
		SetString("wired.user.nick", sess.Nick()).
		SetString("wired.user.status", status))
	return nil
}

func handleSetIcon(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	icon, _ := req.GetData("wired.user.icon")
	sess.SetIcon(icon)
	s.Bcast.BroadcastAll(protocol.New("wired.user.icon").
		SetUint32("wired.user.id", sess.ID).
		SetData("wired.user.icon", icon))
	return nil
}

func handleSetIdle(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	idle, _ := req.GetBool("wired.user.idle")
	sess.SetIdle(idle)
	s.Bcast.BroadcastAll(protocol.New("wired.user.status").
		SetUint32("wired.user.id", sess.ID).
		SetString("wired.user.nick", sess.Nick()).
		SetString("wired.user.status", sess.Status()).
		SetBool("wired.user.idle", idle))
	return nil
}

// handleGetUserInfo requires the get_user_info privilege and replies with
// a single info row (§4.D).
func handleGetUserInfo(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if acc := sess.Account(); acc == nil || !acc.HasPrivilege(accounts.PrivGetUserInfo) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	id, _ := req.GetUint32("wired.user.id")
	target, ok := s.Users.UserWithID(id)
	if !ok {
		return protocol.NewError(protocol.ErrUserNotFound)
	}
	reply := protocol.New("wired.user.info").
		SetUint32("wired.user.id", target.ID).
		SetString("wired.user.nick", target.Nick()).
		SetString("wired.user.status", target.Status()).
		SetString("wired.user.login", target.Login()).
		SetString("wired.user.ip", target.RemoteIP()).
		SetBool("wired.user.idle", target.IsIdle()).
		EchoTxn(req)
	_ = sess.Send(reply)
	return nil
}

func handleGetUsers(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	return wrapErr(users.ReplyUserList(sess, req, s.Users.All()))
}

// handleDisconnectUser requires kick_users and refuses to disconnect a
// target carrying cannot_be_kicked (§4.D, U7).
func handleDisconnectUser(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivKickUsers) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	id, _ := req.GetUint32("wired.user.id")
	target, ok := s.Users.UserWithID(id)
	if !ok {
		return protocol.NewError(protocol.ErrUserNotFound)
	}
	if targetAcc := target.Account(); targetAcc != nil && targetAcc.HasPrivilege(accounts.PrivCannotBeKicked) {
		return protocol.NewError(protocol.ErrUserCannotBeDisconnected)
	}
	message, _ := req.GetString("wired.user.message")
	s.Events.Add("kick", sess.Nick(), sess.Login(), sess.RemoteIP(), map[string]string{"target": target.Nick()})
	s.disconnectSession(target, message)
	return okay(sess, req)
}

// handleBanUser requires ban_users, adds the target's IP as a permanent
// ban, and disconnects it (§4.C).
func handleBanUser(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivBanUsers) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	id, _ := req.GetUint32("wired.user.id")
	target, ok := s.Users.UserWithID(id)
	if !ok {
		return protocol.NewError(protocol.ErrUserNotFound)
	}
	if err := s.Banlist.AddBan(target.RemoteIP(), zeroTime); err != nil {
		return protocol.NewError(protocol.ErrBanExists)
	}
	s.Events.Add("ban", sess.Nick(), sess.Login(), sess.RemoteIP(), map[string]string{"target_ip": target.RemoteIP()})
	s.disconnectSession(target, "banned")
	return okay(sess, req)
}

func wrapErr(err error) *protocol.WireError {
	if err == nil {
		return nil
	}
	return protocol.Internal(err.Error())
}
