package server

import (
	"wired/internal/accounts"
	"wired/internal/protocol"
	"wired/internal/users"
)

func handleSendMessage(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id, _ := req.GetUint32("wired.user.id")
	text, _ := req.GetString("wired.message.message")
	target, ok := s.Users.UserWithID(id)
	if !ok {
		return protocol.NewError(protocol.ErrUserNotFound)
	}
	_ = target.Send(protocol.New("wired.message.message").
		SetUint32("wired.user.id", sess.ID).
		SetString("wired.message.message", text))
	return okay(sess, req)
}

// handleSendBroadcast requires the broadcast privilege and fans the
// message out to every live session (§4.D).
func handleSendBroadcast(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if acc := sess.Account(); acc == nil || !acc.HasPrivilege(accounts.PrivBroadcast) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	text, _ := req.GetString("wired.message.broadcast")
	s.Bcast.BroadcastAll(protocol.New("wired.message.broadcast").
		SetUint32("wired.user.id", sess.ID).
		SetString("wired.message.broadcast", text))
	s.Events.Add("broadcast", sess.Nick(), sess.Login(), sess.RemoteIP(), nil)
	return okay(sess, req)
}
