package server

import (
	"wired/internal/accounts"
	"wired/internal/chat"
	"wired/internal/protocol"
	"wired/internal/users"
)

func chatErr(err error) *protocol.WireError {
	switch err {
	case chat.ErrChatNotFound:
		return protocol.NewError(protocol.ErrChatNotFound)
	case chat.ErrAlreadyOnChat:
		return protocol.NewError(protocol.ErrAlreadyOnChat)
	case chat.ErrNotOnChat:
		return protocol.NewError(protocol.ErrNotOnChat)
	case chat.ErrNotInvited:
		return protocol.NewError(protocol.ErrNotInvitedToChat)
	default:
		return protocol.Internal(err.Error())
	}
}

func handleJoinChat(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id, _ := req.GetUint32("wired.chat.id")
	c, err := s.Chats.Join(id, sess.ID)
	if err != nil {
		return chatErr(err)
	}
	topic := c.Topic()
	reply := protocol.New("wired.chat.joined").
		SetUint32("wired.chat.id", id).
		SetString("wired.chat.topic.topic", topic.Text).
		EchoTxn(req)
	_ = sess.Send(reply)
	s.Bcast.BroadcastTo(c.Members(), protocol.New("wired.chat.user_joined").
		SetUint32("wired.chat.id", id).
		SetUint32("wired.user.id", sess.ID))
	return nil
}

func handleLeaveChat(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id, _ := req.GetUint32("wired.chat.id")
	c, _, err := s.Chats.Leave(id, sess.ID)
	if err != nil {
		return chatErr(err)
	}
	s.Bcast.BroadcastTo(c.Members(), protocol.New("wired.chat.user_left").
		SetUint32("wired.chat.id", id).
		SetUint32("wired.user.id", sess.ID))
	return okay(sess, req)
}

// handleSetTopic requires set_topic only for the public chat; any member
// may set a private chat's topic (§4.E).
func handleSetTopic(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id, _ := req.GetUint32("wired.chat.id")
	text, _ := req.GetString("wired.chat.topic.topic")
	if id == chat.PublicChatID {
		if acc := sess.Account(); acc == nil || !acc.HasPrivilege(accounts.PrivSetTopic) {
			return protocol.NewError(protocol.ErrPermissionDenied)
		}
	}
	c, ok := s.Chats.Get(id)
	if !ok {
		return protocol.NewError(protocol.ErrChatNotFound)
	}
	if !c.IsMember(sess.ID) {
		return protocol.NewError(protocol.ErrNotOnChat)
	}
	if err := s.Chats.SetTopic(id, sess.Nick(), text); err != nil {
		return protocol.Internal(err.Error())
	}
	s.Bcast.BroadcastTo(c.Members(), protocol.New("wired.chat.topic").
		SetUint32("wired.chat.id", id).
		SetString("wired.chat.topic.nick", sess.Nick()).
		SetString("wired.chat.topic.topic", text))
	return nil
}

func handleSendSay(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id, _ := req.GetUint32("wired.chat.id")
	text, _ := req.GetString("wired.chat.say")
	c, ok := s.Chats.Get(id)
	if !ok {
		return protocol.NewError(protocol.ErrChatNotFound)
	}
	if !c.IsMember(sess.ID) {
		return protocol.NewError(protocol.ErrNotOnChat)
	}
	for _, m := range chat.Say(id, sess.ID, "wired.chat.say", text, req) {
		s.Bcast.BroadcastTo(c.Members(), m)
	}
	return nil
}

func handleSendMe(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id, _ := req.GetUint32("wired.chat.id")
	text, _ := req.GetString("wired.chat.me")
	c, ok := s.Chats.Get(id)
	if !ok {
		return protocol.NewError(protocol.ErrChatNotFound)
	}
	if !c.IsMember(sess.ID) {
		return protocol.NewError(protocol.ErrNotOnChat)
	}
	for _, m := range chat.Say(id, sess.ID, "wired.chat.me", text, req) {
		s.Bcast.BroadcastTo(c.Members(), m)
	}
	return nil
}

func handleCreateChat(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	c := s.Chats.CreatePrivate(sess.ID)
	_ = sess.Send(protocol.New("wired.chat.chat_created").SetUint32("wired.chat.id", c.ID).EchoTxn(req))
	return nil
}

func handleInviteUser(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id, _ := req.GetUint32("wired.chat.id")
	target, _ := req.GetUint32("wired.user.id")
	c, ok := s.Chats.Get(id)
	if !ok {
		return protocol.NewError(protocol.ErrChatNotFound)
	}
	if !c.IsMember(sess.ID) {
		return protocol.NewError(protocol.ErrNotOnChat)
	}
	targetSess, ok := s.Users.UserWithID(target)
	if !ok {
		return protocol.NewError(protocol.ErrUserNotFound)
	}
	if err := s.Chats.Invite(id, target); err != nil {
		return chatErr(err)
	}
	_ = targetSess.Send(protocol.New("wired.chat.invitation").
		SetUint32("wired.chat.id", id).
		SetUint32("wired.user.id", sess.ID))
	return okay(sess, req)
}

func handleDeclineInvitation(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id, _ := req.GetUint32("wired.chat.id")
	if _, ok := s.Chats.Get(id); !ok {
		return protocol.NewError(protocol.ErrChatNotFound)
	}
	return okay(sess, req)
}

// handleKickUser requires kick_users and removes the target from the
// chat without closing its connection, distinguishing a chat kick from
// user.disconnect_user (§4.E vs §4.D).
func handleKickUser(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivKickUsers) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	id, _ := req.GetUint32("wired.chat.id")
	target, _ := req.GetUint32("wired.user.id")
	c, destroyed, err := s.Chats.Leave(id, target)
	if err != nil {
		return chatErr(err)
	}
	_ = destroyed
	targetSess, ok := s.Users.UserWithID(target)
	if ok {
		_ = targetSess.Send(protocol.New("wired.chat.kicked").SetUint32("wired.chat.id", id))
	}
	s.Bcast.BroadcastTo(c.Members(), protocol.New("wired.chat.user_left").
		SetUint32("wired.chat.id", id).
		SetUint32("wired.user.id", target))
	return okay(sess, req)
}
