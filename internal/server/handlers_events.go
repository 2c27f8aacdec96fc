package server

import (
	"wired/internal/accounts"
	"wired/internal/events"
	"wired/internal/protocol"
	"wired/internal/users"
)

func requireViewAccountsForEvents(sess *users.Session) *protocol.WireError {
	if acc := sess.Account(); acc == nil || !acc.HasPrivilege(accounts.PrivViewAccounts) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	return nil
}

func handleSubscribeLog(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccountsForEvents(sess); werr != nil {
		return werr
	}
	sess.SetSubscribed("log", true)
	return okay(sess, req)
}

func handleUnsubscribeLog(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	sess.SetSubscribed("log", false)
	return okay(sess, req)
}

func handleGetArchives(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccountsForEvents(sess); werr != nil {
		return werr
	}
	names, err := s.Events.ReplyArchives()
	if err != nil {
		return protocol.Internal(err.Error())
	}
	for _, name := range names {
		row := protocol.New("wired.events.archive_list").
			SetString("wired.events.archive", name).
			EchoTxn(req)
		if err := sess.Send(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.events.archive_list.done").EchoTxn(req)))
}

func handleGetEvents(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccountsForEvents(sess); werr != nil {
		return werr
	}
	archive, _ := req.GetString("wired.events.archive")
	evs, err := s.Events.ReplyEvents(archive)
	if err != nil {
		return protocol.Internal(err.Error())
	}
	for _, ev := range evs {
		if err := sess.Send(eventToMessage(ev).EchoTxn(req)); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.events.event_list.done").EchoTxn(req)))
}

func eventToMessage(ev events.Event) *protocol.Message {
	m := protocol.New("wired.events.event_list").
		SetUint64("wired.events.timestamp", uint64(ev.Timestamp.Unix())).
		SetString("wired.events.kind", ev.Kind).
		SetString("wired.events.nick", ev.Nick).
		SetString("wired.events.login", ev.Login).
		SetString("wired.events.ip", ev.IP)
	for k, v := range ev.Params {
		m.SetString("wired.events.param."+k, v)
	}
	return m
}

func handleSubscribeEvents(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireViewAccountsForEvents(sess); werr != nil {
		return werr
	}
	sess.SetSubscribed("events", true)
	return okay(sess, req)
}

func handleUnsubscribeEvents(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	sess.SetSubscribed("events", false)
	return okay(sess, req)
}
