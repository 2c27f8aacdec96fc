package server

import (
	"time"

	"wired/internal/accounts"
	"wired/internal/banlist"
	"wired/internal/protocol"
	"wired/internal/users"
)

func requireBanUsers(sess *users.Session) *protocol.WireError {
	if acc := sess.Account(); acc == nil || !acc.HasPrivilege(accounts.PrivBanUsers) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	return nil
}

func handleGetBans(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireBanUsers(sess); werr != nil {
		return werr
	}
	permanent, timed := s.Banlist.List()
	for _, pattern := range permanent {
		row := protocol.New("wired.banlist.ban_list").
			SetString("wired.banlist.pattern", pattern).
			EchoTxn(req)
		if err := sess.Send(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	for pattern, expiry := range timed {
		row := protocol.New("wired.banlist.ban_list").
			SetString("wired.banlist.pattern", pattern).
			SetUint64("wired.banlist.expiry", uint64(expiry.Unix())).
			EchoTxn(req)
		if err := sess.Send(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.banlist.ban_list.done").EchoTxn(req)))
}

func handleAddBan(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireBanUsers(sess); werr != nil {
		return werr
	}
	pattern, _ := req.GetString("wired.banlist.pattern")
	expirySecs, hasExpiry := req.GetUint64("wired.banlist.expiry")
	expiry := zeroTime
	if hasExpiry && expirySecs != 0 {
		expiry = time.Unix(int64(expirySecs), 0)
	}
	if err := s.Banlist.AddBan(pattern, expiry); err != nil {
		if err == banlist.ErrBanExists {
			return protocol.NewError(protocol.ErrBanExists)
		}
		return protocol.Internal(err.Error())
	}
	return okay(sess, req)
}

func handleDeleteBan(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	if werr := requireBanUsers(sess); werr != nil {
		return werr
	}
	pattern, _ := req.GetString("wired.banlist.pattern")
	if err := s.Banlist.DeleteBan(pattern); err != nil {
		if err == banlist.ErrBanNotFound {
			return protocol.NewError(protocol.ErrBanNotFound)
		}
		return protocol.Internal(err.Error())
	}
	return okay(sess, req)
}
