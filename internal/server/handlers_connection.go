package server

import (
	"time"

	"wired/internal/accounts"
	"wired/internal/protocol"
	"wired/internal/users"
)

// handleClientInfo completes the handshake's first leg: record the
// peer's client_info and reply with this server's server_info, advancing
// the session out of StateConnected (§4.K).
func handleClientInfo(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	app, _ := req.GetString("wired.info.application.name")
	ver, _ := req.GetString("wired.info.application.version")
	osName, _ := req.GetString("wired.info.os.name")
	osVer, _ := req.GetString("wired.info.os.version")
	arch, _ := req.GetString("wired.info.arch")
	sess.SetClientInfo(users.ClientInfo{Application: app, Version: ver, OS: osName, OSVersion: osVer, Arch: arch})
	sess.SetState(users.StateGaveClientInfo)

	s.Events.Add("got_client_info", "", "", sess.RemoteIP(), map[string]string{"application": app})

	reply := protocol.New("wired.server_info").
		SetString("wired.info.name", s.Config.Name).
		SetString("wired.info.description", s.Config.Description).
		EchoTxn(req)
	_ = sess.Send(reply)
	return nil
}

// handleSendLogin verifies login/password against the account store and
// either promotes the session to StateLoggedIn or replies login_failed
// (§4.B, §8 scenario 1).
func handleSendLogin(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	login, _ := req.GetString("wired.user.login")
	password, _ := req.GetString("wired.user.password")

	raw, err := s.Accounts.ReadUser(login)
	if err != nil {
		return protocol.NewError(protocol.ErrLoginFailed)
	}
	if raw.PasswordHash != accounts.HashPassword(password) {
		return protocol.NewError(protocol.ErrLoginFailed)
	}

	eff, err := s.effectivePrivileges(login)
	if err != nil {
		return logInternal(s, "send_login: effectivePrivileges", err)
	}
	sess.SetAccount(eff)
	sess.SetState(users.StateLoggedIn)
	_ = s.Accounts.EditUser(login, func(a *accounts.Account) { a.LoginAt = time.Now() })

	s.Events.Add("login", sess.Nick(), login, sess.RemoteIP(), nil)

	reply := protocol.New("wired.login").SetUint32("wired.user.id", sess.ID).EchoTxn(req)
	_ = sess.Send(reply)
	return nil
}

func handleSendPing(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	_ = sess.Send(protocol.New("wired.ping").EchoTxn(req))
	return nil
}
