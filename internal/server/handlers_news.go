package server

import (
	"wired/internal/accounts"
	"wired/internal/protocol"
	"wired/internal/users"
)

// handleGetNews streams every stored post, newest first, terminated by
// wired.news.news_list.done, mirroring wd_news_reply_news's unrestricted
// read (no privilege gate in the original: any logged-in session may
// read the bulletin).
func handleGetNews(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	posts, err := s.News.List()
	if err != nil {
		return protocol.Internal(err.Error())
	}
	for _, p := range posts {
		row := protocol.New("wired.news.news_list").
			SetString("wired.user.nick", p.Nick).
			SetInt64("wired.news.time", p.Time.UnixNano()).
			SetString("wired.news.post", p.Text).
			EchoTxn(req)
		if err := sess.Send(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.news.news_list.done").EchoTxn(req)))
}

// handlePostNews requires post_news (§9 open question (a) notwithstanding
// - that note is about change_password, not news), appends the post, and
// broadcasts wired.news.news to every member of the public chat, matching
// wd_news_post_news's wd_chat_broadcast_message(wd_public_chat, ...).
func handlePostNews(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivPostNews) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	text, _ := req.GetString("wired.news.post")
	p, err := s.News.Post(sess.Nick(), text)
	if err != nil {
		return protocol.Internal(err.Error())
	}
	if public := s.Chats.Public(); public != nil {
		s.Bcast.BroadcastTo(public.Members(), protocol.New("wired.news.news").
			SetString("wired.user.nick", p.Nick).
			SetInt64("wired.news.time", p.Time.UnixNano()).
			SetString("wired.news.post", p.Text))
	}
	return okay(sess, req)
}

// handleClearNews requires clear_news and empties the stored bulletin;
// the original issues no broadcast on clear (wd_news_clear_news has none).
func handleClearNews(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivClearNews) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	if err := s.News.Clear(); err != nil {
		return protocol.Internal(err.Error())
	}
	return okay(sess, req)
}
