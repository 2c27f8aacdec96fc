package server

import (
	"time"

	"wired/internal/accounts"
	"wired/internal/boards"
	"wired/internal/protocol"
	"wired/internal/users"
)

func boardErr(err error) *protocol.WireError {
	switch err {
	case boards.ErrNotFound, boards.ErrInvalidName:
		return protocol.NewError(protocol.ErrBoardNotFound)
	case boards.ErrExists:
		return protocol.NewError(protocol.ErrBoardExists)
	default:
		return protocol.Internal(err.Error())
	}
}

// isAdmin treats view_accounts as this implementation's stand-in for
// "has administrative override", the same convention the account-edit
// cascade uses to decide whether a stripped subscription should survive
// (server.go's enforceStrippedCapabilities).
func isAdmin(acc *accounts.Account) bool {
	return acc != nil && acc.HasPrivilege(accounts.PrivViewAccounts)
}

// broadcastBoardVisibility sends m to every board-subscribed session whose
// account satisfies acl's read access, matching §4.F's "broadcasts to
// exactly the set of subscribed sessions who have the required visibility
// on the *new* privileges".
func (s *Server) broadcastBoardVisibility(acl boards.ACL, m *protocol.Message) {
	for _, sess := range s.Users.All() {
		if !sess.Subscriptions().Boards {
			continue
		}
		acc := sess.Account()
		login, group := sess.Login(), ""
		if acc != nil {
			group = acc.Group
		}
		if acl.Readable(login, group, isAdmin(acc)) {
			_ = sess.Send(m)
		}
	}
}

func handleGetBoards(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	all, err := s.Boards.ListBoards()
	if err != nil {
		return protocol.Internal(err.Error())
	}
	acc := sess.Account()
	login, group := sess.Login(), ""
	if acc != nil {
		group = acc.Group
	}
	for _, b := range all {
		if !b.ACL.Readable(login, group, isAdmin(acc)) {
			continue
		}
		row := protocol.New("wired.board.board_list").
			SetString("wired.board.board", b.Path).
			SetUint32("wired.board.mode", uint32(b.ACL.Mode)).
			SetString("wired.board.owner", b.ACL.Owner).
			SetString("wired.board.group", b.ACL.Group).
			EchoTxn(req)
		if err := sess.Send(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.board.board_list.done").EchoTxn(req)))
}

// handleGetPosts replies every thread/post the requester can read across
// every board (a flat reply keyed by board path, matching get_boards'
// shape rather than requiring a second round trip per board).
func handleGetPosts(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	all, err := s.Boards.ListBoards()
	if err != nil {
		return protocol.Internal(err.Error())
	}
	acc := sess.Account()
	login, group := sess.Login(), ""
	if acc != nil {
		group = acc.Group
	}
	for _, b := range all {
		if !b.ACL.Readable(login, group, isAdmin(acc)) {
			continue
		}
		threads, err := s.Boards.ListPosts(b.Path)
		if err != nil {
			continue
		}
		for _, th := range threads {
			for _, p := range th.Posts {
				row := protocol.New("wired.board.post_list").
					SetString("wired.board.board", b.Path).
					SetString("wired.board.thread", th.UUID).
					SetString("wired.board.post", p.UUID).
					SetString("wired.board.post.nick", p.AuthorNick).
					SetString("wired.board.post.subject", p.Subject).
					SetString("wired.board.post.text", p.Text).
					SetInt64("wired.board.post.posted", p.Posted.UnixNano()).
					EchoTxn(req)
				if err := sess.Send(row); err != nil {
					return protocol.Internal(err.Error())
				}
			}
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.board.post_list.done").EchoTxn(req)))
}

func handleAddBoard(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivAddBoards) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	path, _ := req.GetString("wired.board.board")
	acl := boards.ACL{Owner: sess.Login(), Group: acc.Group, Mode: boards.ModeOwnerRead | boards.ModeOwnerWrite | boards.ModeEveryoneRead}
	if err := s.Boards.AddBoard(path, acl); err != nil {
		return boardErr(err)
	}
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.board_created").SetString("wired.board.board", path))
	return okay(sess, req)
}

func handleRenameBoard(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivRenameBoards) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	oldPath, _ := req.GetString("wired.board.board")
	newPath, _ := req.GetString("wired.board.newboard")
	if err := s.Boards.RenameBoard(oldPath, newPath); err != nil {
		return boardErr(err)
	}
	acl, _ := s.Boards.ReadACL(newPath)
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.board_renamed").
		SetString("wired.board.board", oldPath).
		SetString("wired.board.newboard", newPath))
	return okay(sess, req)
}

func handleMoveBoard(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivMoveBoards) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	oldPath, _ := req.GetString("wired.board.board")
	newPath, _ := req.GetString("wired.board.newboard")
	if err := s.Boards.MoveBoard(oldPath, newPath); err != nil {
		return boardErr(err)
	}
	acl, _ := s.Boards.ReadACL(newPath)
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.board_moved").
		SetString("wired.board.board", oldPath).
		SetString("wired.board.newboard", newPath))
	return okay(sess, req)
}

func handleDeleteBoard(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivDeleteBoards) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	path, _ := req.GetString("wired.board.board")
	acl, err := s.Boards.ReadACL(path)
	if err != nil {
		return boardErr(err)
	}
	if err := s.Boards.DeleteBoard(path); err != nil {
		return boardErr(err)
	}
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.board_deleted").SetString("wired.board.board", path))
	return okay(sess, req)
}

// handleSetBoardPermissions requires set_permissions, or board ownership
// (§4.F: owners may reassign their own board's mode bits without holding
// the blanket privilege).
func handleSetBoardPermissions(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.board.board")
	acl, err := s.Boards.ReadACL(path)
	if err != nil {
		return boardErr(err)
	}
	if !(acc != nil && (acc.HasPrivilege(accounts.PrivSetPermissions) || acl.Owner == sess.Login())) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	owner, hasOwner := req.GetString("wired.board.owner")
	group, hasGroup := req.GetString("wired.board.group")
	mode, _ := req.GetUint32("wired.board.mode")
	if hasOwner {
		acl.Owner = owner
	}
	if hasGroup {
		acl.Group = group
	}
	acl.Mode = int(mode)
	if err := s.Boards.SetPermissions(path, acl); err != nil {
		return boardErr(err)
	}
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.permissions_changed").
		SetString("wired.board.board", path).
		SetString("wired.board.owner", acl.Owner).
		SetString("wired.board.group", acl.Group).
		SetUint32("wired.board.mode", uint32(acl.Mode)))
	return okay(sess, req)
}

func handleAddThread(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.board.board")
	acl, err := s.Boards.ReadACL(path)
	if err != nil {
		return boardErr(err)
	}
	group := ""
	if acc != nil {
		group = acc.Group
	}
	canWrite := acl.Writable(sess.Login(), group, isAdmin(acc)) || (acc != nil && acc.HasPrivilege(accounts.PrivAddThreads))
	if !canWrite {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	subject, _ := req.GetString("wired.board.thread.subject")
	text, _ := req.GetString("wired.board.thread.text")
	threadUUID, err := s.Boards.AddThread(path)
	if err != nil {
		return boardErr(err)
	}
	post := boards.Post{AuthorNick: sess.Nick(), AuthorLogin: sess.Login(), Subject: subject, Text: text, Posted: time.Now()}
	if err := s.Boards.AddPost(path, threadUUID, post); err != nil {
		return boardErr(err)
	}
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.thread_added").
		SetString("wired.board.board", path).
		SetString("wired.board.thread", threadUUID))
	return okay(sess, req)
}

func handleAddPost(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.board.board")
	acl, err := s.Boards.ReadACL(path)
	if err != nil {
		return boardErr(err)
	}
	group := ""
	if acc != nil {
		group = acc.Group
	}
	if !acl.Writable(sess.Login(), group, isAdmin(acc)) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	threadUUID, _ := req.GetString("wired.board.thread")
	text, _ := req.GetString("wired.board.post.text")
	post := boards.Post{AuthorNick: sess.Nick(), AuthorLogin: sess.Login(), Text: text, Posted: time.Now()}
	if err := s.Boards.AddPost(path, threadUUID, post); err != nil {
		return boardErr(err)
	}
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.post_added").
		SetString("wired.board.board", path).
		SetString("wired.board.thread", threadUUID))
	return okay(sess, req)
}

// handleEditPost allows the post's own author, or edit_all_posts (§4.F).
func handleEditPost(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.board.board")
	postUUID, _ := req.GetString("wired.board.post")
	text, _ := req.GetString("wired.board.post.text")

	threadUUID, err := findThreadForPost(s, path, postUUID)
	if err != nil {
		return boardErr(err)
	}
	p, err := findPost(s, path, threadUUID, postUUID)
	if err != nil {
		return boardErr(err)
	}
	if p.AuthorLogin != sess.Login() && !(acc != nil && acc.HasPrivilege(accounts.PrivEditAllPosts)) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	if _, err := s.Boards.EditPost(path, threadUUID, postUUID, p.Subject, text, time.Now()); err != nil {
		return boardErr(err)
	}
	acl, _ := s.Boards.ReadACL(path)
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.post_edited").
		SetString("wired.board.board", path).
		SetString("wired.board.post", postUUID))
	return okay(sess, req)
}

// handleDeletePost allows the post's own author, or delete_all_posts.
func handleDeletePost(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.board.board")
	postUUID, _ := req.GetString("wired.board.post")

	threadUUID, err := findThreadForPost(s, path, postUUID)
	if err != nil {
		return boardErr(err)
	}
	p, err := findPost(s, path, threadUUID, postUUID)
	if err != nil {
		return boardErr(err)
	}
	if p.AuthorLogin != sess.Login() && !(acc != nil && acc.HasPrivilege(accounts.PrivDeleteAllPosts)) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	acl, _ := s.Boards.ReadACL(path)
	if err := s.Boards.DeletePost(path, threadUUID, postUUID); err != nil {
		return boardErr(err)
	}
	s.broadcastBoardVisibility(acl, protocol.New("wired.board.post_deleted").
		SetString("wired.board.board", path).
		SetString("wired.board.post", postUUID))
	return okay(sess, req)
}

func findThreadForPost(s *Server, boardPath, postUUID string) (string, error) {
	threads, err := s.Boards.ListPosts(boardPath)
	if err != nil {
		return "", err
	}
	for _, th := range threads {
		for _, p := range th.Posts {
			if p.UUID == postUUID {
				return th.UUID, nil
			}
		}
	}
	return "", boards.ErrPostNotFound
}

func findPost(s *Server, boardPath, threadUUID, postUUID string) (boards.Post, error) {
	threads, err := s.Boards.ListPosts(boardPath)
	if err != nil {
		return boards.Post{}, err
	}
	for _, th := range threads {
		if th.UUID != threadUUID {
			continue
		}
		for _, p := range th.Posts {
			if p.UUID == postUUID {
				return p, nil
			}
		}
	}
	return boards.Post{}, boards.ErrPostNotFound
}

func handleSubscribeBoards(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	sess.SetSubscribed("boards", true)
	return okay(sess, req)
}

func handleUnsubscribeBoards(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	sess.SetSubscribed("boards", false)
	return okay(sess, req)
}
