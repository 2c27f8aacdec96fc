package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"wired/internal/protocol"
	"wired/internal/users"
)

// receiveTimeout bounds how long the top-level receive loop waits for a
// message before treating the peer as gone (§4.J).
const receiveTimeout = 120 * time.Second

// handlerFunc implements one routed message. It is responsible for
// sending every content/terminator message itself; a non-nil return is
// converted to a single wired.error reply by the dispatcher. Grounded on
// the teacher's processControl switch-over-msg.Type (client.go),
// generalized to a map[string]handlerFunc table the way
// internal/ws/handler.go dispatches by string type.
type handlerFunc func(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError

// routes is the fixed name -> handler table (component J).
var routes map[string]handlerFunc

func init() {
	routes = map[string]handlerFunc{
		"wired.client_info": handleClientInfo,
		"wired.send_login":  handleSendLogin,
		"wired.send_ping":   handleSendPing,

		"wired.user.set_nick":          handleSetNick,
		"wired.user.set_status":        handleSetStatus,
		"wired.user.set_icon":          handleSetIcon,
		"wired.user.set_idle":          handleSetIdle,
		"wired.user.get_info":          handleGetUserInfo,
		"wired.user.get_users":         handleGetUsers,
		"wired.user.disconnect_user":   handleDisconnectUser,
		"wired.user.ban_user":          handleBanUser,

		"wired.chat.join_chat":          handleJoinChat,
		"wired.chat.leave_chat":         handleLeaveChat,
		"wired.chat.set_topic":          handleSetTopic,
		"wired.chat.send_say":           handleSendSay,
		"wired.chat.send_me":            handleSendMe,
		"wired.chat.create_chat":        handleCreateChat,
		"wired.chat.invite_user":        handleInviteUser,
		"wired.chat.decline_invitation": handleDeclineInvitation,
		"wired.chat.kick_user":          handleKickUser,

		"wired.message.send_message":   handleSendMessage,
		"wired.message.send_broadcast": handleSendBroadcast,

		"wired.board.get_boards":          handleGetBoards,
		"wired.board.get_posts":           handleGetPosts,
		"wired.board.add_board":           handleAddBoard,
		"wired.board.rename_board":        handleRenameBoard,
		"wired.board.move_board":          handleMoveBoard,
		"wired.board.delete_board":        handleDeleteBoard,
		"wired.board.set_permissions":     handleSetBoardPermissions,
		"wired.board.add_thread":          handleAddThread,
		"wired.board.add_post":            handleAddPost,
		"wired.board.edit_post":           handleEditPost,
		"wired.board.delete_post":         handleDeletePost,
		"wired.board.subscribe_boards":    handleSubscribeBoards,
		"wired.board.unsubscribe_boards":  handleUnsubscribeBoards,

		"wired.file.list_directory":       handleListDirectory,
		"wired.file.get_info":             handleGetFileInfo,
		"wired.file.move":                 handleMoveFile,
		"wired.file.delete":               handleDeleteFile,
		"wired.file.create_directory":     handleCreateDirectory,
		"wired.file.set_type":             handleSetFileType,
		"wired.file.set_comment":          handleSetComment,
		"wired.file.set_executable":       handleSetExecutable,
		"wired.file.set_label":            handleSetLabel,
		"wired.file.set_permissions":      handleSetFilePermissions,
		"wired.file.search":               handleSearch,
		"wired.file.subscribe_directory":   handleSubscribeDirectory,
		"wired.file.unsubscribe_directory": handleUnsubscribeDirectory,

		"wired.account.change_password":     handleChangePassword,
		"wired.account.list_users":          handleListUsers,
		"wired.account.list_groups":         handleListGroups,
		"wired.account.read_user":           handleReadUser,
		"wired.account.read_group":          handleReadGroup,
		"wired.account.create_user":         handleCreateUser,
		"wired.account.create_group":        handleCreateGroup,
		"wired.account.edit_user":           handleEditUser,
		"wired.account.edit_group":          handleEditGroup,
		"wired.account.delete_user":         handleDeleteUser,
		"wired.account.delete_group":        handleDeleteGroup,
		"wired.account.subscribe_accounts":  handleSubscribeAccounts,
		"wired.account.unsubscribe_accounts": handleUnsubscribeAccounts,

		"wired.transfer.download_file":     handleDownloadFile,
		"wired.transfer.upload_file":       handleUploadFile,
		"wired.transfer.upload_directory":  handleUploadDirectory,
		"wired.transfer.stop":              handleStopTransfer,

		"wired.log.subscribe_log":       handleSubscribeLog,
		"wired.log.unsubscribe_log":     handleUnsubscribeLog,
		"wired.events.get_archives":     handleGetArchives,
		"wired.events.get_events":       handleGetEvents,
		"wired.events.subscribe_events": handleSubscribeEvents,
		"wired.events.unsubscribe_events": handleUnsubscribeEvents,

		"wired.news.get_news":   handleGetNews,
		"wired.news.post_news":  handlePostNews,
		"wired.news.clear_news": handleClearNews,

		"wired.banlist.get_bans":    handleGetBans,
		"wired.banlist.add_ban":    handleAddBan,
		"wired.banlist.delete_ban": handleDeleteBan,
	}
}

// gaveClientInfoAllowed (with stateAllows) implements the
// pre-dispatch state gate (§4.J).
var gaveClientInfoAllowed = map[string]bool{
	"wired.send_ping":       true,
	"wired.send_login":      true,
	"wired.user.set_nick":   true,
	"wired.user.set_status": true,
	"wired.user.set_icon":   true,
}

// idleExempt messages are excluded from the "unset idle, broadcast
// status" rule in the receive loop (§4.J).
var idleExempt = map[string]bool{
	"wired.send_ping":      true,
	"wired.user.set_idle":  true,
	"wired.user.get_users": true,
}

func stateAllows(st users.State, name string) bool {
	switch st {
	case users.StateConnected:
		return name == "wired.client_info"
	case users.StateGaveClientInfo:
		return gaveClientInfoAllowed[name]
	case users.StateLoggedIn:
		return true
	default: // Transferring, Disconnected
		return false
	}
}

// HandleConnection runs one accepted connection end to end: it wraps conn
// in a codec, registers a Session, and runs the receive loop until the
// connection closes, a ban/forced-disconnect fires, or the idle timeout
// elapses. Grounded on handleClient's join-then-loop shape (client.go),
// generalized with the pre-login state gate the teacher's voice protocol
// doesn't need.
func (s *Server) HandleConnection(conn net.Conn) {
	codec := protocol.NewCodec(conn, s.Schema)

	var sess *users.Session
	sess = s.Users.Add(func(id uint32) *users.Session {
		return users.NewSession(id, conn, codec)
	})
	defer func() {
		s.Users.Remove(sess)
		_ = conn.Close()
	}()

	remoteIP := sess.RemoteIP()
	if banned, _ := s.Banlist.IsBanned(remoteIP); banned {
		_ = sess.Send(protocol.New("wired.banned"))
		return
	}

	for {
		if sess.State() == users.StateDisconnected {
			return
		}
		timeout := receiveTimeout
		if sess.State() == users.StateConnected {
			timeout = handshakeTimeout
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		req, err := codec.ReadMessage()
		if err != nil {
			if errors.Is(err, protocol.ErrUnrecognizedMessage) {
				_ = sess.Send(protocol.NewError(protocol.ErrUnrecognizedMessageCode).Reply(req))
				continue
			}
			if errors.Is(err, protocol.ErrInvalidMessage) {
				_ = sess.Send(protocol.NewError(protocol.ErrInvalidMessageCode).Reply(req))
				continue
			}
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			s.Log.Debug("[dispatch] read error, closing session", "session", sess.ID, "error", err)
			return
		}

		if sess.State() == users.StateTransferring {
			// The control channel does not dispatch while a worker owns
			// the byte stream (§4.J); inbound messages (upload chunks,
			// a stop request) are relayed to it instead of routed.
			if ch := sess.TransferChan(); ch != nil {
				select {
				case ch <- req:
				default:
					s.Log.Warn("[dispatch] transfer relay full, dropping message", "session", sess.ID)
				}
			}
			continue
		}
		if !stateAllows(sess.State(), req.Name) {
			_ = sess.Send(protocol.NewError(protocol.ErrOutOfSequence).Reply(req))
			continue
		}

		s.route(sess, req)

		if !idleExempt[req.Name] {
			if wasIdle := sess.Touch(); wasIdle {
				s.Bcast.BroadcastAll(protocol.New("wired.user.status").
					SetUint32("wired.user.id", sess.ID).
					SetString("wired.user.status", sess.Status()))
			}
		}
	}
}

// route dispatches req to its handler and converts a returned WireError
// into the single wired.error reply (§7's "handlers never throw across
// the dispatch boundary").
func (s *Server) route(sess *users.Session, req *protocol.Message) {
	h, ok := routes[req.Name]
	if !ok {
		_ = sess.Send(protocol.NewError(protocol.ErrUnrecognizedMessageCode).Reply(req))
		return
	}
	if werr := h(s, sess, req); werr != nil {
		_ = sess.Send(werr.Reply(req))
	}
}

// okay sends the generic success reply.
func okay(sess *users.Session, req *protocol.Message) *protocol.WireError {
	_ = sess.Send(protocol.New("wired.okay").EchoTxn(req))
	return nil
}

func logInternal(s *Server, op string, err error) *protocol.WireError {
	s.Log.Warn("[dispatch] internal error", slog.String("op", op), slog.Any("error", err))
	return protocol.Internal(err.Error())
}
