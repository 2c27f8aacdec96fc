package server

import (
	"os"
	"path/filepath"
	"strings"

	"wired/internal/accounts"
	"wired/internal/files"
	"wired/internal/protocol"
	"wired/internal/users"
)

func fileErr(err error) *protocol.WireError {
	switch err {
	case files.ErrInvalidPath:
		return protocol.NewError(protocol.ErrInvalidMessageCode)
	case files.ErrNotFound:
		return protocol.NewError(protocol.ErrFileNotFound)
	default:
		return protocol.Internal(err.Error())
	}
}

func accountGroup(acc *accounts.Account) string {
	if acc == nil {
		return ""
	}
	return acc.Group
}

// visibilityFor builds the files.VisibilityFunc used by List: a dropbox
// is readable/writable per its own ACL, evaluated against the requesting
// session's login/group (§4.G).
func visibilityFor(login, group string, admin bool) files.VisibilityFunc {
	return func(acl files.DropboxACL) (readable, writable bool) {
		readable = admin
		writable = admin
		if acl.Mode&4 != 0 { // everyone-read
			readable = true
		}
		if acl.Mode&2 != 0 {
			writable = true
		}
		if login == acl.Owner {
			if acl.Mode&256 != 0 {
				readable = true
			}
			if acl.Mode&128 != 0 {
				writable = true
			}
		}
		if group != "" && group == acl.Group {
			if acl.Mode&32 != 0 {
				readable = true
			}
			if acl.Mode&16 != 0 {
				writable = true
			}
		}
		return readable, writable
	}
}

func handleListDirectory(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	path, _ := req.GetString("wired.file.path")
	recursive, _ := req.GetBool("wired.file.recursive")
	acc := sess.Account()

	depthLimit := int(s.Config.RecursiveLimit)
	entries, err := s.Files.List(path, filesRootOf(acc), recursive, depthLimit,
		visibilityFor(sess.Login(), accountGroup(acc), isAdmin(acc)), s.Config.Name)
	if err != nil {
		return fileErr(err)
	}
	for _, e := range entries {
		if e.IsDropbox && !e.Readable {
			continue
		}
		row := protocol.New("wired.file.file_list").
			SetString("wired.file.path", e.VirtualPath).
			SetUint32("wired.file.type", folderTypeWire(e.Type)).
			SetUint64("wired.transfer.data_size", uint64(e.DataSize)).
			SetString("wired.file.comment", e.Comment).
			SetBool("wired.file.executable", e.Executable).
			EchoTxn(req)
		if err := sess.Send(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.file.file_list.done").EchoTxn(req)))
}

func folderTypeWire(ft files.FolderType) uint32 {
	switch ft {
	case files.TypeFile:
		return 0
	case files.TypeDir:
		return 1
	case files.TypeUploads:
		return 2
	case files.TypeDropbox:
		return 3
	default:
		return 1
	}
}

func filesRootOf(acc *accounts.Account) string {
	if acc == nil {
		return ""
	}
	return acc.FilesRoot
}

// canRead reports whether sess may read the dropbox (if any) enclosing
// real, falling back to true outside any dropbox; mirrors canUpload's
// write-side check in handlers_transfer.go.
func canRead(s *Server, sess *users.Session, acc *accounts.Account, real string) bool {
	if acc == nil {
		return false
	}
	if acl, ok := files.NearestDropboxACL(s.Config.Files, real); ok {
		readable, _ := visibilityFor(sess.Login(), accountGroup(acc), isAdmin(acc))(acl)
		if readable {
			return true
		}
		return acc.HasPrivilege(accounts.PrivViewDropboxes)
	}
	return true
}

func handleGetFileInfo(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	path, _ := req.GetString("wired.file.path")
	acc := sess.Account()
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if !canRead(s, sess, acc, real) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	ft, err := files.FolderTypeOf(real)
	if err != nil {
		return protocol.NewError(protocol.ErrFileNotFound)
	}
	reply := protocol.New("wired.file.info").
		SetString("wired.file.path", path).
		SetUint32("wired.file.type", folderTypeWire(ft)).
		SetString("wired.file.comment", files.GetComment(real)).
		SetString("wired.file.label", files.GetLabel(real)).
		SetBool("wired.file.executable", files.IsExecutable(real)).
		EchoTxn(req)
	_ = sess.Send(reply)
	return nil
}

func handleMoveFile(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivMoveFiles) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	path, _ := req.GetString("wired.file.path")
	newPath, _ := req.GetString("wired.file.newpath")
	oldReal, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	newReal, err := s.Files.Resolve(newPath, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := files.Move(oldReal, newReal); err != nil {
		return protocol.Internal(err.Error())
	}
	s.notifyPathChanged(filepath.Dir(oldReal))
	s.notifyPathChanged(filepath.Dir(newReal))
	return okay(sess, req)
}

func handleDeleteFile(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivDeleteFiles) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	path, _ := req.GetString("wired.file.path")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := files.Delete(real); err != nil {
		return protocol.Internal(err.Error())
	}
	if rel, relErr := filepath.Rel(s.Config.Files, real); relErr == nil {
		s.markTombstone(filepath.ToSlash(rel))
	}
	s.notifyPathChanged(filepath.Dir(real))
	return okay(sess, req)
}

func handleCreateDirectory(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivCreateDirectories) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	path, _ := req.GetString("wired.file.path")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := os.MkdirAll(real, 0o755); err != nil {
		return protocol.Internal(err.Error())
	}
	s.notifyPathChanged(filepath.Dir(real))
	return okay(sess, req)
}

func handleSetFileType(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.file.path")
	typeID, _ := req.GetUint32("wired.file.type")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	ft := wireToFolderType(typeID)
	if ft == files.TypeDropbox && (acc == nil || !acc.HasPrivilege(accounts.PrivCreateDirectories)) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	if err := files.SetFolderType(real, ft); err != nil {
		return protocol.Internal(err.Error())
	}
	return okay(sess, req)
}

func wireToFolderType(v uint32) files.FolderType {
	switch v {
	case 0:
		return files.TypeFile
	case 2:
		return files.TypeUploads
	case 3:
		return files.TypeDropbox
	default:
		return files.TypeDir
	}
}

func handleSetComment(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.file.path")
	text, _ := req.GetString("wired.file.comment")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := files.SetComment(real, text); err != nil {
		return protocol.Internal(err.Error())
	}
	return okay(sess, req)
}

func handleSetExecutable(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.file.path")
	exec, _ := req.GetBool("wired.file.executable")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := files.SetExecutable(real, exec); err != nil {
		return protocol.Internal(err.Error())
	}
	return okay(sess, req)
}

func handleSetLabel(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.file.path")
	label, _ := req.GetUint32("wired.file.label")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := files.SetLabel(real, labelName(label)); err != nil {
		return protocol.Internal(err.Error())
	}
	return okay(sess, req)
}

func labelName(v uint32) string {
	names := []string{"none", "red", "orange", "green", "blue", "purple"}
	if int(v) < len(names) {
		return names[v]
	}
	return "none"
}

func handleSetFilePermissions(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivSetPermissions) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	path, _ := req.GetString("wired.file.path")
	owner, _ := req.GetString("wired.file.owner")
	group, _ := req.GetString("wired.file.group")
	mode, _ := req.GetUint32("wired.file.mode")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := files.WriteDropboxACL(real, files.DropboxACL{Owner: owner, Group: group, Mode: int(mode)}); err != nil {
		return protocol.Internal(err.Error())
	}
	return okay(sess, req)
}

// dropboxVisibilityPatcher rewrites the readable/writable fields of a
// search hit's stored row when the hit is itself a dropbox, recomputing
// them against sess's identity rather than replaying the stale bits the
// index was built with (§4.G part (b)). Re-encodes the message rather
// than patching fixed byte offsets, per §9's note that the on-disk row
// layout isn't byte-exact in this implementation.
func dropboxVisibilityPatcher(s *Server, sess *users.Session, acc *accounts.Account) files.VisibilityPatcher {
	return func(row []byte) []byte {
		msg, err := protocol.DecodeMessage(row)
		if err != nil {
			return row
		}
		ft, _ := msg.GetUint32("wired.file.type")
		if ft != folderTypeWire(files.TypeDropbox) {
			return row
		}
		path, _ := msg.GetString("wired.file.path")
		real := filepath.Join(s.Config.Files, filepath.FromSlash(path))
		acl, ok := files.NearestDropboxACL(s.Config.Files, real)
		if !ok {
			return row
		}
		readable, writable := visibilityFor(sess.Login(), accountGroup(acc), isAdmin(acc))(acl)
		msg.SetBool("wired.file.readable", readable)
		msg.SetBool("wired.file.writable", writable)
		newRow, err := protocol.EncodeMessage(msg)
		if err != nil {
			return row
		}
		return newRow
	}
}

func handleSearch(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	query, _ := req.GetString("wired.file.query")
	acc := sess.Account()
	hits, err := files.Search(files.IndexPath(s.dataDir), query, filesRootOf(acc), s.tombstoneSet(), dropboxVisibilityPatcher(s, sess, acc))
	if err != nil {
		return protocol.Internal(err.Error())
	}
	for _, h := range hits {
		row := h.Row
		if root := filesRootOf(acc); root != "" {
			if msg, derr := protocol.DecodeMessage(row); derr == nil {
				p, _ := msg.GetString("wired.file.path")
				msg.SetString("wired.file.path", strings.TrimPrefix(strings.TrimPrefix(p, root), "/"))
				if enc, eerr := protocol.EncodeMessage(msg); eerr == nil {
					row = enc
				}
			}
		}
		if err := sess.SendRaw(row); err != nil {
			return protocol.Internal(err.Error())
		}
	}
	return wrapErr(sess.Send(protocol.New("wired.file.search_list.done").EchoTxn(req)))
}

func handleSubscribeDirectory(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	path, _ := req.GetString("wired.file.path")
	acc := sess.Account()
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := s.Watch.Subscribe(real); err != nil {
		return protocol.Internal(err.Error())
	}
	sess.SubscribePath(real)
	return okay(sess, req)
}

func handleUnsubscribeDirectory(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	path, _ := req.GetString("wired.file.path")
	acc := sess.Account()
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if err := s.Watch.Unsubscribe(real); err != nil {
		return protocol.Internal(err.Error())
	}
	sess.UnsubscribePath(real)
	return okay(sess, req)
}

