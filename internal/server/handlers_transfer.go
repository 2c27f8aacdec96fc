package server

import (
	"os"

	"wired/internal/accounts"
	"wired/internal/files"
	"wired/internal/protocol"
	"wired/internal/transfer"
	"wired/internal/users"
)

// canUpload reports whether sess may upload into the dropbox (if any)
// enclosing real, falling back to the plain upload privilege outside any
// dropbox, matching the dropbox ACL propagation rule in §3.
func canUpload(s *Server, sess *users.Session, acc *accounts.Account, real string) bool {
	if acc == nil {
		return false
	}
	if acl, ok := files.NearestDropboxACL(s.Config.Files, real); ok {
		_, writable := visibilityFor(sess.Login(), accountGroup(acc), isAdmin(acc))(acl)
		if writable {
			return true
		}
		return acc.HasPrivilege(accounts.PrivUploadAnywhere)
	}
	return acc.HasPrivilege(accounts.PrivUpload)
}

func handleDownloadFile(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	if acc == nil || !acc.HasPrivilege(accounts.PrivDownload) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	path, _ := req.GetString("wired.file.path")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if !canRead(s, sess, acc, real) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	fi, err := os.Stat(real)
	if err != nil || fi.IsDir() {
		return protocol.NewError(protocol.ErrFileNotFound)
	}
	dataOffset, _ := req.GetUint64("wired.transfer.data_offset")
	if err := transfer.ValidateResumeOffsets(int64(dataOffset), fi.Size(), 0, 0); err != nil {
		return protocol.Internal(err.Error())
	}

	t := &transfer.Transfer{
		Login:       sess.Login(),
		IP:          sess.RemoteIP(),
		Direction:   transfer.Download,
		VirtualPath: path,
		DataPath:    real,
		DataSize:    fi.Size(),
		DataOffset:  int64(dataOffset),
	}
	s.Transfers.Enqueue(t)
	sess.SetTransferID(t.ID)
	s.admitTransfers()
	return nil
}

func handleUploadFile(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	acc := sess.Account()
	path, _ := req.GetString("wired.file.path")
	real, err := s.Files.Resolve(path, filesRootOf(acc))
	if err != nil {
		return fileErr(err)
	}
	if !canUpload(s, sess, acc, real) {
		return protocol.NewError(protocol.ErrPermissionDenied)
	}
	if _, err := os.Stat(real); err == nil {
		return protocol.NewError(protocol.ErrFileExists)
	}
	dataSize, _ := req.GetUint64("wired.transfer.data_size")
	executable, _ := req.GetBool("wired.transfer.executable")

	staging := transfer.StagingPath(real)
	offset, err := transfer.UploadOffset(staging)
	if err != nil {
		return protocol.Internal(err.Error())
	}

	t := &transfer.Transfer{
		Login:       sess.Login(),
		IP:          sess.RemoteIP(),
		Direction:   transfer.Upload,
		VirtualPath: path,
		DataPath:    real,
		DataSize:    int64(dataSize),
		DataOffset:  offset,
	}
	t.SetExecutable(executable)
	s.Transfers.Enqueue(t)
	sess.SetTransferID(t.ID)
	s.admitTransfers()
	return nil
}

// handleStopTransfer cancels the caller's own transfer, whether it is
// still queued or already streaming; the scheduler re-admits the next
// queued transfer once this one clears.
func handleStopTransfer(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
	id := sess.TransferID()
	if id == 0 {
		return protocol.NewError(protocol.ErrInternal)
	}
	t, ok := s.Transfers.Get(id)
	if !ok {
		return okay(sess, req)
	}
	t.Stop()
	if t.State() != transfer.Running {
		s.Transfers.Remove(id)
		sess.SetTransferID(0)
		s.admitTransfers()
	}
	return okay(sess, req)
}

// handleUploadDirectory pre-creates the target directory (and any missing
// ancestors) so a batch client-driven recursive upload can address files
// inside it; the individual files still arrive via separate upload_file
// requests, per §4.H (directories themselves carry no byte stream).
func handleUploadDirectory(s *Server, sess *users.Session, req *protocol.Message) *protocol.WireError {
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
	return okay(sess, req)
}
