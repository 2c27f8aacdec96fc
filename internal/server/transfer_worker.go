package server

import (
	"context"
	"io"
	"os"
	"time"

	"wired/internal/accounts"
	"wired/internal/protocol"
	"wired/internal/transfer"
	"wired/internal/users"
)

// admitTransfers runs the scheduler's admission pass and spawns a worker
// goroutine for every transfer it promotes to Waiting, matching §4.H's
// "scheduling runs any time a transfer is created, finishes, or a waiting
// transfer times out".
func (s *Server) admitTransfers() {
	for _, t := range s.Transfers.Schedule() {
		sess, ok := s.findSessionByTransfer(t.ID)
		if !ok {
			continue
		}
		if t.Direction == transfer.Download {
			go s.runDownload(sess, t)
		} else {
			go s.runUpload(sess, t)
		}
	}
}

// sweepTransfers drops timed-out Waiting transfers and re-admits, meant
// to be driven by a background ticker (runBackgroundLoops in acceptor.go).
func (s *Server) sweepTransfers() {
	s.Transfers.SweepWaitingTimeouts()
	s.admitTransfers()
}

func (s *Server) downloadLimiter(login string) transfer.SpeedLimiter {
	eff, _ := s.effectivePrivileges(login)
	var accountLimit int64
	if eff != nil {
		accountLimit = eff.Limit(accounts.LimitDownloadSpeed)
	}
	return transfer.SpeedLimiter{
		TotalCapBytesPerSec:     s.totalDownloadBps,
		AccountLimitBytesPerSec: accountLimit,
		ActiveCount:             func() int { return s.activeTransferCount(transfer.Download) },
	}
}

func (s *Server) uploadLimiter(login string) transfer.SpeedLimiter {
	eff, _ := s.effectivePrivileges(login)
	var accountLimit int64
	if eff != nil {
		accountLimit = eff.Limit(accounts.LimitUploadSpeed)
	}
	return transfer.SpeedLimiter{
		TotalCapBytesPerSec:     s.totalUploadBps,
		AccountLimitBytesPerSec: accountLimit,
		ActiveCount:             func() int { return s.activeTransferCount(transfer.Upload) },
	}
}

func (s *Server) activeTransferCount(dir transfer.Direction) int {
	n := 0
	for _, sess := range s.Users.All() {
		if sess.State() == users.StateTransferring && sess.TransferID() != 0 {
			n++
		}
	}
	_ = dir // both directions share the same Transferring state count in this simplified model
	return n
}

// runDownload streams a file to sess over its own control connection,
// framed as repeated wired.transfer.data messages, per §4.H's "file bytes
// carried inside the message as oob-data" wire model.
func (s *Server) runDownload(sess *users.Session, t *transfer.Transfer) {
	sess.SetState(users.StateTransferring)
	defer s.finishTransfer(sess, t)

	f, err := os.Open(t.DataPath)
	if err != nil {
		s.Log.Warn("[transfer] open for download failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Seek(t.DataOffset, io.SeekStart); err != nil {
		s.Log.Warn("[transfer] seek failed", "error", err)
		return
	}

	if err := sess.Send(protocol.New("wired.transfer.download").
		SetUint64("wired.transfer.data_size", uint64(t.DataSize)).
		SetUint64("wired.transfer.data_offset", uint64(t.DataOffset))); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.SetCancelFunc(cancel)
	defer cancel()
	t.SetState(transfer.Running)
	limiter := s.downloadLimiter(t.Login)

	buf := make([]byte, 16*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := f.Read(buf)
		if n > 0 {
			t.RecordBytes(int64(n))
			if sendErr := sess.Send(protocol.New("wired.transfer.data").SetData("wired.transfer.data", append([]byte(nil), buf[:n]...))); sendErr != nil {
				return
			}
		}
		if err == io.EOF {
			_ = sess.Send(protocol.New("wired.transfer.done"))
			s.recordTransferStats(t)
			return
		}
		if err != nil {
			s.Log.Warn("[transfer] read error", "error", err)
			return
		}
		limiter.Throttle(ctx, t)
	}
}

// runUpload reads the inbound byte stream sess's receive loop relays
// (wired.transfer.data messages), writing it to the .WiredTransfer
// staging file, finalizing on completion (§4.H).
func (s *Server) runUpload(sess *users.Session, t *transfer.Transfer) {
	sess.SetState(users.StateTransferring)
	ch := sess.BeginTransferChan()
	defer s.finishTransfer(sess, t)

	staging := transfer.StagingPath(t.DataPath)
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.Log.Warn("[transfer] open staging failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Seek(t.DataOffset, io.SeekStart); err != nil {
		return
	}

	if err := sess.Send(protocol.New("wired.transfer.upload_ready").
		SetUint64("wired.transfer.data_offset", uint64(t.DataOffset))); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.SetCancelFunc(cancel)
	defer cancel()
	t.SetState(transfer.Running)
	limiter := s.uploadLimiter(t.Login)

	remaining := t.DataSize - t.DataOffset
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-ch:
			if !ok {
				return
			}
			switch req.Name {
			case "wired.transfer.data":
				data, _ := req.GetData("wired.transfer.data")
				if len(data) == 0 {
					continue
				}
				if _, err := f.Write(data); err != nil {
					s.Log.Warn("[transfer] write error", "error", err)
					return
				}
				t.RecordBytes(int64(len(data)))
				remaining -= int64(len(data))
				limiter.Throttle(ctx, t)
			case "wired.transfer.stop":
				return
			}
		case <-time.After(120 * time.Second):
			return
		}
	}

	if err := f.Close(); err != nil {
		return
	}
	if err := transfer.Finalize(t.DataPath, t.Executable()); err != nil {
		s.Log.Warn("[transfer] finalize failed", "error", err)
		return
	}
	_ = sess.Send(protocol.New("wired.transfer.done"))
	s.recordTransferStats(t)
}

// finishTransfer releases the session and scheduler bookkeeping for a
// completed (or aborted) transfer and lets the next queued transfer run.
func (s *Server) finishTransfer(sess *users.Session, t *transfer.Transfer) {
	t.SetState(transfer.Stopped)
	s.Transfers.Remove(t.ID)
	sess.SetTransferID(0)
	sess.EndTransferChan()
	if sess.State() == users.StateTransferring {
		sess.SetState(users.StateLoggedIn)
	}
	s.admitTransfers()
}

// recordTransferStats updates the account's cumulative transfer counters
// (§3 Account attributes).
func (s *Server) recordTransferStats(t *transfer.Transfer) {
	_ = s.Accounts.EditUser(t.Login, func(a *accounts.Account) {
		if t.Direction == transfer.Download {
			a.DownloadCount++
			a.DownloadBytes += t.Transferred()
		} else {
			a.UploadCount++
			a.UploadBytes += t.Transferred()
		}
	})
}
