package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newQueued(login, ip string, dir Direction) *Transfer {
	return &Transfer{Login: login, IP: ip, Direction: dir}
}

func TestScheduleAdmitsUnderCapAndQueuesOverCap(t *testing.T) {
	s := NewScheduler(func(login string, dir Direction) int { return 1 })
	s.TotalDownloads = 1

	t1 := s.Enqueue(newQueued("alice", "1.1.1.1", Download))
	t2 := s.Enqueue(newQueued("bob", "2.2.2.2", Download))

	started := s.Schedule()
	if len(started) != 1 {
		t.Fatalf("expected exactly 1 started transfer under a global cap of 1, got %d", len(started))
	}
	if t1.State() != Waiting && t2.State() != Waiting {
		t.Fatalf("expected one of the two transfers to be Waiting")
	}
	if t1.State() == Waiting && t2.State() == Waiting {
		t.Fatalf("expected only one transfer admitted, both are Waiting")
	}
}

func TestScheduleRoundRobinsAcrossUserKeys(t *testing.T) {
	s := NewScheduler(func(login string, dir Direction) int { return 0 })

	alice1 := s.Enqueue(newQueued("alice", "1.1.1.1", Download))
	alice2 := s.Enqueue(newQueued("alice", "1.1.1.1", Download))
	bob1 := s.Enqueue(newQueued("bob", "2.2.2.2", Download))

	started := s.Schedule()
	if len(started) != 3 {
		t.Fatalf("expected all 3 started with no caps, got %d", len(started))
	}
	_ = alice1
	_ = alice2
	_ = bob1
}

func TestScheduleRespectsPerUserCap(t *testing.T) {
	s := NewScheduler(func(login string, dir Direction) int { return 1 })

	a1 := s.Enqueue(newQueued("alice", "1.1.1.1", Download))
	a2 := s.Enqueue(newQueued("alice", "1.1.1.1", Download))

	started := s.Schedule()
	if len(started) != 1 {
		t.Fatalf("expected only 1 of alice's 2 transfers admitted under per-user cap 1, got %d", len(started))
	}
	if a1.State() != Waiting && a2.State() != Waiting {
		t.Fatalf("expected exactly one of alice's transfers to be Waiting")
	}
}

func TestSweepWaitingTimeoutsRequeues(t *testing.T) {
	s := NewScheduler(nil)
	tr := s.Enqueue(newQueued("alice", "1.1.1.1", Download))
	tr.setState(Waiting)
	tr.mu.Lock()
	tr.waitingAt = time.Now().Add(-waitingTimeout - time.Second)
	tr.mu.Unlock()

	s.SweepWaitingTimeouts()

	if tr.State() != Queued {
		t.Fatalf("expected timed-out waiting transfer to be requeued, got state %v", tr.State())
	}
}

func TestSpeedLimiterComputesMinOfGlobalShareAndAccountLimit(t *testing.T) {
	l := SpeedLimiter{
		TotalCapBytesPerSec:     1000,
		AccountLimitBytesPerSec: 200,
		ActiveCount:             func() int { return 2 }, // global share = 500
	}
	if got := l.limit(); got != 200 {
		t.Fatalf("expected min(500, 200) = 200, got %d", got)
	}

	l2 := SpeedLimiter{TotalCapBytesPerSec: 100, ActiveCount: func() int { return 1 }}
	if got := l2.limit(); got != 100 {
		t.Fatalf("expected account-unlimited case to use global share 100, got %d", got)
	}
}

func TestValidateResumeOffsetsRejectsOverrun(t *testing.T) {
	if err := ValidateResumeOffsets(10, 5, 0, 100); err != ErrBadOffset {
		t.Fatalf("expected ErrBadOffset for data offset exceeding size, got %v", err)
	}
	if err := ValidateResumeOffsets(5, 10, 0, 100); err != nil {
		t.Fatalf("expected valid offsets to pass, got %v", err)
	}
}

func TestUploadOffsetAbsentFileIsZero(t *testing.T) {
	dir := t.TempDir()
	off, err := UploadOffset(filepath.Join(dir, "missing.WiredTransfer"))
	if err != nil {
		t.Fatalf("upload offset: %v", err)
	}
	if off != 0 {
		t.Fatalf("expected 0 for absent staging file, got %d", off)
	}
}

func TestFinalizeRejectsExistingTarget(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "done.bin")
	staging := StagingPath(final)

	if err := os.WriteFile(staging, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(final, []byte("already there"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Finalize(final, false); err != ErrFileExists {
		t.Fatalf("expected ErrFileExists, got %v", err)
	}
}

func TestFinalizeRenamesAndAppliesExecutableBit(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "run.bin")
	staging := StagingPath(final)
	if err := os.WriteFile(staging, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Finalize(final, true); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	fi, err := os.Stat(final)
	if err != nil {
		t.Fatalf("stat final: %v", err)
	}
	if fi.Mode()&0o100 == 0 {
		t.Fatalf("expected executable bit set, mode=%v", fi.Mode())
	}
}

func TestRunDownloadStreamsDataThenResource(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "d.bin")
	rsrcPath := filepath.Join(dir, "r.bin")
	if err := os.WriteFile(dataPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(rsrcPath, []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	dataFile, err := os.Open(dataPath)
	if err != nil {
		t.Fatal(err)
	}
	defer dataFile.Close()
	rsrcFile, err := os.Open(rsrcPath)
	if err != nil {
		t.Fatal(err)
	}
	defer rsrcFile.Close()

	tr := newQueued("alice", "1.1.1.1", Download)
	if err := Run(context.Background(), tr, dataFile, rsrcFile, SpeedLimiter{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if tr.State() != Stopped {
		t.Fatalf("expected Stopped after completion, got %v", tr.State())
	}
	if tr.Transferred() != int64(len("hello")+len("world")) {
		t.Fatalf("expected all bytes counted, got %d", tr.Transferred())
	}
}

func TestRecordBytesAndSetStateExposeInternalAccounting(t *testing.T) {
	tr := newQueued("alice", "1.1.1.1", Upload)
	tr.RecordBytes(42)
	if tr.Transferred() != 42 {
		t.Fatalf("expected RecordBytes to update Transferred, got %d", tr.Transferred())
	}
	tr.SetState(Running)
	if tr.State() != Running {
		t.Fatalf("expected SetState to transition state, got %v", tr.State())
	}
}

func TestSetCancelFuncInvokedByStop(t *testing.T) {
	tr := newQueued("alice", "1.1.1.1", Upload)
	called := false
	tr.SetCancelFunc(func() { called = true })
	tr.Stop()
	if !called {
		t.Fatalf("expected Stop to invoke the installed cancel func")
	}
}

func TestSetExecutableRoundTrips(t *testing.T) {
	tr := newQueued("alice", "1.1.1.1", Upload)
	if tr.Executable() {
		t.Fatalf("expected executable to default false")
	}
	tr.SetExecutable(true)
	if !tr.Executable() {
		t.Fatalf("expected Executable to report true after SetExecutable(true)")
	}
}
