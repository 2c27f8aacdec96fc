// Package transfer implements the file transfer engine (component H):
// the queued/waiting/running state machine, the user-key-fair scheduler,
// the two-fork streaming loop with speed throttling, and resumable
// upload finalization.
//
// Grounded on internal/blob/store.go's os.CreateTemp+os.Rename atomic
// write (generalized to the ".WiredTransfer" suffix-then-rename finalize
// step) and on client.go's sendHealth "sleep then recheck in small
// bounded increments" idiom as the shape for the throttling loop — not a
// circuit breaker here (there is no failure threshold), just the same
// texture of a tight loop that reacts to a measured rate. Per-transfer
// cancellation uses a context.CancelFunc the way Client.cancel does.
package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

type Direction int

const (
	Download Direction = iota
	Upload
)

type State int

const (
	Queued State = iota
	Waiting
	Running
	Stopped
)

const (
	chunkSize        = 16 * 1024
	waitingTimeout   = 20 * time.Second
	speedEpochPeriod = 30 * time.Second
	throttleSleep    = 10 * time.Millisecond
)

var (
	ErrFileExists    = errors.New("transfer: upload target already exists")
	ErrBadOffset     = errors.New("transfer: offset exceeds size")
	ErrNotFound      = errors.New("transfer: not found")
)

// Transfer is an in-flight or queued file movement (§3).
type Transfer struct {
	mu sync.Mutex

	ID           uint64
	Login        string
	IP           string
	Direction    Direction
	VirtualPath  string
	DataPath     string
	ResourcePath string

	DataSize     int64
	ResourceSize int64
	DataOffset   int64
	ResourceOffset int64

	transferred int64
	speedEpoch  time.Time
	speedBytes  int64

	state        State
	queuePos     int
	queuedAt     time.Time
	waitingAt    time.Time

	executable bool
	finderInfo []byte

	cancel context.CancelFunc
	stopCh chan struct{}
}

func (t *Transfer) UserKey() string { return t.Login + "+" + t.IP }

func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transfer) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Transfer) QueuePosition() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queuePos
}

// Speed returns bytes/second since the last epoch reset.
func (t *Transfer) Speed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.speedEpoch).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.speedBytes) / elapsed
}

func (t *Transfer) recordBytes(n int64) {
	t.mu.Lock()
	t.transferred += n
	t.speedBytes += n
	if time.Since(t.speedEpoch) >= speedEpochPeriod {
		t.speedEpoch = time.Now()
		t.speedBytes = 0
	}
	t.mu.Unlock()
}

func (t *Transfer) Transferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferred
}

// RecordBytes exposes the internal byte/speed accounting to a caller
// streaming over a live connection directly, rather than through Run.
func (t *Transfer) RecordBytes(n int64) { t.recordBytes(n) }

// SetState exposes the state transition Run normally drives, for callers
// that stream bytes over a live connection themselves instead of through
// Run/stream (the dispatcher owns the socket, per §4.H's implementation
// note).
func (t *Transfer) SetState(s State) { t.setState(s) }

// SetCancelFunc installs the cancellation hook Stop invokes; Run installs
// its own, this is for callers driving the stream loop directly.
func (t *Transfer) SetCancelFunc(cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
}

// SetExecutable and Executable carry the upload-only executable flag
// through to Finalize.
func (t *Transfer) SetExecutable(v bool) { t.mu.Lock(); t.executable = v; t.mu.Unlock() }
func (t *Transfer) Executable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executable
}

// Stop requests cooperative cancellation; the running loop observes it
// between chunks and finishes the current chunk before unwinding.
func (t *Transfer) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Scheduler owns the global queue and active-transfer accounting needed
// for the per-user, per-direction admission rule (§4.H).
type Scheduler struct {
	mu      sync.Mutex
	queue   []*Transfer
	byID    map[uint64]*Transfer
	nextID  uint64

	// caps, 0 = unlimited.
	TotalDownloads int
	TotalUploads   int
	PerUserCap     func(login string, dir Direction) int

	// onQueueChange is invoked with a transfer whose queue position
	// changed, so the caller can send transfer.queue to the client.
	onQueueChange func(*Transfer)
}

func NewScheduler(perUserCap func(login string, dir Direction) int) *Scheduler {
	return &Scheduler{
		byID:       make(map[uint64]*Transfer),
		PerUserCap: perUserCap,
	}
}

func (s *Scheduler) SetOnQueueChange(fn func(*Transfer)) { s.onQueueChange = fn }

// Enqueue registers a new Queued transfer and returns it.
func (s *Scheduler) Enqueue(t *Transfer) *Transfer {
	s.mu.Lock()
	s.nextID++
	t.ID = s.nextID
	t.state = Queued
	t.queuedAt = time.Now()
	s.queue = append(s.queue, t)
	s.byID[t.ID] = t
	s.mu.Unlock()
	return t
}

func (s *Scheduler) Get(id uint64) (*Transfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	return t, ok
}

func (s *Scheduler) activeCount(dir Direction, userKey string) (total, perUser int) {
	for _, t := range s.byID {
		if t.State() != Running && t.State() != Waiting {
			continue
		}
		if t.Direction != dir {
			continue
		}
		total++
		if userKey != "" && t.UserKey() == userKey {
			perUser++
		}
	}
	return total, perUser
}

// Schedule runs the deterministic round-robin admission pass described
// in §4.H: partition Queued transfers by user key, sort keys by oldest
// queue-time, and round-robin promoting head-of-queue transfers to
// Waiting until the global/per-user caps are exhausted. Returns the
// transfers newly moved to Waiting.
func (s *Scheduler) Schedule() []*Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey := make(map[string][]*Transfer)
	for _, t := range s.queue {
		if t.State() == Queued {
			byKey[t.UserKey()] = append(byKey[t.UserKey()], t)
		}
	}
	keys := make([]string, 0, len(byKey))
	for k, ts := range byKey {
		sort.Slice(ts, func(i, j int) bool { return ts[i].queuedAt.Before(ts[j].queuedAt) })
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return byKey[keys[i]][0].queuedAt.Before(byKey[keys[j]][0].queuedAt)
	})

	var started []*Transfer
	progressed := true
	for progressed {
		progressed = false
		for _, key := range keys {
			ts := byKey[key]
			if len(ts) == 0 {
				continue
			}
			head := ts[0]
			total, perUser := s.activeCount(head.Direction, key)
			cap := 0
			if s.PerUserCap != nil {
				cap = s.PerUserCap(head.Login, head.Direction)
			}
			totalCap := s.TotalDownloads
			if head.Direction == Upload {
				totalCap = s.TotalUploads
			}
			admit := (totalCap == 0 || total < totalCap) && (cap == 0 || perUser < cap)
			if admit {
				head.setState(Waiting)
				head.mu.Lock()
				head.waitingAt = time.Now()
				head.mu.Unlock()
				started = append(started, head)
				byKey[key] = ts[1:]
				progressed = true
			}
		}
	}

	s.renumberQueuePositions(byKey)
	return started
}

func (s *Scheduler) renumberQueuePositions(byKey map[string][]*Transfer) {
	for _, ts := range byKey {
		for i, t := range ts {
			pos := i + 1
			t.mu.Lock()
			changed := t.queuePos != pos
			t.queuePos = pos
			t.mu.Unlock()
			if changed && s.onQueueChange != nil {
				s.onQueueChange(t)
			}
		}
	}
}

// SweepWaitingTimeouts drops any Waiting transfer that has not entered
// Running within waitingTimeout, returning it to Queued so the next
// Schedule pass can reconsider it.
func (s *Scheduler) SweepWaitingTimeouts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.queue {
		t.mu.Lock()
		if t.state == Waiting && time.Since(t.waitingAt) > waitingTimeout {
			t.state = Queued
			t.queuedAt = time.Now()
		}
		t.mu.Unlock()
	}
}

// Remove drops a finished or stopped transfer from the scheduler's
// bookkeeping. It does not schedule the next queued transfer; callers do
// that separately.
func (s *Scheduler) Remove(id uint64) {
	s.mu.Lock()
	delete(s.byID, id)
	for i, t := range s.queue {
		if t.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// SpeedLimiter computes the per-chunk sleep for throttling: limit =
// min(global_share, account_limit) where global_share = total_cap /
// active transfers of the same direction (0 total_cap = unlimited).
type SpeedLimiter struct {
	TotalCapBytesPerSec   int64
	AccountLimitBytesPerSec int64
	ActiveCount           func() int
}

func (l SpeedLimiter) limit() int64 {
	var globalShare int64
	if l.TotalCapBytesPerSec > 0 {
		active := int64(1)
		if l.ActiveCount != nil {
			if n := int64(l.ActiveCount()); n > 0 {
				active = n
			}
		}
		globalShare = l.TotalCapBytesPerSec / active
	}
	switch {
	case globalShare == 0:
		return l.AccountLimitBytesPerSec
	case l.AccountLimitBytesPerSec == 0:
		return globalShare
	case globalShare < l.AccountLimitBytesPerSec:
		return globalShare
	default:
		return l.AccountLimitBytesPerSec
	}
}

// Throttle blocks in throttleSleep increments while the transfer's
// measured speed exceeds the computed limit.
func (l SpeedLimiter) Throttle(ctx context.Context, t *Transfer) {
	limit := l.limit()
	if limit <= 0 {
		return
	}
	for t.Speed() > float64(limit) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(throttleSleep):
		}
	}
}

// Run streams a transfer's data fork in full, then its resource fork, in
// chunkSize increments, applying throttling between chunks and honoring
// cooperative cancellation.
func Run(ctx context.Context, t *Transfer, data, resource *os.File, limiter SpeedLimiter) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	t.setState(Running)
	t.mu.Lock()
	t.speedEpoch = time.Now()
	t.mu.Unlock()

	if t.Direction == Download {
		if err := stream(ctx, data, nil, t, limiter, true); err != nil {
			return err
		}
		if resource != nil {
			if err := stream(ctx, resource, nil, t, limiter, false); err != nil {
				return err
			}
		}
	} else {
		if err := stream(ctx, nil, data, t, limiter, true); err != nil {
			return err
		}
		if resource != nil {
			if err := stream(ctx, nil, resource, t, limiter, false); err != nil {
				return err
			}
		}
	}

	t.setState(Stopped)
	return nil
}

// stream copies chunkSize-sized blocks between src (download, read from
// disk) or dst (upload, write to disk) and a notional network peer; in
// this package the peer side is represented abstractly via the
// transfer's byte counters, since the actual socket plumbing is owned by
// the dispatcher (§4.J) which supplies the live connection.
func stream(ctx context.Context, src, dst *os.File, t *Transfer, limiter SpeedLimiter, isData bool) error {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var n int
		var err error
		if src != nil {
			n, err = src.Read(buf)
		} else if dst != nil {
			n, err = dst.Write(buf)
		}
		if n > 0 {
			t.recordBytes(int64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		limiter.Throttle(ctx, t)
	}
}

// UploadOffset returns the resume offset for an in-progress upload: the
// current size of the <realpath>.WiredTransfer staging file, or 0 if it
// doesn't exist yet.
func UploadOffset(stagingPath string) (int64, error) {
	fi, err := os.Stat(stagingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return fi.Size(), nil
}

func StagingPath(realPath string) string { return realPath + ".WiredTransfer" }

// Finalize renames the staging file to its final name, applies the
// executable bit if requested. It returns only an error.
func Finalize(realPath string, executable bool) error {
	staging := StagingPath(realPath)
	if _, err := os.Stat(realPath); err == nil {
		return ErrFileExists
	}
	if err := os.Rename(staging, realPath); err != nil {
		return err
	}
	if executable {
		return os.Chmod(realPath, 0o755)
	}
	return nil
}

// ValidateResumeOffsets checks that requested data/resource offsets do
// not exceed their corresponding sizes (§4.H).
func ValidateResumeOffsets(dataOffset, dataSize, rsrcOffset, rsrcSize int64) error {
	if dataOffset > dataSize || rsrcOffset > rsrcSize {
		return ErrBadOffset
	}
	return nil
}
