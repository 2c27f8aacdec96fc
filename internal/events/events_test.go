package events

import (
	"testing"
)

func TestAddAndReplyEvents(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if !l.Add("login", "alice", "alice", "10.0.0.1", nil) {
		t.Fatalf("expected first login event to be accepted")
	}
	evs, err := l.ReplyEvents("")
	if err != nil {
		t.Fatalf("ReplyEvents: %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != "login" {
		t.Fatalf("expected one login event, got %+v", evs)
	}
}

func TestNoisyKindDeduped(t *testing.T) {
	l, _ := Open(t.TempDir())
	defer l.Close()

	if !l.Add("got_users", "alice", "alice", "10.0.0.1", nil) {
		t.Fatalf("expected first got_users event to be accepted")
	}
	if l.Add("got_users", "alice", "alice", "10.0.0.1", nil) {
		t.Fatalf("expected repeat got_users from same actor to be suppressed")
	}
	evs, _ := l.ReplyEvents("")
	if len(evs) != 1 {
		t.Fatalf("expected exactly one event after dedupe, got %d", len(evs))
	}
}

func TestNoisyKindNotDedupedAcrossActors(t *testing.T) {
	l, _ := Open(t.TempDir())
	defer l.Close()

	l.Add("got_users", "alice", "alice", "10.0.0.1", nil)
	if !l.Add("got_users", "bob", "bob", "10.0.0.2", nil) {
		t.Fatalf("expected got_users from a different actor to be accepted")
	}
}

func TestNonNoisyKindNotDeduped(t *testing.T) {
	l, _ := Open(t.TempDir())
	defer l.Close()

	l.Add("say", "alice", "alice", "10.0.0.1", nil)
	if !l.Add("say", "alice", "alice", "10.0.0.1", nil) {
		t.Fatalf("expected repeated non-noisy kind to be accepted")
	}
	evs, _ := l.ReplyEvents("")
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
}

func TestArchiveRollover(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	for i := 0; i < ringCapacity; i++ {
		l.Add("say", "alice", "alice", "10.0.0.1", nil)
	}
	// The ring rolls over into an archive once it hits capacity.
	archives, err := l.ReplyArchives()
	if err != nil {
		t.Fatalf("ReplyArchives: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected 1 archive after filling the ring, got %d", len(archives))
	}
	evs, err := l.ReplyEvents(archives[0])
	if err != nil {
		t.Fatalf("ReplyEvents(archive): %v", err)
	}
	if len(evs) != ringCapacity {
		t.Fatalf("expected archive to hold %d events, got %d", ringCapacity, len(evs))
	}
	current, _ := l.ReplyEvents("")
	if len(current) != 0 {
		t.Fatalf("expected fresh ring after rollover, got %d events", len(current))
	}
}

func TestOnEventFanout(t *testing.T) {
	l, _ := Open(t.TempDir())
	defer l.Close()

	var got []Event
	l.SetOnEvent(func(e Event) { got = append(got, e) })
	l.Add("say", "alice", "alice", "10.0.0.1", nil)
	l.Add("got_users", "alice", "alice", "10.0.0.1", nil)
	l.Add("got_users", "alice", "alice", "10.0.0.1", nil) // suppressed, no fan-out

	if len(got) != 2 {
		t.Fatalf("expected 2 fanned-out events, got %d", len(got))
	}
}
