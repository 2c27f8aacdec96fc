package chat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJoinPublicRoomNoInvite(t *testing.T) {
	r := NewRegistry("")
	if _, err := r.Join(PublicChatID, 1); err != nil {
		t.Fatalf("join public room: %v", err)
	}
	if !r.Public().IsMember(1) {
		t.Fatalf("expected session 1 to be a member of the public room")
	}
}

func TestPrivateRoomRequiresInvite(t *testing.T) {
	r := NewRegistry("")
	c := r.CreatePrivate(1)

	if _, err := r.Join(c.ID, 2); err != ErrNotInvited {
		t.Fatalf("expected ErrNotInvited, got %v", err)
	}

	if err := r.Invite(c.ID, 2); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := r.Join(c.ID, 2); err != nil {
		t.Fatalf("join after invite: %v", err)
	}
}

func TestPrivateRoomDestroyedWhenEmpty(t *testing.T) {
	r := NewRegistry("")
	c := r.CreatePrivate(1)

	if _, _, err := r.Leave(c.ID, 1); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := r.Get(c.ID); ok {
		t.Fatalf("expected private room to be destroyed once empty")
	}
}

func TestPublicRoomNeverDestroyed(t *testing.T) {
	r := NewRegistry("")
	if _, err := r.Join(PublicChatID, 1); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, _, err := r.Leave(PublicChatID, 1); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := r.Get(PublicChatID); !ok {
		t.Fatalf("expected public room to survive becoming empty")
	}
}

func TestCreatePrivateIDsDoNotCollideWithPublic(t *testing.T) {
	r := NewRegistry("")
	for i := 0; i < 50; i++ {
		c := r.CreatePrivate(1)
		if c.ID == PublicChatID {
			t.Fatalf("private room allocated the reserved public id")
		}
	}
}

func TestSetTopicPersistsPublicOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topic")
	r := NewRegistry(path)

	if err := r.SetTopic(PublicChatID, "alice", "hello world"); err != nil {
		t.Fatalf("set topic: %v", err)
	}
	topic := r.Public().Topic()
	if topic.Text != "hello world" || topic.Nick != "alice" {
		t.Fatalf("topic not updated: %+v", topic)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted topic: %v", err)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Fatalf("public topic not persisted: %q", data)
	}

	priv := r.CreatePrivate(1)
	if err := r.SetTopic(priv.ID, "bob", "private topic"); err != nil {
		t.Fatalf("set private topic: %v", err)
	}
	if priv.Topic().Text != "private topic" {
		t.Fatalf("private topic not set in memory")
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("reread persisted topic: %v", err)
	}
	if strings.Contains(string(data), "private topic") {
		t.Fatalf("private topic was persisted: %q", data)
	}
}

func TestSplitSayLinesDropsEmpty(t *testing.T) {
	lines := SplitSayLines("hello\n\nworld\n")
	if len(lines) != 2 || lines[0] != "hello" || lines[1] != "world" {
		t.Fatalf("unexpected split: %#v", lines)
	}

	if lines := SplitSayLines("\n\n\n"); len(lines) != 0 {
		t.Fatalf("expected zero lines for all-newline input, got %#v", lines)
	}
}

func TestSayProducesOneMessagePerLine(t *testing.T) {
	msgs := Say(PublicChatID, 7, "wired.chat.say", "line one\nline two", nil)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	text, _ := msgs[0].GetString("wired.chat.text")
	if text != "line one" {
		t.Fatalf("unexpected first line text: %q", text)
	}
}

func TestLeaveAllRemovesFromEveryChat(t *testing.T) {
	r := NewRegistry("")
	if _, err := r.Join(PublicChatID, 3); err != nil {
		t.Fatalf("join public: %v", err)
	}
	priv := r.CreatePrivate(3)

	left, destroyed := r.LeaveAll(3)
	if len(left) != 2 {
		t.Fatalf("expected session to leave 2 chats, left=%v", left)
	}
	if len(destroyed) != 1 || destroyed[0] != priv.ID {
		t.Fatalf("expected only the private room destroyed, got %v", destroyed)
	}
	if _, ok := r.Get(PublicChatID); !ok {
		t.Fatalf("public room must survive")
	}
}
