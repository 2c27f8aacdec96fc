package news

import (
	"path/filepath"
	"testing"
)

func TestPostAndListNewestFirst(t *testing.T) {
	n, err := Open(filepath.Join(t.TempDir(), "news"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := n.Post("alice", "first"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if _, err := n.Post("bob", "second"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	posts, err := n.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].Nick != "bob" || posts[0].Text != "second" {
		t.Fatalf("expected newest post first, got %+v", posts[0])
	}
	if posts[1].Nick != "alice" || posts[1].Text != "first" {
		t.Fatalf("expected oldest post last, got %+v", posts[1])
	}
}

func TestPostTruncatesToLimit(t *testing.T) {
	n, _ := Open(filepath.Join(t.TempDir(), "news"), 2)
	n.Post("a", "1")
	n.Post("b", "2")
	n.Post("c", "3")
	posts, err := n.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected limit of 2 posts, got %d", len(posts))
	}
	if posts[0].Text != "3" || posts[1].Text != "2" {
		t.Fatalf("expected newest two posts retained, got %+v", posts)
	}
}

func TestClearEmptiesNews(t *testing.T) {
	n, _ := Open(filepath.Join(t.TempDir(), "news"), 0)
	n.Post("a", "1")
	if err := n.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	posts, err := n.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected no posts after Clear, got %+v", posts)
	}
}

func TestListOnFreshStoreIsEmpty(t *testing.T) {
	n, err := Open(filepath.Join(t.TempDir(), "news"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	posts, err := n.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected no posts on a fresh store, got %+v", posts)
	}
}
