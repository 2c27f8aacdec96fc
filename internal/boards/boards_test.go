package boards

import (
	"testing"
	"time"
)

func TestAddBoardAndReadACL(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	acl := ACL{Owner: "alice", Group: "staff", Mode: ModeOwnerRead | ModeOwnerWrite}
	if err := s.AddBoard("general", acl); err != nil {
		t.Fatalf("add board: %v", err)
	}
	got, err := s.ReadACL("general")
	if err != nil {
		t.Fatalf("read acl: %v", err)
	}
	if got != acl {
		t.Fatalf("acl mismatch: got %+v want %+v", got, acl)
	}
}

func TestAddBoardRejectsDuplicateAndInvalidPath(t *testing.T) {
	s, _ := Open(t.TempDir())
	acl := ACL{Owner: "alice", Mode: ModeEveryoneRead}
	if err := s.AddBoard("general", acl); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddBoard("general", acl); err != ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if err := s.AddBoard("../escape", acl); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestACLReadableWritable(t *testing.T) {
	acl := ACL{Owner: "alice", Group: "staff", Mode: ModeOwnerRead | ModeGroupWrite}
	if !acl.Readable("alice", "nobody", false) {
		t.Fatalf("owner should have read")
	}
	if acl.Writable("alice", "nobody", false) {
		t.Fatalf("owner lacks owner_write bit, should not be writable")
	}
	if !acl.Writable("bob", "staff", false) {
		t.Fatalf("group member should have write via group_write bit")
	}
	if acl.Readable("bob", "staff", false) {
		t.Fatalf("group lacks read bit, should not be readable")
	}
	if !acl.Readable("stranger", "nobody", true) {
		t.Fatalf("admin override should always read")
	}
}

func TestThreadsAndPostsRoundTrip(t *testing.T) {
	s, _ := Open(t.TempDir())
	_ = s.AddBoard("general", ACL{Owner: "alice", Mode: ModeEveryoneRead | ModeEveryoneWrite})

	threadID, err := s.AddThread("general")
	if err != nil {
		t.Fatalf("add thread: %v", err)
	}
	post := Post{AuthorNick: "alice", AuthorLogin: "alice", Subject: "hi", Text: "hello", Posted: time.Now()}
	if err := s.AddPost("general", threadID, post); err != nil {
		t.Fatalf("add post: %v", err)
	}

	threads, err := s.ListPosts("general")
	if err != nil {
		t.Fatalf("list posts: %v", err)
	}
	if len(threads) != 1 || len(threads[0].Posts) != 1 {
		t.Fatalf("expected 1 thread with 1 post, got %+v", threads)
	}
	if threads[0].Posts[0].Text != "hello" {
		t.Fatalf("unexpected post text: %q", threads[0].Posts[0].Text)
	}
}

func TestEditAndDeletePost(t *testing.T) {
	s, _ := Open(t.TempDir())
	_ = s.AddBoard("general", ACL{Owner: "alice", Mode: ModeEveryoneRead | ModeEveryoneWrite})
	threadID, _ := s.AddThread("general")
	_ = s.AddPost("general", threadID, Post{AuthorNick: "alice", AuthorLogin: "alice", Text: "v1", Posted: time.Now()})

	threads, _ := s.ListPosts("general")
	postID := threads[0].Posts[0].UUID

	edited, err := s.EditPost("general", threadID, postID, "subj", "v2", time.Now())
	if err != nil {
		t.Fatalf("edit post: %v", err)
	}
	if edited.Text != "v2" || edited.Edited.IsZero() {
		t.Fatalf("edit not applied: %+v", edited)
	}

	if err := s.DeletePost("general", threadID, postID); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	if err := s.DeletePost("general", threadID, postID); err != ErrPostNotFound {
		t.Fatalf("expected ErrPostNotFound on second delete, got %v", err)
	}
}

func TestRewriteOwnerCascadesAcrossBoards(t *testing.T) {
	s, _ := Open(t.TempDir())
	_ = s.AddBoard("a", ACL{Owner: "alice", Group: "staff", Mode: ModeOwnerRead})
	_ = s.AddBoard("b", ACL{Owner: "bob", Group: "alice", Mode: ModeOwnerRead})

	changed, err := s.RewriteOwner("alice", "alice2")
	if err != nil {
		t.Fatalf("rewrite owner: %v", err)
	}
	if len(changed) != 2 {
		t.Fatalf("expected both boards reported touched, got %v", changed)
	}

	aACL, _ := s.ReadACL("a")
	if aACL.Owner != "alice2" {
		t.Fatalf("expected owner rewritten on board a, got %q", aACL.Owner)
	}
	bACL, _ := s.ReadACL("b")
	if bACL.Group != "alice2" {
		t.Fatalf("expected group rewritten on board b, got %q", bACL.Group)
	}
	if bACL.Owner != "bob" {
		t.Fatalf("unrelated owner should be untouched, got %q", bACL.Owner)
	}
}

func TestListBoardsSorted(t *testing.T) {
	s, _ := Open(t.TempDir())
	_ = s.AddBoard("zeta", ACL{Owner: "a", Mode: ModeEveryoneRead})
	_ = s.AddBoard("alpha", ACL{Owner: "a", Mode: ModeEveryoneRead})

	list, err := s.ListBoards()
	if err != nil {
		t.Fatalf("list boards: %v", err)
	}
	if len(list) != 2 || list[0].Path != "alpha" || list[1].Path != "zeta" {
		t.Fatalf("expected sorted boards, got %+v", list)
	}
}
