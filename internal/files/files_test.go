package files

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidatePathRejectsEscape(t *testing.T) {
	cases := []string{"../x", "a/../b", "/abs", "a//b"}
	for _, c := range cases {
		if err := ValidatePath(c); err != ErrInvalidPath {
			t.Fatalf("expected ErrInvalidPath for %q, got %v", c, err)
		}
	}
	if err := ValidatePath("a/b/c"); err != nil {
		t.Fatalf("expected valid path to pass: %v", err)
	}
}

func TestResolveAppliesFilesRootOverride(t *testing.T) {
	tree := NewTree("/data")
	real, err := tree.Resolve("docs/readme.txt", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if real != filepath.Join("/data", "docs/readme.txt") {
		t.Fatalf("unexpected real path: %s", real)
	}

	real2, err := tree.Resolve("docs/readme.txt", "alice")
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if real2 != filepath.Join("/data", "alice", "docs/readme.txt") {
		t.Fatalf("unexpected overridden path: %s", real2)
	}
}

func TestFolderTypeSidecarRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "incoming")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	ft, err := FolderTypeOf(sub)
	if err != nil || ft != TypeDir {
		t.Fatalf("expected default TypeDir, got %v err=%v", ft, err)
	}

	if err := SetFolderType(sub, TypeUploads); err != nil {
		t.Fatalf("set type: %v", err)
	}
	ft, err = FolderTypeOf(sub)
	if err != nil || ft != TypeUploads {
		t.Fatalf("expected TypeUploads, got %v err=%v", ft, err)
	}

	if err := SetFolderType(sub, TypeDir); err != nil {
		t.Fatalf("reset type: %v", err)
	}
	ft, _ = FolderTypeOf(sub)
	if ft != TypeDir {
		t.Fatalf("expected type reset to dir, got %v", ft)
	}
}

func TestListSkipsChildrenOfUnreadableDropbox(t *testing.T) {
	dir := t.TempDir()
	drop := filepath.Join(dir, "drop")
	if err := os.MkdirAll(filepath.Join(drop, "secret"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(drop, "secret", "x.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SetFolderType(drop, TypeDropbox); err != nil {
		t.Fatal(err)
	}
	if err := WriteDropboxACL(drop, DropboxACL{Owner: "alice", Mode: 0}); err != nil {
		t.Fatal(err)
	}

	tree := NewTree(dir)
	vis := func(acl DropboxACL) (bool, bool) { return false, false }
	entries, err := tree.List("", "", true, 0, vis, "vol1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	for _, e := range entries {
		if e.VirtualPath == "drop/secret" || e.VirtualPath == "drop/secret/x.txt" {
			t.Fatalf("expected children of unreadable dropbox to be skipped, found %s", e.VirtualPath)
		}
	}
	found := false
	for _, e := range entries {
		if e.VirtualPath == "drop" {
			found = true
			if e.Readable {
				t.Fatalf("expected dropbox row itself to report unreadable")
			}
		}
	}
	if !found {
		t.Fatalf("expected dropbox directory itself to still appear in listing")
	}
}

func TestListOfUnreadableDropboxItselfReturnsNoEntries(t *testing.T) {
	dir := t.TempDir()
	drop := filepath.Join(dir, "drop")
	if err := os.MkdirAll(drop, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(drop, "f.dat"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SetFolderType(drop, TypeDropbox); err != nil {
		t.Fatal(err)
	}
	if err := WriteDropboxACL(drop, DropboxACL{Owner: "alice", Mode: 2}); err != nil {
		t.Fatal(err)
	}

	tree := NewTree(dir)
	vis := func(acl DropboxACL) (bool, bool) { return false, acl.Mode&2 != 0 }
	entries, err := tree.List("drop", "", true, 0, vis, "vol1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, e := range entries {
		if e.VirtualPath == "drop/f.dat" {
			t.Fatalf("expected no entries when listing an unreadable dropbox directly, found %s", e.VirtualPath)
		}
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty listing for unreadable dropbox, got %v", entries)
	}
}

func TestMoveCarriesCommentSidecar(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(orig, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := SetComment(orig, "a note"); err != nil {
		t.Fatalf("set comment: %v", err)
	}

	dest := filepath.Join(dir, "b.txt")
	if err := Move(orig, dest); err != nil {
		t.Fatalf("move: %v", err)
	}
	if GetComment(dest) != "a note" {
		t.Fatalf("expected comment to follow the moved file, got %q", GetComment(dest))
	}
}

func TestWriteIndexAndReadHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search.wdix")

	entries := []IndexEntry{
		{Name: "readme.txt", Row: []byte("row-bytes-1")},
		{Name: "docs", Row: []byte("row-bytes-2"), IsDir: true},
	}
	if err := WriteIndex(path, entries, 1024); err != nil {
		t.Fatalf("write index: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	h, err := ReadIndexHeader(f)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.FilesCount != 1 || h.DirectoriesCount != 1 || h.FilesSize != 1024 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestSearchMatchesSubstringCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search.wdix")
	entries := []IndexEntry{
		{Name: "Readme.TXT", Row: []byte("row1")},
		{Name: "other.bin", Row: []byte("row2")},
	}
	if err := WriteIndex(path, entries, 0); err != nil {
		t.Fatal(err)
	}

	hits, err := Search(path, "readme", "", nil, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Name != "Readme.TXT" {
		t.Fatalf("expected 1 case-insensitive hit, got %+v", hits)
	}
}

func TestSearchSuppressesTombstonedPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search.wdix")
	entries := []IndexEntry{{Name: "gone.txt", Row: []byte("row")}}
	if err := WriteIndex(path, entries, 0); err != nil {
		t.Fatal(err)
	}

	hits, err := Search(path, "gone", "", map[string]struct{}{"gone.txt": {}}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected tombstoned hit to be suppressed, got %+v", hits)
	}
}

func TestArchiveFilenameFormat(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	name := ArchiveFilename("search", ts)
	want := "search-2026-01-02T03:04:05Z"
	if name != want {
		t.Fatalf("unexpected archive filename: got %q want %q", name, want)
	}
}
