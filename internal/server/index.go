package server

import (
	"os"
	"path/filepath"

	"wired/internal/files"
	"wired/internal/protocol"
)

// rebuildSearchIndex walks the entire files root and writes a fresh WDIX
// search index (§4.G), run once at startup and on cfg.IndexTime's ticker
// (§8). Each entry's row is the exact file.search_list message bytes a
// search reply later replays verbatim via Session.SendRaw.
func (s *Server) rebuildSearchIndex() error {
	root := s.Config.Files
	s.clearTombstones()
	var entries []files.IndexEntry
	var filesSize uint64

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole rebuild
		}
		if path == root {
			return nil
		}
		if info.Name() == ".meta" {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		virtual := mustRel(root, path)

		ft, _ := files.FolderTypeOf(path)
		row, err := protocol.EncodeMessage(protocol.New("wired.file.search_list").
			SetString("wired.file.path", virtual).
			SetUint32("wired.file.type", folderTypeWire(ft)).
			SetUint64("wired.transfer.data_size", uint64(info.Size())).
			SetString("wired.file.comment", files.GetComment(path)))
		if err != nil {
			return nil
		}

		entries = append(entries, files.IndexEntry{
			Name:  virtual,
			Row:   row,
			IsDir: info.IsDir(),
		})
		if !info.IsDir() {
			filesSize += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return err
	}

	return files.WriteIndex(files.IndexPath(s.dataDir), entries, filesSize)
}

func mustRel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
