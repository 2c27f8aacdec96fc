// Package atomicfile writes files so that readers never observe a partial
// write: the new content is written to a temp file in the target directory
// and then renamed into place, matching the write-into-tempfile-then-move
// idiom §7 requires for the index and for permission sidecars (and, by
// extension, for every other store that must never expose a half-written
// file: accounts, groups, boards, topics).
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write atomically replaces path's content with data. mode is applied to
// the temp file before the rename so the final file's permissions are
// correct even on filesystems where rename doesn't preserve them.
func Write(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
