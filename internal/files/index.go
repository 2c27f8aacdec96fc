package files

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"wired/internal/atomicfile"
)

// WDIX is the on-disk search index format (§4.G): a small header
// followed by one variable-length entry per indexed file, each carrying
// a pre-serialized protocol.file.search_list row ready to replay onto
// the wire without re-encoding.
//
// Grounded on the teacher's recording.go OGG/Opus container writer: same
// texture of a hand-rolled binary format built with encoding/binary and
// documented by exact byte offsets, rather than a general-purpose
// serialization library, because the format's bit layout is itself part
// of the contract (the in-place patch operations in Search below depend
// on knowing exactly where bytes live).
const (
	wdixMagic   = "WDIX"
	wdixVersion = uint32(6)
)

var ErrBadIndex = errors.New("files: malformed index")

// IndexEntry is one row built by the indexer before serialization.
type IndexEntry struct {
	Name       string
	Row        []byte // pre-serialized protocol.file.search_list message bytes
	IsDir      bool
}

// WriteIndex serializes entries to path using atomic tempfile+rename.
//
// header:   magic (4 bytes), version u32, files_count u32,
//           directories_count u32, files_size u64
// entry[]:  entry_length u32, name_length u32, name NUL-terminated UTF-8,
//           row bytes (entry_length - 4 - name_length bytes; name_length
//           counts the NUL)
func WriteIndex(path string, entries []IndexEntry, filesSize uint64) error {
	var buf bytes.Buffer
	buf.WriteString(wdixMagic)

	var filesCount, dirsCount uint32
	for _, e := range entries {
		if e.IsDir {
			dirsCount++
		} else {
			filesCount++
		}
	}

	writeU32(&buf, wdixVersion)
	writeU32(&buf, filesCount)
	writeU32(&buf, dirsCount)
	writeU64(&buf, filesSize)

	for _, e := range entries {
		nameBytes := append([]byte(e.Name), 0)
		entryLen := uint32(4 + len(nameBytes) + len(e.Row))
		writeU32(&buf, entryLen)
		writeU32(&buf, uint32(len(nameBytes)))
		buf.Write(nameBytes)
		buf.Write(e.Row)
	}

	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

// IndexHeader is the parsed WDIX header.
type IndexHeader struct {
	Version          uint32
	FilesCount       uint32
	DirectoriesCount uint32
	FilesSize        uint64
}

// ReadIndexHeader parses just the header, for reply_archives-style
// summaries without streaming every entry.
func ReadIndexHeader(r io.Reader) (IndexHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return IndexHeader{}, err
	}
	if string(magic[:]) != wdixMagic {
		return IndexHeader{}, ErrBadIndex
	}
	var h IndexHeader
	if err := binary.Read(r, binary.BigEndian, &h.Version); err != nil {
		return IndexHeader{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &h.FilesCount); err != nil {
		return IndexHeader{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &h.DirectoriesCount); err != nil {
		return IndexHeader{}, err
	}
	if err := binary.Read(r, binary.BigEndian, &h.FilesSize); err != nil {
		return IndexHeader{}, err
	}
	return h, nil
}

// Hit is a matched index entry, with its row passed through the
// VisibilityPatcher. Search leaves the row's path as indexed; the caller
// strips an account's files root from it before sending.
type Hit struct {
	Name string
	Row  []byte
}

// VisibilityPatcher recomputes and patches a hit's readable/writable
// bytes in place when the hit is a dropbox entry; supplied by the
// caller, since this package does not know the protocol wire layout for
// "readable"/"writable" byte offsets (spec Non-goal: byte layout is
// unspecified, callers may re-encode instead).
type VisibilityPatcher func(row []byte) []byte

// Search streams index at path, matching name against query
// case-and-normalization-insensitive as a substring, skipping any path in
// tombstones. filesRootPrefix, when non-empty, filters hits to those
// whose name starts with it (an account's files-root scoping).
func Search(path, query, filesRootPrefix string, tombstones map[string]struct{}, patch VisibilityPatcher) ([]Hit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := ReadIndexHeader(f); err != nil {
		return nil, err
	}

	normalizedQuery := normalize(query)
	var hits []Hit
	for {
		var entryLen, nameLen uint32
		if err := binary.Read(f, binary.BigEndian, &entryLen); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if err := binary.Read(f, binary.BigEndian, &nameLen); err != nil {
			return nil, err
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(f, nameBuf); err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(string(nameBuf), "\x00")

		rowLen := int(entryLen) - 4 - int(nameLen)
		if rowLen < 0 {
			return nil, ErrBadIndex
		}
		row := make([]byte, rowLen)
		if _, err := io.ReadFull(f, row); err != nil {
			return nil, err
		}

		if _, dead := tombstones[name]; dead {
			continue
		}
		if filesRootPrefix != "" && !strings.HasPrefix(name, filesRootPrefix) {
			continue
		}
		if !strings.Contains(normalize(name), normalizedQuery) {
			continue
		}
		if patch != nil {
			row = patch(row)
		}
		hits = append(hits, Hit{Name: name, Row: row})
	}
	return hits, nil
}

// normalize folds a name to a form suitable for case- and
// unicode-normalization-insensitive substring matching: NFKD
// decomposition (so combining-mark variants of the same letter compare
// equal) followed by simple lowercasing.
func normalize(s string) string {
	return strings.ToLower(norm.NFKD.String(s))
}

// ArchiveFilename returns the rollover filename for an index or event
// log taken at t, matching the event log's <rfc3339> convention.
func ArchiveFilename(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, t.UTC().Format(time.RFC3339))
}

// IndexPath returns the fixed on-disk path for the live search index
// under dataDir.
func IndexPath(dataDir string) string {
	return filepath.Join(dataDir, "search.wdix")
}
