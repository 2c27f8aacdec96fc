// Package news implements the server bulletin: a flat, rwlock-guarded
// file of posts, newest entries kept up to a configurable limit,
// broadcast to the public chat on post.
//
// Grounded on internal/banlist.Banlist for the "one rwlock around a flat
// pattern/record file, rewritten atomically on mutation" shape (unlike the
// banlist, the news file is re-read on every List and Post rather than
// held in memory), translated from IP patterns to news
// posts, and on original_source/wired/news.c's field/post separator
// scheme (0x1C-separated fields, 0x1D-separated posts) which this
// implementation keeps byte-for-byte so the on-disk format matches the
// original server's.
package news

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"wired/internal/atomicfile"
)

const (
	fieldSeparator = "\x1c"
	postSeparator  = "\x1d"
)

// Post is one bulletin entry (§4.G-adjacent component, spec.md §6's
// news.* message category).
type Post struct {
	Nick  string
	Time  time.Time
	Text  string
}

// News guards an on-disk, newest-first post file with a single rwlock,
// matching banlist's one-rwlock-per-file resource model (§5).
type News struct {
	mu    sync.RWMutex
	path  string
	limit int
}

// Open creates path if absent; posts are read from it on each List/Post
// call. limit caps the number of posts
// retained (0 = unlimited), matching spec.md §6's `news_limit` config key.
func Open(path string, limit int) (*News, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &News{path: path, limit: limit}, nil
}

// List returns every stored post, newest first.
func (n *News) List() ([]Post, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.readAll()
}

func (n *News) readAll() ([]Post, error) {
	data, err := os.ReadFile(n.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	raw := strings.Split(string(data), postSeparator)
	posts := make([]Post, 0, len(raw))
	for _, chunk := range raw {
		if chunk == "" {
			continue
		}
		parts := strings.SplitN(chunk, fieldSeparator, 3)
		if len(parts) != 3 {
			continue
		}
		ts, _ := strconv.ParseInt(parts[1], 10, 64)
		posts = append(posts, Post{
			Nick: parts[0],
			Time: time.Unix(ts, 0).UTC(),
			Text: parts[2],
		})
	}
	return posts, nil
}

// Post prepends a new post (nick, now, text) and truncates to limit,
// mirroring wd_news_post_news's "rewrite tmpfile, keep up to newslimit
// entries" pass, returning the stored post for the caller to broadcast.
func (n *News) Post(nick, text string) (Post, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	existing, err := n.readAll()
	if err != nil {
		return Post{}, err
	}
	p := Post{Nick: nick, Time: time.Now(), Text: text}
	all := append([]Post{p}, existing...)
	if n.limit > 0 && len(all) > n.limit {
		all = all[:n.limit]
	}
	if err := n.write(all); err != nil {
		return Post{}, err
	}
	return p, nil
}

// Clear empties the news file.
func (n *News) Clear() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.write(nil)
}

func (n *News) write(posts []Post) error {
	var sb strings.Builder
	for i, p := range posts {
		if i > 0 {
			sb.WriteString(postSeparator)
		}
		sb.WriteString(p.Nick)
		sb.WriteString(fieldSeparator)
		sb.WriteString(strconv.FormatInt(p.Time.Unix(), 10))
		sb.WriteString(fieldSeparator)
		sb.WriteString(p.Text)
	}
	return atomicfile.Write(n.path, []byte(sb.String()), 0o644)
}
