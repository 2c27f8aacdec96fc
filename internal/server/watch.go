package server

import (
	"github.com/fsnotify/fsnotify"

	"wired/internal/protocol"
)

// onFileChanged is the WatchHub callback (component M): fan the change
// out to every session subscribed to the exact real directory that
// fired, matching the teacher's per-channel membership fan-out
// generalized from voice-channel state to file-tree subscriptions.
func (s *Server) onFileChanged(path string, event fsnotify.Event) {
	s.notifyPathChanged(path)
}

// notifyPathChanged sends a directory_changed notice to every session
// subscribed to path, used both by the fsnotify callback and directly by
// handlers that mutate a directory themselves (move/delete/mkdir),
// since those operations may not produce a fsnotify event on the parent
// before the reply races the client's next list_directory.
func (s *Server) notifyPathChanged(path string) {
	s.Bcast.BroadcastPath(path, protocol.New("wired.file.directory_changed").
		SetString("wired.file.path", path))
}
