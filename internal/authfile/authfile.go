// Package authfile provisions credential files pushed down from the hub and
// watches them for drift. A credential written by auth:deploy should only
// ever change through another deploy; external modification is worth a log
// line because it usually means something on the host is fighting the hub.
package authfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tether-sh/tether/internal/session"
)

// Status describes the state of a credential file.
type Status struct {
	Present    bool
	ModifiedAt time.Time
}

// Service deploys credential files and tracks drift on the ones it wrote.
type Service struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	watched map[string]bool
}

func NewService() *Service {
	return &Service{watched: make(map[string]bool)}
}

// Deploy writes content to path with owner-only permissions, creating parent
// directories as needed, and starts watching the file for external changes.
func (s *Service) Deploy(path string, content []byte) error {
	p := session.ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return fmt.Errorf("deploy %s: %w", path, err)
	}
	if err := os.WriteFile(p, content, 0600); err != nil {
		return fmt.Errorf("deploy %s: %w", path, err)
	}
	s.watch(p)
	return nil
}

// Check reports whether the credential file exists and when it last changed.
func (s *Service) Check(path string) (Status, error) {
	info, err := os.Stat(session.ExpandHome(path))
	if os.IsNotExist(err) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("status %s: %w", path, err)
	}
	return Status{Present: true, ModifiedAt: info.ModTime()}, nil
}

// watch registers path with the drift watcher, creating it lazily. Watch
// failures are logged, not returned: drift detection is advisory.
func (s *Service) watch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("credential watch unavailable", "err", err)
			return
		}
		s.watcher = w
		go s.drainEvents(w)
	}
	if s.watched[path] {
		return
	}
	if err := s.watcher.Add(path); err != nil {
		slog.Warn("credential watch failed", "path", path, "err", err)
		return
	}
	s.watched[path] = true
}

func (s *Service) drainEvents(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) != 0 {
				slog.Warn("credential file changed outside deploy", "path", ev.Name, "op", ev.Op.String())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("credential watch error", "err", err)
		}
	}
}

// Close stops the drift watcher.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	s.watched = make(map[string]bool)
	return err
}
