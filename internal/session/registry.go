package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/tether-sh/tether/internal/procinfo"
	"github.com/tether-sh/tether/internal/scrollback"
)

var (
	// ErrDuplicateSession is returned by Spawn when the id is already live.
	ErrDuplicateSession = errors.New("session id already in use")
	// ErrSessionNotFound is returned by operations targeting an unknown id.
	ErrSessionNotFound = errors.New("session not found")
)

const (
	defaultCols         = 80
	defaultRows         = 24
	defaultReapInterval = 60 * time.Second
)

// Event is a session lifecycle notification delivered to the registry's
// event sink (the journal, in production).
type Event struct {
	SessionID string
	Kind      string // "spawned", "exited", "killed", "reaped"
	Shell     string
	ExitCode  int
	Time      time.Time
}

// Options configures a Registry.
type Options struct {
	// ScrollbackBytes caps each session's scrollback buffer. Zero selects
	// the scrollback package default.
	ScrollbackBytes int
	// ReapInterval is how often the idle reaper scans. Zero selects 60s.
	ReapInterval time.Duration
	// OnEvent, if set, receives lifecycle events. Must not block.
	OnEvent func(Event)
}

// Config describes one session to spawn.
type Config struct {
	ID          string
	Shell       string
	Cols, Rows  int
	Dir         string
	IdleTimeout time.Duration // 0 = never expire while detached
}

// Registry owns the map of session id to live session. It is constructed
// once at agent start and torn down (killing every session) at shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	scrollbackBytes int
	reapInterval    time.Duration
	onEvent         func(Event)
	now             func() time.Time
}

// NewRegistry returns an empty registry. Call StartReaper to enable idle
// expiry.
func NewRegistry(opts Options) *Registry {
	interval := opts.ReapInterval
	if interval <= 0 {
		interval = defaultReapInterval
	}
	return &Registry{
		sessions:        make(map[string]*Session),
		scrollbackBytes: opts.ScrollbackBytes,
		reapInterval:    interval,
		onEvent:         opts.OnEvent,
		now:             time.Now,
	}
}

func (r *Registry) emit(ev Event) {
	if r.onEvent != nil {
		ev.Time = r.now()
		r.onEvent(ev)
	}
}

// Spawn starts cfg.Shell attached to a new PTY and registers it under
// cfg.ID. The session starts Attached with sub as its subscriber. An empty
// working directory falls back to the home directory; a leading ~ is
// expanded.
func (r *Registry) Spawn(cfg Config, sub *Subscriber) (*Session, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("spawn: empty session id")
	}
	if cfg.Shell == "" {
		return nil, fmt.Errorf("spawn: empty shell")
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	dir := ExpandHome(cfg.Dir)
	if dir == "" {
		dir, _ = os.UserHomeDir()
	}

	r.mu.Lock()
	if _, ok := r.sessions[cfg.ID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("spawn %q: %w", cfg.ID, ErrDuplicateSession)
	}
	r.mu.Unlock()

	cmd := exec.Command(cfg.Shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("spawn %q: start pty: %w", cfg.ID, err)
	}

	s := &Session{
		ID:          cfg.ID,
		Shell:       cfg.Shell,
		Dir:         dir,
		Pid:         cmd.Process.Pid,
		CreatedAt:   r.now(),
		cols:        cols,
		rows:        rows,
		state:       Attached,
		idleTimeout: cfg.IdleTimeout,
		ptmx:        ptmx,
		cmd:         cmd,
		buf:         scrollback.New(r.scrollbackBytes),
		sub:         sub,
	}

	r.mu.Lock()
	if _, ok := r.sessions[cfg.ID]; ok {
		// Lost the race to a concurrent spawn with the same id.
		r.mu.Unlock()
		ptmx.Close()
		s.terminate()
		go cmd.Wait()
		return nil, fmt.Errorf("spawn %q: %w", cfg.ID, ErrDuplicateSession)
	}
	r.sessions[cfg.ID] = s
	r.mu.Unlock()

	go s.readLoop()
	go r.waitExit(s)

	r.emit(Event{SessionID: s.ID, Kind: "spawned", Shell: s.Shell})
	return s, nil
}

// waitExit reaps the process and, unless the session was killed through the
// registry, fires the exit callback once and removes the entry.
func (r *Registry) waitExit(s *Session) {
	code := 0
	if err := s.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	s.ptmx.Close()

	s.mu.Lock()
	killed := s.killed
	s.exited = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	r.mu.Lock()
	if r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()

	if killed {
		return
	}
	if sub != nil && sub.Exit != nil {
		sub.Exit(code)
	}
	r.emit(Event{SessionID: s.ID, Kind: "exited", Shell: s.Shell, ExitCode: code})
}

// Get returns the session for id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Has reports whether id maps to a live session.
func (r *Registry) Has(id string) bool {
	return r.Get(id) != nil
}

// Write forwards raw bytes to the session's input stream.
func (r *Registry) Write(id string, data []byte) error {
	s := r.Get(id)
	if s == nil {
		return fmt.Errorf("write %q: %w", id, ErrSessionNotFound)
	}
	return s.write(data)
}

// Resize updates the live PTY dimensions and records them on the session.
// Non-positive dimensions are rejected.
func (r *Registry) Resize(id string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("resize %q: dimensions must be positive", id)
	}
	s := r.Get(id)
	if s == nil {
		return fmt.Errorf("resize %q: %w", id, ErrSessionNotFound)
	}
	return s.resize(cols, rows)
}

// Detach clears the subscriber and stamps the detach time. The process keeps
// running and output keeps accumulating in scrollback. Idempotent when
// already detached.
func (r *Registry) Detach(id string) error {
	s := r.Get(id)
	if s == nil {
		return fmt.Errorf("detach %q: %w", id, ErrSessionNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Detached {
		return nil
	}
	s.state = Detached
	s.detachedAt = r.now()
	s.sub = nil
	return nil
}

// Reattach installs sub as the session's subscriber, replacing any stale
// one. The replay callback, if set, receives the scrollback snapshot before
// sub is installed, all under the session lock. Because the read loop
// appends to scrollback and forwards under the same lock, every chunk is
// delivered exactly once, in the replay or in the live stream, and the
// replay always completes first. The callback must not call back into the
// registry.
func (r *Registry) Reattach(id string, sub *Subscriber, replay func([]byte)) error {
	s := r.Get(id)
	if s == nil {
		return fmt.Errorf("reattach %q: %w", id, ErrSessionNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Attached
	s.detachedAt = time.Time{}
	if replay != nil {
		replay(s.buf.Contents())
	}
	s.sub = sub
	return nil
}

// Kill terminates the session's process and removes the entry. No output or
// exit callbacks fire after Kill returns.
func (r *Registry) Kill(id string) error {
	s, err := r.remove(id)
	if err != nil {
		return err
	}
	r.emit(Event{SessionID: s.ID, Kind: "killed", Shell: s.Shell})
	return nil
}

// remove unregisters the session, silences its callbacks, and terminates
// the process.
func (r *Registry) remove(id string) (*Session, error) {
	r.mu.Lock()
	s := r.sessions[id]
	if s == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("kill %q: %w", id, ErrSessionNotFound)
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.mu.Lock()
	s.killed = true
	s.sub = nil
	s.mu.Unlock()

	s.terminate()
	return s, nil
}

// KillAll terminates and removes every session. Used at shutdown.
func (r *Registry) KillAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Kill(id)
	}
}

// List returns a snapshot of every live session.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.snapshot())
	}
	return infos
}

// Cwd resolves the live working directory of the session's innermost
// descendant process. Best-effort: falls back to the spawn-time directory
// when probing fails.
func (r *Registry) Cwd(ctx context.Context, id string) (string, error) {
	s := r.Get(id)
	if s == nil {
		return "", fmt.Errorf("getcwd %q: %w", id, ErrSessionNotFound)
	}
	dir, err := procinfo.SessionCwd(ctx, s.Pid)
	if err != nil {
		return s.Dir, nil
	}
	return dir, nil
}

// StartReaper runs the idle reaper until ctx is cancelled. A detached
// session whose idle timeout has elapsed is killed and removed. Without the
// reaper a forgotten detached PTY leaks a process forever.
func (r *Registry) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ReapIdle()
			}
		}
	}()
}

// ReapIdle scans all sessions and kills any that are detached past their
// idle timeout. Exposed for a single manual sweep; StartReaper calls it on
// an interval.
func (r *Registry) ReapIdle() int {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for id, s := range r.sessions {
		s.mu.Lock()
		idle := s.state == Detached && s.idleTimeout > 0 && now.Sub(s.detachedAt) > s.idleTimeout
		s.mu.Unlock()
		if idle {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, id := range expired {
		s, err := r.remove(id)
		if err != nil {
			continue
		}
		r.emit(Event{SessionID: id, Kind: "reaped", Shell: s.Shell})
		n++
	}
	return n
}

// ExpandHome expands a leading ~ against the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
