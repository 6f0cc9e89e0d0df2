// Package session owns the lifecycle of interactive PTY sessions: spawn,
// input/output forwarding, resize, detach, reattach, idle expiry, and
// termination. The PTY itself never learns about attachment state: output
// always lands in the scrollback buffer, and only the forwarding
// subscription changes. That separation is what makes detach/reattach
// lossless.
package session

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/tether-sh/tether/internal/scrollback"
)

// State is the attachment state of a session.
type State int

const (
	// Attached means a live subscriber is registered and receives output.
	Attached State = iota
	// Detached means the process keeps running but output only accumulates
	// in scrollback.
	Detached
)

func (s State) String() string {
	if s == Attached {
		return "attached"
	}
	return "detached"
}

// Subscriber receives a session's events. A session holds at most one
// subscriber at a time; replacing it is atomic, so a reattach that races a
// stale connection can never double-deliver output.
type Subscriber struct {
	// Output receives each PTY chunk in the exact order the process
	// produced it. It runs with the session lock held and must not call
	// back into the registry.
	Output func(data []byte)
	// Exit receives the process exit code, at most once.
	Exit func(code int)
}

// Session is one spawned process bound to a pseudo-terminal.
type Session struct {
	ID        string
	Shell     string
	Dir       string
	Pid       int
	CreatedAt time.Time

	mu          sync.Mutex
	cols, rows  int
	state       State
	detachedAt  time.Time
	idleTimeout time.Duration
	ptmx        *os.File
	cmd         *exec.Cmd
	buf         *scrollback.Buffer
	sub         *Subscriber
	killed      bool
	exited      bool
}

// Info is a read-only snapshot of a session, used to let a reconnecting
// client discover which sessions survived an outage.
type Info struct {
	ID          string    `json:"session_id"`
	Shell       string    `json:"shell"`
	Cols        int       `json:"cols"`
	Rows        int       `json:"rows"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	DetachedAt  time.Time `json:"detached_at,omitempty"`
	IdleTimeout int64     `json:"idle_timeout_ms,omitempty"`
}

func (s *Session) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:          s.ID,
		Shell:       s.Shell,
		Cols:        s.cols,
		Rows:        s.rows,
		State:       s.state.String(),
		CreatedAt:   s.CreatedAt,
		DetachedAt:  s.detachedAt,
		IdleTimeout: s.idleTimeout.Milliseconds(),
	}
}

// Size returns the current PTY dimensions.
func (s *Session) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// State returns the current attachment state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// readLoop pumps PTY output into scrollback and the subscriber slot until
// the PTY closes. Chunks are copied because the read buffer is reused.
// The buffer append and the forward happen in one locked step: a concurrent
// Reattach can therefore never capture a chunk in its replay snapshot and
// have the same chunk forwarded live.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.mu.Lock()
			s.buf.Write(data)
			if s.sub != nil && s.sub.Output != nil {
				s.sub.Output(data)
			}
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) resize(cols, rows int) error {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	ptmx := s.ptmx
	s.mu.Unlock()
	return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (s *Session) write(data []byte) error {
	_, err := s.ptmx.Write(data)
	return err
}

// terminate asks the process to exit and force-kills it if it lingers.
func (s *Session) terminate() {
	if s.cmd.Process == nil {
		return
	}
	s.cmd.Process.Signal(syscall.SIGTERM)
	go func(p *os.Process) {
		time.Sleep(5 * time.Second)
		if p.Signal(syscall.Signal(0)) == nil {
			p.Kill()
		}
	}(s.cmd.Process)
}
