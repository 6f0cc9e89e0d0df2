// Package procinfo inspects live processes: the working directory of a PID
// and the innermost descendant of a process tree. Shells change directory
// without telling anyone, so this is the only way to report where a session
// actually is. Everything here is best-effort and bounded by the caller's
// context; a probe that fails degrades to "unknown", it never blocks the
// event loop.
package procinfo

import (
	"context"
	"errors"
	"time"
)

// ErrUnknown is returned when the platform cannot determine the answer.
var ErrUnknown = errors.New("procinfo: unknown")

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 3 * time.Second

// Cwd returns the current working directory of pid, or ErrUnknown.
func Cwd(ctx context.Context, pid int) (string, error) {
	return cwd(ctx, pid)
}

// DeepestDescendant walks the process tree under root and returns the
// innermost live descendant PID. When several descendants sit at the same
// depth the last-discovered one wins. Returns root itself when the process
// has no children.
func DeepestDescendant(ctx context.Context, root int) int {
	deepest := root
	frontier := []int{root}
	for len(frontier) > 0 {
		if ctx.Err() != nil {
			return deepest
		}
		var next []int
		for _, pid := range frontier {
			kids, err := children(ctx, pid)
			if err != nil {
				continue
			}
			next = append(next, kids...)
		}
		if len(next) > 0 {
			deepest = next[len(next)-1]
		}
		frontier = next
	}
	return deepest
}

// SessionCwd resolves the working directory of the innermost descendant of
// root under DefaultTimeout. The foreground child (the shell's current
// command, or the shell itself) is what the user thinks of as "the session".
func SessionCwd(ctx context.Context, root int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	pid := DeepestDescendant(ctx, root)
	return cwd(ctx, pid)
}
