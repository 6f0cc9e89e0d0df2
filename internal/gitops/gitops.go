// Package gitops wraps the git CLI for the hub's version-control requests.
// Every operation is a one-shot subprocess run in the requested directory;
// no state is kept between calls.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/tether-sh/tether/internal/session"
)

// CommandTimeout bounds a single git invocation. Network operations (pull,
// push) can hang on a dead remote; nothing here may block the dispatch loop
// indefinitely.
const CommandTimeout = 60 * time.Second

// Service executes git operations. The zero value is ready to use.
type Service struct{}

// run executes git with args in dir and returns combined output. The error
// includes git's stderr, which is what the remote caller wants to see.
func (Service) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = session.ExpandHome(dir)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %v: %s", args[0], err, bytes.TrimSpace(out.Bytes()))
	}
	return out.String(), nil
}

func (s Service) Status(ctx context.Context, dir string) (string, error) {
	return s.run(ctx, dir, "status", "--porcelain=v1", "--branch")
}

func (s Service) Add(ctx context.Context, dir string, paths []string) (string, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	return s.run(ctx, dir, append([]string{"add", "--"}, paths...)...)
}

func (s Service) Reset(ctx context.Context, dir string, paths []string) (string, error) {
	args := []string{"reset"}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	return s.run(ctx, dir, args...)
}

func (s Service) Commit(ctx context.Context, dir, message string) (string, error) {
	if message == "" {
		return "", fmt.Errorf("commit: empty message")
	}
	return s.run(ctx, dir, "commit", "-m", message)
}

func (s Service) Pull(ctx context.Context, dir string) (string, error) {
	return s.run(ctx, dir, "pull", "--ff-only")
}

func (s Service) Push(ctx context.Context, dir string) (string, error) {
	return s.run(ctx, dir, "push")
}

func (s Service) Diff(ctx context.Context, dir string, paths []string) (string, error) {
	args := []string{"diff"}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	return s.run(ctx, dir, args...)
}

func (s Service) Log(ctx context.Context, dir string, limit int) (string, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.run(ctx, dir, "log", "--oneline", "--decorate", "-n", strconv.Itoa(limit))
}

func (s Service) Branches(ctx context.Context, dir string) (string, error) {
	return s.run(ctx, dir, "branch", "--all", "--no-color")
}

func (s Service) Checkout(ctx context.Context, dir, branch string) (string, error) {
	if branch == "" {
		return "", fmt.Errorf("checkout: empty branch")
	}
	return s.run(ctx, dir, "checkout", branch)
}
