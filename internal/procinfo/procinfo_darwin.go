//go:build darwin

package procinfo

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
)

// cwd shells out to lsof; macOS has no /proc.
func cwd(ctx context.Context, pid int) (string, error) {
	out, err := exec.CommandContext(ctx, "lsof", "-a", "-d", "cwd", "-p", strconv.Itoa(pid), "-Fn").Output()
	if err != nil {
		return "", ErrUnknown
	}
	// -F output: one field per line, "n" prefixes the name field.
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "n") && len(line) > 1 {
			return line[1:], nil
		}
	}
	return "", ErrUnknown
}

func children(ctx context.Context, pid int) ([]int, error) {
	out, err := exec.CommandContext(ctx, "pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		// pgrep exits 1 when there are no matches.
		return nil, nil
	}
	var kids []int
	for _, f := range strings.Fields(string(out)) {
		p, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		kids = append(kids, p)
	}
	return kids, nil
}
