//go:build linux

package procinfo

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// cwd reads the /proc/<pid>/cwd symlink.
func cwd(ctx context.Context, pid int) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	dir, err := os.Readlink("/proc/" + strconv.Itoa(pid) + "/cwd")
	if err != nil {
		return "", ErrUnknown
	}
	return dir, nil
}

// children scans /proc for processes whose PPID is pid. The stat file's comm
// field may contain spaces and parens, so the PPID is parsed after the last
// closing paren.
func children(ctx context.Context, pid int) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, ErrUnknown
	}
	var kids []int
	for _, e := range entries {
		if ctx.Err() != nil {
			return kids, ctx.Err()
		}
		p, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile("/proc/" + e.Name() + "/stat")
		if err != nil {
			continue
		}
		s := string(data)
		i := strings.LastIndexByte(s, ')')
		if i < 0 {
			continue
		}
		fields := strings.Fields(s[i+1:])
		if len(fields) < 2 {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil || ppid != pid {
			continue
		}
		kids = append(kids, p)
	}
	return kids, nil
}
