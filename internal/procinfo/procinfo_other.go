//go:build !linux && !darwin

package procinfo

import "context"

func cwd(ctx context.Context, pid int) (string, error) {
	return "", ErrUnknown
}

func children(ctx context.Context, pid int) ([]int, error) {
	return nil, ErrUnknown
}
