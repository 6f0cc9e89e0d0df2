// Package files implements the stateless file operations exposed to the
// hub. Each operation is a plain request-in/response-out wrapper around the
// OS; paths with a leading ~ are expanded against the home directory.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tether-sh/tether/internal/session"
)

// Entry describes one file or directory.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	Mode    string
	ModTime time.Time
}

// Service executes file operations. The zero value is ready to use.
type Service struct{}

func clean(path string) string {
	return filepath.Clean(session.ExpandHome(path))
}

// List returns the entries of a directory.
func (Service) List(path string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(clean(path))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		e := Entry{Name: de.Name(), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil {
			e.Size = info.Size()
			e.Mode = info.Mode().String()
			e.ModTime = info.ModTime()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Read returns the contents of a file.
func (Service) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Write writes data to a file, creating it if needed.
func (Service) Write(path string, data []byte) error {
	if err := os.WriteFile(clean(path), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Delete removes a file or an empty directory.
func (Service) Delete(path string) error {
	if err := os.Remove(clean(path)); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Mkdir creates a directory and any missing parents.
func (Service) Mkdir(path string) error {
	if err := os.MkdirAll(clean(path), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// Rename moves a file or directory.
func (Service) Rename(oldPath, newPath string) error {
	if err := os.Rename(clean(oldPath), clean(newPath)); err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	return nil
}

// Stat returns metadata for one path.
func (Service) Stat(path string) (Entry, error) {
	info, err := os.Stat(clean(path))
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Entry{
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		Mode:    info.Mode().String(),
		ModTime: info.ModTime(),
	}, nil
}
