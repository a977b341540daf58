package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a relative path would escape its base.
var ErrPathTraversal = errors.New("path escapes base directory")

// SafeJoin joins rel onto base and refuses results outside base. A leading
// slash on rel is treated as relative to base, so public URL paths such as
// "/uploads/a.jpg" map under the media root.
func SafeJoin(base, rel string) (string, error) {
	rel = strings.TrimLeft(filepath.FromSlash(rel), string(filepath.Separator))
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, rel)
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, ErrPathTraversal)
	}
	return joined, nil
}

// EnsureWritableDir creates dir when missing and verifies files can be
// written into it.
func EnsureWritableDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory path cannot be empty")
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("path exists but is not a directory: %s", dir)
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	case err != nil:
		return fmt.Errorf("cannot access path: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".comicvault-write-check-*")
	if err != nil {
		return fmt.Errorf("no write permission for %s: %w", dir, err)
	}
	name := tmp.Name()
	tmp.Close()
	return os.Remove(name)
}
