// Package assets bundles the placeholder images shown when a seeded record
// has no usable avatar, cover or page.
package assets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type Kind string

const (
	Avatar Kind = "avatar"
	Cover  Kind = "cover"
	Page   Kind = "page"
)

//go:embed images/*.png
var imagesFS embed.FS

var files = map[Kind]string{
	Avatar: "images/default-avatar.png",
	Cover:  "images/default-cover.png",
	Page:   "images/placeholder-page.png",
}

// Placeholder returns the bundled PNG for kind.
func Placeholder(kind Kind) ([]byte, error) {
	name, ok := files[kind]
	if !ok {
		return nil, fmt.Errorf("no placeholder for %q", kind)
	}
	return imagesFS.ReadFile(name)
}

// Install writes the placeholder for kind to diskPath unless a file is
// already there. It reports whether it wrote anything; an operator's own
// image is never replaced.
func Install(kind Kind, diskPath string) (bool, error) {
	if _, err := os.Stat(diskPath); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	data, err := Placeholder(kind)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(diskPath), 0755); err != nil {
		return false, err
	}
	if err := os.WriteFile(diskPath, data, 0644); err != nil {
		return false, err
	}
	return true, nil
}
