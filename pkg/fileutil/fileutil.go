// Package fileutil provides file system utility functions used by the
// demo command to locate score/sample assets on case-sensitive
// filesystems.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindFileCaseInsensitive searches for a file with the given name in the
// specified directory. The search is case-insensitive, which is useful
// for cross-platform compatibility: DOS-era asset names are frequently
// referenced with inconsistent casing.
//
// Example:
//
//	path, err := FindFileCaseInsensitive("/path/to/dir", "DOOM.MUS")
//	// Will find "doom.mus", "Doom.Mus", "DOOM.MUS", etc.
func FindFileCaseInsensitive(dir, filename string) (string, error) {
	searchName := strings.ToLower(filename)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == searchName {
			return filepath.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("file not found: %s (searched in %s)", filename, dir)
}
