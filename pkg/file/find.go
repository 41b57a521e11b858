// Package file holds the temp-directory helpers used around audio artifacts.
package file

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FindOlderThan lists regular files directly under dir last modified before cutoff.
func FindOlderThan(dir string, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var stale []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(dir, entry.Name()))
		}
	}
	return stale, nil
}

// FindByPrefix lists regular files directly under dir whose name starts with prefix.
func FindByPrefix(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			ret = append(ret, filepath.Join(dir, entry.Name()))
		}
	}
	return ret, nil
}

// RemoveQuietly deletes path; a missing file is not an error.
func RemoveQuietly(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReplaceExt swaps the extension of path's base name for ext, adding a leading
// dot when missing. A dot-file or extension-less name gets ext appended.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return ""
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	dir, name := filepath.Split(path)
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return filepath.Join(dir, name+ext)
}
