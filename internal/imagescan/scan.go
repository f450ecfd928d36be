// Package imagescan finds the most recently created image in an output
// directory and watches that directory for new images.
package imagescan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry describes a matching file found by a scan.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// TimeFunc reports the timestamp a scan orders files by.
type TimeFunc func(path string, info fs.FileInfo) time.Time

// Scanner lists a single directory level. The zero value orders by
// CreationTime.
type Scanner struct {
	Created TimeFunc
}

var defaultScanner = &Scanner{}

// Latest returns the name of the file in dir with the given extension and
// the most recent creation time, or "" when no file matches.
func Latest(dir, ext string) (string, error) {
	return defaultScanner.Latest(dir, ext)
}

// LatestEntry is Latest with file details.
func LatestEntry(dir, ext string) (Entry, bool, error) {
	return defaultScanner.LatestEntry(dir, ext)
}

func (s *Scanner) Latest(dir, ext string) (string, error) {
	entry, ok, err := s.LatestEntry(dir, ext)
	if err != nil || !ok {
		return "", err
	}
	return entry.Name, nil
}

func (s *Scanner) LatestEntry(dir, ext string) (Entry, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read image directory %s: %w", dir, err)
	}

	created := s.Created
	if created == nil {
		created = CreationTime
	}

	var best Entry
	found := false
	for _, de := range entries {
		if de.IsDir() || !HasExtension(de.Name(), ext) {
			continue
		}

		path := filepath.Join(dir, de.Name())
		info, err := os.Stat(path)
		if err != nil {
			// Removed between listing and stat.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Entry{}, false, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}

		ts := created(path, info)
		// Ties go to the later name, ReadDir returns entries sorted by name.
		if !found || !ts.Before(best.Created) {
			best = Entry{Name: de.Name(), Path: path, Size: info.Size(), Created: ts}
			found = true
		}
	}

	return best, found, nil
}

// HasExtension reports whether name ends in "."+ext. The comparison is
// case sensitive and ext may be given with or without its leading dot.
func HasExtension(name, ext string) bool {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return false
	}
	got := filepath.Ext(name)
	return len(got) > 1 && got[1:] == ext
}
