//go:build !linux && !darwin

package imagescan

import (
	"io/fs"
	"time"
)

// CreationTime falls back to the modification time on platforms where no
// birth time is read.
func CreationTime(path string, info fs.FileInfo) time.Time {
	return info.ModTime()
}
