//go:build darwin

package imagescan

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// CreationTime returns the file's birth time, falling back to the
// modification time if stat fails. Symlinks are followed.
func CreationTime(path string, info fs.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return info.ModTime()
	}
	return time.Unix(st.Birthtimespec.Unix())
}
