//go:build unix

package disk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// GetUsage returns free and total bytes for the filesystem holding path.
func GetUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	free := int64(stat.Bavail) * int64(stat.Bsize)

	u := Usage{FreeBytes: free, TotalBytes: total}
	if total > 0 {
		u.UsedPercent = float64(total-free) / float64(total) * 100.0
	}
	return u, nil
}
