package disk

import "errors"

// ErrUnsupported is returned where filesystem statistics are not available.
var ErrUnsupported = errors.New("filesystem usage not supported on this platform")

// Usage holds filesystem-level statistics for the volume containing a path.
type Usage struct {
	FreeBytes   int64
	TotalBytes  int64
	UsedPercent float64
}
