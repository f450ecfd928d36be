// Package fsops wraps the filesystem writes the launcher performs so tests
// can prove nothing is removed in dry run.
package fsops

import "errors"

// ErrIsDirectory is returned when a removal target is a directory.
var ErrIsDirectory = errors.New("refusing to remove a directory")

// Remover removes generated images.
type Remover interface {
	Remove(path string) error
}
