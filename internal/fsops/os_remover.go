package fsops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// OSRemover removes regular files. A file that is already gone is not an
// error.
type OSRemover struct{}

func (OSRemover) Remove(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
