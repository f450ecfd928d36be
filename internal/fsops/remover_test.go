package fsops

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOSRemover(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "00001.png")
	if err := os.WriteFile(file, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	var r Remover = OSRemover{}
	if err := r.Remove(file); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Errorf("file still exists: %v", err)
	}

	if err := r.Remove(file); err != nil {
		t.Errorf("removing a missing file should succeed, got %v", err)
	}

	if err := r.Remove(dir); !errors.Is(err, ErrIsDirectory) {
		t.Errorf("Remove(dir) = %v, want ErrIsDirectory", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory should be kept: %v", err)
	}
}

func TestFakeRemover(t *testing.T) {
	f := &FakeRemover{}
	_ = f.Remove("/out/a.png")
	_ = f.Remove("/out/b.png")
	if got := f.Removed(); len(got) != 2 || got[1] != "/out/b.png" {
		t.Errorf("Removed() = %v", got)
	}
}
