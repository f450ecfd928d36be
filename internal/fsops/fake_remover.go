package fsops

import "sync"

// FakeRemover implements Remover for testing
// Records all remove calls without touching the filesystem
type FakeRemover struct {
	mu    sync.Mutex
	Calls []string
	Err   error
}

func (f *FakeRemover) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, path)
	return f.Err
}

func (f *FakeRemover) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}
