package shell

import (
	"context"
	"sync"
)

// FakeExecutor implements Executor for testing.
// Records every invocation and answers with Result/Err, or with Handler
// when set.
type FakeExecutor struct {
	mu      sync.Mutex
	Calls   []Invocation
	Result  Result
	Err     error
	Handler func(ctx context.Context, inv Invocation) (Result, error)
}

func (f *FakeExecutor) Execute(ctx context.Context, inv Invocation) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, inv)
	handler := f.Handler
	res, err := f.Result, f.Err
	f.mu.Unlock()

	if handler != nil {
		return handler(ctx, inv)
	}
	res.Mode = inv.Mode
	return res, err
}

// Invocations returns a copy of the recorded calls.
func (f *FakeExecutor) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Invocation, len(f.Calls))
	copy(out, f.Calls)
	return out
}
