package queue

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sd-launcher/internal/database"
	"sd-launcher/internal/metrics"
	"sd-launcher/internal/shell"
	"sd-launcher/internal/txt2img"
)

func init() {
	metrics.Init()
}

type stubImages struct {
	name string
	err  error
}

func (s stubImages) Latest(context.Context, string, string) (string, error) {
	return s.name, s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingPublisher) Publish(eventType string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingPublisher) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	db   *database.RunDB
	fake *shell.FakeExecutor
	pub  *recordingPublisher
	proc *Processor
	dir  string
}

func newFixture(t *testing.T, images ImageFinder) *fixture {
	t.Helper()
	db, err := database.NewRunDB(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	fake := &shell.FakeExecutor{Result: shell.Result{Stdout: "done\n"}}
	runner := shell.NewRunner(zerolog.Nop(), time.Minute, false)
	runner.SetExecutor(fake)
	runner.SetGOOS("linux")

	dir := t.TempDir()
	pub := &recordingPublisher{}
	proc := NewProcessor(db, runner, images, pub, zerolog.Nop(), Options{
		SDDir:     dir,
		Python:    "python",
		OutputDir: filepath.Join(dir, "outputs"),
		Extension: "png",
		Autostart: true,
	})
	return &fixture{db: db, fake: fake, pub: pub, proc: proc, dir: dir}
}

func TestRunOnceProcessesInOrder(t *testing.T) {
	f := newFixture(t, stubImages{name: "00007.png"})

	base := txt2img.Defaults()
	items, err := f.proc.Enqueue(base, "first", "second")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.db.ToggleSkip(items[1].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.proc.Enqueue(base, "third"); err != nil {
		t.Fatal(err)
	}

	n, err := f.proc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 2 {
		t.Errorf("processed %d items, want 2 (one skipped)", n)
	}

	calls := f.fake.Invocations()
	if len(calls) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(calls))
	}
	want := base
	want.Prompt = "first"
	if calls[0].Shell != "sh -c "+shell.Quote(want.Command("python")) || calls[0].Dir != f.dir {
		t.Errorf("unexpected first invocation %+v", calls[0])
	}

	runs, err := f.db.ListRuns(database.RunFilter{Order: "asc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Prompt != "first" || runs[1].Prompt != "third" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].ImageName != "00007.png" || runs[0].Status != database.RunCompleted || runs[0].Output != "done\n" {
		t.Errorf("unexpected run %+v", runs[0])
	}

	counts, _ := f.db.QueueCounts()
	if counts["completed"] != 2 || counts["skipped"] != 1 || counts["pending"] != 0 {
		t.Errorf("QueueCounts() = %v", counts)
	}
	if f.pub.count(EventRunFinished) != 2 {
		t.Errorf("run.finished events = %d, want 2", f.pub.count(EventRunFinished))
	}
}

func TestFailedCommandMarksItemFailed(t *testing.T) {
	f := newFixture(t, stubImages{name: "ignored.png"})
	f.fake.Result = shell.Result{Stderr: "CUDA out of memory", ExitCode: 1}

	items, err := f.proc.Enqueue(txt2img.Defaults(), "too big")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.proc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	item, err := f.db.GetQueueItem(items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != database.StatusFailed || item.Error == "" {
		t.Errorf("item = %+v, want failed with error", item)
	}
	runs, _ := f.db.ListRuns(database.RunFilter{})
	if len(runs) != 1 || runs[0].Status != database.RunFailed || runs[0].ImageName != "" {
		t.Errorf("unexpected runs %+v", runs)
	}
}

func TestInvalidParamsNeverRun(t *testing.T) {
	f := newFixture(t, nil)
	bad := txt2img.Defaults()
	bad.Height = 500

	if _, err := f.proc.Enqueue(bad, "odd size"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.proc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.fake.Invocations()); n != 0 {
		t.Errorf("invalid params executed %d commands", n)
	}
	counts, _ := f.db.QueueCounts()
	if counts["failed"] != 1 {
		t.Errorf("QueueCounts() = %v", counts)
	}
}

func TestStoppedProcessorDoesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.proc.Stop()

	if _, err := f.proc.Enqueue(txt2img.Defaults(), "waiting"); err != nil {
		t.Fatal(err)
	}
	n, err := f.proc.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Errorf("RunOnce() on stopped processor = %d, %v", n, err)
	}
	if f.pub.count(EventQueueState) != 1 {
		t.Errorf("expected one queue.state event")
	}

	// Stop from inside the first command: the second item stays pending.
	if _, err := f.proc.Enqueue(txt2img.Defaults(), "later"); err != nil {
		t.Fatal(err)
	}
	f.fake.Handler = func(context.Context, shell.Invocation) (shell.Result, error) {
		f.proc.Stop()
		return shell.Result{}, nil
	}
	f.proc.Start()
	n, err = f.proc.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Errorf("RunOnce() after stop request = %d, %v; want 1", n, err)
	}
	counts, _ := f.db.QueueCounts()
	if counts["pending"] != 1 || counts["completed"] != 1 {
		t.Errorf("QueueCounts() = %v", counts)
	}
}

func TestImageLookupFailureStillCompletes(t *testing.T) {
	f := newFixture(t, stubImages{err: errors.New("permission denied")})
	if _, err := f.proc.Enqueue(txt2img.Defaults(), "cat"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.proc.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	runs, _ := f.db.ListRuns(database.RunFilter{})
	if len(runs) != 1 || runs[0].Status != database.RunCompleted || runs[0].ImageName != "" {
		t.Errorf("unexpected runs %+v", runs)
	}
}

func TestRunLoopRequeuesInterruptedAndStops(t *testing.T) {
	f := newFixture(t, stubImages{name: "1.png"})

	items, err := f.db.Enqueue(txt2img.Params{Prompt: "left running"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.db.UpdateQueueStatus(items[0].ID, database.StatusRunning, ""); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.proc.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		counts, _ := f.db.QueueCounts()
		if counts["completed"] == 1 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("item was not processed, counts %v", counts)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

// skipOnPickup skips each item right after NextPending hands it out, the
// way a user clicking skip at that moment would.
type skipOnPickup struct {
	*database.RunDB
	target string
}

func (s *skipOnPickup) NextPending() (database.QueueItem, error) {
	item, err := s.RunDB.NextPending()
	if err == nil && item.ID == s.target {
		if _, err := s.RunDB.ToggleSkip(item.ID); err != nil {
			return item, err
		}
	}
	return item, err
}

func TestItemSkippedAfterPickupNeverRuns(t *testing.T) {
	f := newFixture(t, stubImages{name: "1.png"})
	items, err := f.db.Enqueue(txt2img.Params{Prompt: "skip me"}, txt2img.Params{Prompt: "keep me"})
	if err != nil {
		t.Fatal(err)
	}

	runner := shell.NewRunner(zerolog.Nop(), time.Minute, false)
	runner.SetExecutor(f.fake)
	runner.SetGOOS("linux")
	store := &skipOnPickup{RunDB: f.db, target: items[0].ID}
	proc := NewProcessor(store, runner, stubImages{name: "1.png"}, f.pub, zerolog.Nop(), Options{
		SDDir:     f.dir,
		Python:    "python",
		Autostart: true,
	})

	n, err := proc.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce() = %d, %v; want 1, nil", n, err)
	}

	calls := f.fake.Invocations()
	if len(calls) != 1 || !strings.Contains(calls[0].Shell, "keep me") {
		t.Fatalf("invocations = %+v, want only the kept item", calls)
	}
	skipped, _ := f.db.GetQueueItem(items[0].ID)
	if skipped.Status != database.StatusSkipped {
		t.Errorf("skipped item status = %s", skipped.Status)
	}
}

func TestRunOnceWithoutPublisher(t *testing.T) {
	f := newFixture(t, stubImages{name: "2.png"})
	runner := shell.NewRunner(zerolog.Nop(), time.Minute, false)
	runner.SetExecutor(f.fake)
	runner.SetGOOS("linux")

	proc := NewProcessor(f.db, runner, stubImages{name: "2.png"}, nil, zerolog.Nop(), Options{
		SDDir:  f.dir,
		Python: "python",
	})
	if _, err := proc.Enqueue(txt2img.Defaults(), "offline"); err != nil {
		t.Fatal(err)
	}
	proc.Start()

	n, err := proc.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce() = %d, %v; want 1, nil", n, err)
	}
	if f.pub.count(EventRunFinished) != 0 || f.pub.count(EventQueueState) != 0 {
		t.Error("events leaked to the fixture publisher")
	}
}
