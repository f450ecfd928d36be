// Package queue runs queued txt2img requests one at a time.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sd-launcher/internal/database"
	"sd-launcher/internal/logging"
	"sd-launcher/internal/metrics"
	"sd-launcher/internal/shell"
	"sd-launcher/internal/txt2img"
)

// Event types published while the queue is processed.
const (
	EventQueueUpdated = "queue.updated"
	EventRunFinished  = "run.finished"
	EventQueueState   = "queue.state"
)

// errItemGone reports an item skipped or removed after NextPending.
var errItemGone = errors.New("queue item no longer pending")

// Store is the subset of the run database the processor needs.
type Store interface {
	Enqueue(params ...txt2img.Params) ([]database.QueueItem, error)
	NextPending() (database.QueueItem, error)
	UpdateQueueStatus(id string, status database.QueueStatus, errMsg string) error
	RecordRun(r database.Run) (string, error)
	QueueCounts() (map[string]int, error)
	ResetRunning() (int64, error)
}

// CommandRunner runs a shell command in a directory.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (shell.Result, error)
}

// ImageFinder returns the newest image name in dir.
type ImageFinder interface {
	Latest(ctx context.Context, dir, ext string) (string, error)
}

// Publisher receives queue and run events; the websocket hub implements it.
type Publisher interface {
	Publish(eventType string, data interface{})
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) {}

// Options locate the Stable Diffusion checkout and its outputs.
type Options struct {
	SDDir        string
	Python       string
	OutputDir    string
	Extension    string
	PollInterval time.Duration
	Autostart    bool
}

// Processor drains the queue sequentially.
type Processor struct {
	store  Store
	runner CommandRunner
	images ImageFinder
	pub    Publisher
	logger zerolog.Logger
	opts   Options

	active  atomic.Bool
	runMu   sync.Mutex
	trigger chan struct{}
	now     func() time.Time
}

func NewProcessor(store Store, runner CommandRunner, images ImageFinder, pub Publisher, logger zerolog.Logger, opts Options) *Processor {
	if pub == nil {
		pub = nopPublisher{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	p := &Processor{
		store:   store,
		runner:  runner,
		images:  images,
		pub:     pub,
		logger:  logging.Component(logger, "queue"),
		opts:    opts,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
	p.active.Store(opts.Autostart)
	return p
}

// Start enables processing and wakes the loop.
func (p *Processor) Start() {
	p.active.Store(true)
	p.publishState()
	p.Trigger()
}

// Stop halts processing after the current item.
func (p *Processor) Stop() {
	p.active.Store(false)
	p.publishState()
}

func (p *Processor) Active() bool {
	return p.active.Load()
}

// Trigger wakes the loop without waiting for the next tick.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// RunOnce processes pending items until the queue is empty, the processor
// is stopped or ctx is cancelled. It returns the number of items processed.
// Concurrent calls return immediately.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	if !p.runMu.TryLock() {
		return 0, nil
	}
	defer p.runMu.Unlock()

	processed := 0
	for p.Active() {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		item, err := p.store.NextPending()
		if errors.Is(err, database.ErrNotFound) {
			break
		}
		if err != nil {
			metrics.IncErrors()
			return processed, err
		}

		err = p.process(ctx, item)
		if errors.Is(err, errItemGone) {
			continue
		}
		if err != nil {
			return processed, err
		}
		processed++
	}

	p.refreshCounts()
	return processed, nil
}

// Run resets items left running by a previous process, then processes the
// queue on every tick or trigger until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if n, err := p.store.ResetRunning(); err != nil {
		p.logger.Error().Err(err).Msg("failed to reset running items")
	} else if n > 0 {
		p.logger.Warn().Int64("items", n).Msg("requeued items interrupted by shutdown")
	}
	p.refreshCounts()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		if p.Active() {
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error().Err(err).Msg("error processing queue")
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Info().Msg("queue processor shutting down")
			return ctx.Err()
		case <-ticker.C:
		case <-p.trigger:
		}
	}
}

func (p *Processor) process(ctx context.Context, item database.QueueItem) error {
	if err := p.store.UpdateQueueStatus(item.ID, database.StatusRunning, ""); err != nil {
		if database.IsInvalidTransition(err) || database.IsNotFound(err) {
			p.logger.Info().Err(err).Str("item", item.ID).Msg("queue item changed before it started")
			return errItemGone
		}
		metrics.IncErrors()
		return err
	}
	p.pub.Publish(EventQueueUpdated, map[string]interface{}{"id": item.ID, "status": database.StatusRunning})
	p.refreshCounts()

	metrics.SetQueueProcessing(true)
	defer metrics.SetQueueProcessing(false)

	params := item.Params.WithDefaults()
	command := params.Command(p.opts.Python)
	log := p.logger.With().Str("item", item.ID).Logger()
	log.Info().Str("prompt", params.Prompt).Msg("processing queue item")

	started := p.now()
	var res shell.Result
	err := params.Validate()
	if err == nil {
		res, err = p.runner.Run(ctx, p.opts.SDDir, command)
	}
	ended := p.now()

	if ctx.Err() != nil {
		// Interrupted by shutdown: leave it for the next start.
		if uerr := p.store.UpdateQueueStatus(item.ID, database.StatusPending, ""); uerr != nil {
			log.Error().Err(uerr).Msg("failed to requeue interrupted item")
		}
		return ctx.Err()
	}

	status := database.StatusCompleted
	errMsg := ""
	if err != nil {
		status = database.StatusFailed
		errMsg = err.Error()
		log.Warn().Err(err).Int("exit_code", res.ExitCode).Msg("queue item failed")
	}

	image := ""
	if err == nil && p.images != nil {
		image, err = p.images.Latest(ctx, p.opts.OutputDir, p.opts.Extension)
		if err != nil {
			log.Warn().Err(err).Str("dir", p.opts.OutputDir).Msg("latest image lookup failed")
		}
	}

	run := database.Run{
		Prompt:    params.Prompt,
		Params:    params,
		Command:   command,
		StartedAt: started,
		EndedAt:   ended,
		ElapsedMS: ended.Sub(started).Milliseconds(),
		ImageName: image,
		Status:    string(status),
		Output:    res.Stdout,
		Error:     errMsg,
	}
	runID, rerr := p.store.RecordRun(run)
	if rerr != nil {
		metrics.IncErrors()
		log.Error().Err(rerr).Msg("failed to record run")
	}
	run.ID = runID

	if err := p.store.UpdateQueueStatus(item.ID, status, errMsg); err != nil {
		metrics.IncErrors()
		return err
	}
	metrics.RecordQueueItem(string(status), ended.Sub(started).Seconds())

	log.Info().
		Str("status", string(status)).
		Str("image", image).
		Dur("elapsed", ended.Sub(started)).
		Msg("queue item finished")

	p.pub.Publish(EventQueueUpdated, map[string]interface{}{"id": item.ID, "status": status})
	p.pub.Publish(EventRunFinished, run)
	return nil
}

func (p *Processor) refreshCounts() {
	counts, err := p.store.QueueCounts()
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to count queue items")
		return
	}
	metrics.SetQueueCounts(counts)
}

func (p *Processor) publishState() {
	p.pub.Publish(EventQueueState, map[string]bool{"active": p.Active()})
}

// Enqueue adds one item per prompt, each with the base params, and wakes
// the processor.
func (p *Processor) Enqueue(base txt2img.Params, prompts ...string) ([]database.QueueItem, error) {
	all := make([]txt2img.Params, 0, len(prompts))
	for _, prompt := range prompts {
		params := base
		params.Prompt = prompt
		all = append(all, params)
	}
	items, err := p.store.Enqueue(all...)
	if err != nil {
		return nil, err
	}
	p.refreshCounts()
	p.pub.Publish(EventQueueUpdated, map[string]interface{}{"added": len(items)})
	p.Trigger()
	return items, nil
}
