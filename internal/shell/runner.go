package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"sd-launcher/internal/metrics"
)

var (
	ErrEmptyCommand = errors.New("command is empty")
	ErrNotDirectory = errors.New("not a directory")
)

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 200 {
		msg = msg[len(msg)-200:]
	}
	if msg == "" {
		return fmt.Sprintf("command exited with status %d", e.Code)
	}
	return fmt.Sprintf("command exited with status %d: %s", e.Code, msg)
}

// Runner executes commands in a target directory with environment
// activation, a timeout and optional dry run.
type Runner struct {
	executor Executor
	logger   zerolog.Logger
	timeout  time.Duration
	dryRun   bool
	goos     string
}

// NewRunner creates a Runner backed by OSExecutor.
func NewRunner(logger zerolog.Logger, timeout time.Duration, dryRun bool) *Runner {
	return &Runner{
		executor: OSExecutor{},
		logger:   logger.With().Str("component", "shell").Logger(),
		timeout:  timeout,
		dryRun:   dryRun,
	}
}

// SetExecutor replaces the executor (tests use FakeExecutor).
func (r *Runner) SetExecutor(e Executor) {
	r.executor = e
}

// SetGOOS overrides the platform used for planning.
func (r *Runner) SetGOOS(goos string) {
	r.goos = goos
}

// DryRun reports whether commands are only logged.
func (r *Runner) DryRun() bool {
	return r.dryRun
}

// Run executes command in dir. The returned Result is populated whenever
// the process started, including when it exits non-zero (*ExitError).
func (r *Runner) Run(ctx context.Context, dir, command string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, ErrEmptyCommand
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Result{}, fmt.Errorf("command directory: %w", err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	inv := Plan(dir, command, r.goos)
	log := r.logger.With().Str("dir", dir).Str("mode", string(inv.Mode)).Logger()

	if r.dryRun {
		log.Info().Str("shell", inv.Shell).Msg("dry run: command not executed")
		metrics.RecordCommand(string(inv.Mode), "dry_run", 0)
		return Result{Mode: inv.Mode}, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log.Info().Str("command", command).Msg("running command")
	res, err := r.executor.Execute(ctx, inv)
	res.Mode = inv.Mode

	if !utf8.ValidString(res.Stdout) {
		log.Warn().Msg("command output is not valid UTF-8, replacing invalid sequences")
		res.Stdout = strings.ToValidUTF8(res.Stdout, "�")
	}
	res.Stderr = strings.ToValidUTF8(res.Stderr, "�")

	if err != nil {
		metrics.RecordCommand(string(inv.Mode), "error", res.Duration.Seconds())
		log.Error().Err(err).Dur("duration", res.Duration).Msg("command failed to run")
		return res, fmt.Errorf("run command: %w", err)
	}
	if res.ExitCode != 0 {
		metrics.RecordCommand(string(inv.Mode), "exit_nonzero", res.Duration.Seconds())
		log.Warn().Int("exit_code", res.ExitCode).Dur("duration", res.Duration).Msg("command exited non-zero")
		return res, &ExitError{Code: res.ExitCode, Stderr: res.Stderr}
	}

	metrics.RecordCommand(string(inv.Mode), "success", res.Duration.Seconds())
	log.Info().Dur("duration", res.Duration).Int("stdout_bytes", len(res.Stdout)).Msg("command completed")
	return res, nil
}
