package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"sd-launcher/internal/api"
	"sd-launcher/internal/auth"
	"sd-launcher/internal/config"
	"sd-launcher/internal/database"
	"sd-launcher/internal/exitcodes"
	"sd-launcher/internal/fsops"
	"sd-launcher/internal/imagescan"
	"sd-launcher/internal/logging"
	"sd-launcher/internal/metrics"
	"sd-launcher/internal/queue"
	"sd-launcher/internal/safety"
	"sd-launcher/internal/shell"
	"sd-launcher/internal/websocket"
)

const (
	ReadTimeout     = 15 * time.Second
	IdleTimeout     = 60 * time.Second
	ShutdownTimeout = 10 * time.Second
	UsageInterval   = time.Minute
)

func main() {
	configPath := flag.String("config", "sd-launcher.yaml", "Path to configuration file")
	dryRun := flag.Bool("dry-run", false, "Log commands without executing them")
	once := flag.Bool("once", false, "Process the pending queue once and exit")
	command := flag.String("command", "", "Run a single command in -dir and print its output")
	dir := flag.String("dir", "", "Directory for -command (default: stable_diffusion_dir)")
	latest := flag.String("latest-image", "", "Print the newest image name in this directory and exit")
	flag.Parse()

	// One-shot modes print their result on stdout, so logs go to stderr.
	oneShot := *command != "" || *latest != ""
	logOut := io.Writer(os.Stdout)
	if oneShot {
		logOut = os.Stderr
	}
	bootLogger := logging.NewTo(logOut)

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error().Err(err).Str("config", *configPath).Msg("failed to load config")
		os.Exit(exitcodes.InvalidConfig)
	}
	if *dryRun {
		cfg.Command.DryRun = true
	}

	logger := logging.NewWithOutput(cfg, logOut)
	metrics.Init()

	runner := shell.NewRunner(logger, cfg.CommandTimeout(), cfg.Command.DryRun)
	validator := safety.NewValidator(cfg.AllowedRoots, nil)
	finder := &imagescan.Finder{Strategy: cfg.Images.Strategy, Within: cfg.FindWithin()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		cancel()
	}()

	// One-shot modes exit without opening the database or the API.
	switch {
	case *command != "":
		os.Exit(runCommand(ctx, runner, validator, cfg, *dir, *command, logger))
	case *latest != "":
		os.Exit(printLatest(ctx, finder, validator, cfg, *latest, logger))
	}

	logger.Info().
		Str("config", *configPath).
		Str("stable_diffusion_dir", cfg.StableDiffusionDir).
		Str("output_dir", cfg.OutputDir).
		Bool("dry_run", runner.DryRun()).
		Msg("sd-launcher starting")

	db, err := database.NewRunDB(cfg.DatabasePath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
		os.Exit(exitcodes.RuntimeError)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	opts := queue.Options{
		SDDir:        cfg.StableDiffusionDir,
		Python:       cfg.PythonPath,
		OutputDir:    cfg.OutputDir,
		Extension:    cfg.Images.Extension,
		PollInterval: cfg.PollInterval(),
		Autostart:    cfg.Queue.Autostart,
	}

	if *once {
		// No hub runs in -once mode, so nothing would drain its events.
		proc := queue.NewProcessor(db, runner, finder, nil, logger, opts)
		proc.Start()
		n, err := proc.RunOnce(ctx)
		if err != nil {
			logger.Error().Err(err).Int("processed", n).Msg("queue processing failed")
			os.Exit(exitcodes.RuntimeError)
		}
		logger.Info().Int("processed", n).Msg("queue processed")
		return
	}

	hub := websocket.NewHub(logger)
	proc := queue.NewProcessor(db, runner, finder, hub, logger, opts)
	if err := serve(ctx, cfg, db, runner, finder, validator, proc, hub, logger); err != nil {
		logger.Error().Err(err).Msg("daemon failed")
		os.Exit(exitcodes.RuntimeError)
	}
	logger.Info().Msg("sd-launcher stopped")
}

func serve(ctx context.Context, cfg *config.Config, db *database.RunDB, runner *shell.Runner,
	finder *imagescan.Finder, validator *safety.Validator, proc *queue.Processor,
	hub *websocket.Hub, logger zerolog.Logger) error {

	if cfg.Prometheus.Port > 0 {
		metrics.StartServer(cfg.PrometheusAddress(), logger)
	}

	deps := api.Deps{
		Config:    cfg,
		DB:        db,
		Runner:    runner,
		Images:    finder,
		Validator: validator,
		Remover:   fsops.OSRemover{},
		Queue:     proc,
		Hub:       hub,
		Logger:    logger,
	}
	if cfg.Auth.Enabled {
		tokens, err := auth.NewJWTManager(cfg.Auth.Secret, cfg.TokenTTL())
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		if err := issueControllerToken(tokens, cfg.Auth.TokenFile, logger); err != nil {
			return err
		}
		deps.Tokens = tokens
	}

	srv := api.NewServer(deps)
	metrics.SetHealthFunc(srv.HealthChecks)

	go hub.Run(ctx)
	go func() {
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("queue processor stopped")
		}
	}()
	go reportOutputUsage(ctx, cfg.OutputDir, logger)

	if cfg.Images.Watch {
		w := &imagescan.Watcher{
			Dir:    cfg.OutputDir,
			Ext:    cfg.Images.Extension,
			Logger: logging.Component(logger, "watcher"),
			OnImage: func(e imagescan.Entry) {
				hub.Publish("image.created", e)
			},
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("output watcher stopped")
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     srv.Router(ctx),
		ReadTimeout: ReadTimeout,
		// POST /command holds the response until the command exits.
		WriteTimeout: cfg.CommandTimeout() + 30*time.Second,
		IdleTimeout:  IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Address).Bool("auth", cfg.Auth.Enabled).Msg("api listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown error")
	}
	metrics.Shutdown(shutdownCtx, logger)
	return nil
}

// issueControllerToken writes a controller token for the front end.
func issueControllerToken(tokens *auth.JWTManager, path string, logger zerolog.Logger) error {
	if path == "" {
		logger.Warn().Msg("auth enabled without auth.token_file, no token issued")
		return nil
	}
	token, err := tokens.GenerateToken("launcher", []string{auth.RoleController})
	if err != nil {
		return err
	}
	if err := auth.WriteTokenFile(path, token); err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("controller token written")
	return nil
}

func reportOutputUsage(ctx context.Context, path string, logger zerolog.Logger) {
	ticker := time.NewTicker(UsageInterval)
	defer ticker.Stop()
	for {
		if err := metrics.UpdateOutputUsage(path); err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("output usage unavailable")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runCommand(ctx context.Context, runner *shell.Runner, validator *safety.Validator,
	cfg *config.Config, dir, command string, logger zerolog.Logger) int {

	if dir == "" {
		dir = cfg.StableDiffusionDir
	}
	target, err := validator.ValidateDirectory(dir)
	if err != nil {
		logger.Error().Err(err).Str("dir", dir).Msg("directory rejected")
		return exitcodes.SafetyViolation
	}

	res, err := runner.Run(ctx, target, command)
	fmt.Print(res.Stdout)
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprint(os.Stderr, res.Stderr)
		return exitcodes.CommandFailed
	}
	if err != nil {
		logger.Error().Err(err).Msg("command failed")
		return exitcodes.RuntimeError
	}
	return exitcodes.Success
}

func printLatest(ctx context.Context, finder *imagescan.Finder, validator *safety.Validator,
	cfg *config.Config, dir string, logger zerolog.Logger) int {

	target, err := validator.ValidateDirectory(dir)
	if err != nil {
		logger.Error().Err(err).Str("dir", dir).Msg("directory rejected")
		return exitcodes.SafetyViolation
	}
	name, err := finder.Latest(ctx, target, cfg.Images.Extension)
	if err != nil {
		logger.Error().Err(err).Msg("latest image lookup failed")
		return exitcodes.RuntimeError
	}
	fmt.Println(name)
	return exitcodes.Success
}
