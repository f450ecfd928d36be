// Package api serves the launcher HTTP API consumed by the desktop front end.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sd-launcher/internal/auth"
	"sd-launcher/internal/config"
	"sd-launcher/internal/database"
	"sd-launcher/internal/fsops"
	"sd-launcher/internal/metrics"
	"sd-launcher/internal/middleware"
	"sd-launcher/internal/queue"
	"sd-launcher/internal/safety"
	"sd-launcher/internal/shell"
	"sd-launcher/internal/txt2img"
	"sd-launcher/internal/websocket"
)

// Event types published by the API.
const (
	EventUIReady     = "ui.ready"
	EventRunsChanged = "runs.changed"
)

// Deps are the collaborators the API serves.
type Deps struct {
	Config    *config.Config
	DB        *database.RunDB
	Runner    queue.CommandRunner
	Images    queue.ImageFinder
	Validator *safety.Validator
	Remover   fsops.Remover
	Queue     *queue.Processor
	Hub       *websocket.Hub
	Tokens    middleware.TokenValidator // nil disables authentication
	Logger    zerolog.Logger
}

// Server holds handler state.
type Server struct {
	Deps
	pub queue.Publisher

	uiMu    sync.Mutex
	ready   bool
	readyAt time.Time
}

func NewServer(d Deps) *Server {
	s := &Server{Deps: d}
	s.Logger = d.Logger.With().Str("component", "api").Logger()
	if d.Remover == nil {
		s.Remover = fsops.OSRemover{}
	}
	if d.Hub != nil {
		s.pub = d.Hub
	} else {
		s.pub = noopPublisher{}
	}
	return s
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

// Router builds the HTTP handler. ctx bounds background work such as the
// rate limiter cleanup.
func (s *Server) Router(ctx context.Context) *mux.Router {
	cfg := s.Config.Server

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(s.Logger))
	router.Use(middleware.MetricsMiddleware)
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.SecurityHeadersMiddleware)
	router.Use(middleware.RequestBodySizeLimitMiddleware(cfg.BodyLimitBytes))
	if cfg.RateLimit > 0 {
		router.Use(middleware.RateLimitMiddleware(ctx, rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}

	// Public routes
	router.HandleFunc("/api/v1/health", metrics.HealthHandler).Methods(http.MethodGet, http.MethodHead)

	api := router.PathPrefix("/api/v1").Subrouter()
	if s.Tokens != nil {
		api.Use(middleware.AuthMiddleware(s.Tokens))
	}

	handle := func(path, perm string, h http.HandlerFunc, methods ...string) {
		api.Handle(path, middleware.RequirePermission(perm)(h)).Methods(methods...)
	}

	handle("/command", auth.PermissionRunCommand, s.handleCommand, http.MethodPost)

	handle("/images/latest", auth.PermissionViewImages, s.handleLatestImage, http.MethodGet)
	handle("/images/{name}", auth.PermissionViewImages, s.handleImage, http.MethodGet, http.MethodHead)

	handle("/ui/ready", auth.PermissionUI, s.handleUIReady, http.MethodPost)
	handle("/ui/state", auth.PermissionViewImages, s.handleUIState, http.MethodGet)

	handle("/txt2img/command", auth.PermissionViewRuns, s.handleTxt2ImgCommand, http.MethodPost)
	handle("/prompts/expand", auth.PermissionViewRuns, s.handleExpandPrompt, http.MethodPost)

	handle("/runs", auth.PermissionViewRuns, s.handleListRuns, http.MethodGet)
	handle("/runs", auth.PermissionEditRuns, s.handleClearRuns, http.MethodDelete)
	handle("/runs/{id}", auth.PermissionViewRuns, s.handleGetRun, http.MethodGet)
	handle("/runs/{id}", auth.PermissionEditRuns, s.handleDeleteRun, http.MethodDelete)
	handle("/runs/{id}/rating", auth.PermissionEditRuns, s.handleSetRating, http.MethodPut)

	handle("/queue", auth.PermissionViewQueue, s.handleListQueue, http.MethodGet)
	handle("/queue", auth.PermissionControlQueue, s.handleEnqueue, http.MethodPost)
	handle("/queue", auth.PermissionControlQueue, s.handleClearQueue, http.MethodDelete)
	handle("/queue/start", auth.PermissionControlQueue, s.handleStartQueue, http.MethodPost)
	handle("/queue/stop", auth.PermissionControlQueue, s.handleStopQueue, http.MethodPost)
	handle("/queue/completed", auth.PermissionControlQueue, s.handleClearCompleted, http.MethodDelete)
	handle("/queue/{id}/skip", auth.PermissionControlQueue, s.handleSkip, http.MethodPost)
	handle("/queue/{id}", auth.PermissionControlQueue, s.handleRemoveQueueItem, http.MethodDelete)

	if s.Hub != nil {
		handle("/ws/events", auth.PermissionViewRuns, websocket.HandleEvents(s.Hub), http.MethodGet)
	}

	return router
}

// HealthChecks reports the state of each component for /health.
func (s *Server) HealthChecks() map[string]error {
	checks := map[string]error{
		"stable_diffusion_dir": dirCheck(s.Config.StableDiffusionDir),
		"output_dir":           dirCheck(s.Config.OutputDir),
	}
	if s.DB != nil {
		checks["database"] = s.DB.Ping()
	}
	return checks
}

func dirCheck(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return safety.ErrNotDirectory
	}
	return nil
}

// ErrorResponse represents error message
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: message,
	}, status)
}

// respondErr maps a domain error to its HTTP status.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		metrics.IncErrors()
		s.Logger.Error().Err(err).Msg("request failed")
	}
	respondError(w, err.Error(), status)
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case database.IsNotFound(err), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case database.IsInvalidTransition(err):
		return http.StatusConflict
	case errors.Is(err, safety.ErrOutsideAllowed),
		errors.Is(err, safety.ErrProtectedPath),
		errors.Is(err, safety.ErrTraversal),
		errors.Is(err, safety.ErrSymlinkEscape):
		return http.StatusForbidden
	case errors.Is(err, database.ErrInvalidRating),
		errors.Is(err, safety.ErrInvalidPath),
		errors.Is(err, safety.ErrNotDirectory),
		errors.Is(err, safety.ErrInvalidName),
		errors.Is(err, shell.ErrEmptyCommand),
		errors.Is(err, shell.ErrNotDirectory),
		errors.Is(err, txt2img.ErrEmptyPrompt),
		errors.Is(err, txt2img.ErrOutOfRange),
		errors.Is(err, errBadRequest),
		errors.Is(err, errUnfilledVars):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

var (
	errBadRequest   = errors.New("invalid request body")
	errUnfilledVars = errors.New("every prompt variable needs at least one value")
)

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return errBadRequest
	}
	return nil
}
