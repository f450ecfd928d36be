package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"sd-launcher/internal/imagescan"
	"sd-launcher/internal/shell"
	"sd-launcher/internal/txt2img"
)

// CommandRequest is the body of POST /command.
type CommandRequest struct {
	Directory string `json:"directory"`
	Command   string `json:"command"`
}

// CommandResponse carries the captured output. Error is set when the
// command ran but exited non-zero.
type CommandResponse struct {
	Output   string `json:"output"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Mode     string `json:"mode"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	dir, err := s.Validator.ValidateDirectory(req.Directory)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	res, err := s.Runner.Run(r.Context(), dir, req.Command)
	resp := CommandResponse{
		Output:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Mode:     string(res.Mode),
		Duration: res.Duration.String(),
	}

	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		resp.Error = exitErr.Error()
		respondJSON(w, resp, http.StatusOK)
		return
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, resp, http.StatusOK)
}

func (s *Server) handleLatestImage(w http.ResponseWriter, r *http.Request) {
	dir := s.Config.OutputDir
	if q := r.URL.Query().Get("dir"); q != "" {
		validated, err := s.Validator.ValidateDirectory(q)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		dir = validated
	}
	ext := r.URL.Query().Get("ext")
	if ext == "" {
		ext = s.Config.Images.Extension
	}

	name, err := s.Images.Latest(r.Context(), dir, ext)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, map[string]string{"image": name, "dir": dir}, http.StatusOK)
}

// handleImage serves a generated image from the output directory. Files
// whose content is not an image are refused.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.Validator.ValidateFile(s.Config.OutputDir, mux.Vars(r)["name"])
	if err != nil {
		s.respondErr(w, err)
		return
	}

	mime, isImage, err := imagescan.Sniff(path)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if !isImage {
		respondError(w, "not an image", http.StatusUnsupportedMediaType)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// UIState is the splash to main window transition flag.
type UIState struct {
	Ready   bool       `json:"ready"`
	ReadyAt *time.Time `json:"ready_at,omitempty"`
}

func (s *Server) uiState() UIState {
	s.uiMu.Lock()
	defer s.uiMu.Unlock()
	st := UIState{Ready: s.ready}
	if s.ready {
		at := s.readyAt
		st.ReadyAt = &at
	}
	return st
}

// handleUIReady marks the main window ready. Only the first call publishes
// ui.ready; later calls return the same state.
func (s *Server) handleUIReady(w http.ResponseWriter, r *http.Request) {
	s.uiMu.Lock()
	first := !s.ready
	if first {
		s.ready = true
		s.readyAt = time.Now().UTC()
	}
	s.uiMu.Unlock()

	st := s.uiState()
	if first {
		s.Logger.Info().Msg("front end ready, closing splash")
		s.pub.Publish(EventUIReady, st)
	}
	respondJSON(w, st, http.StatusOK)
}

func (s *Server) handleUIState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.uiState(), http.StatusOK)
}

func (s *Server) handleTxt2ImgCommand(w http.ResponseWriter, r *http.Request) {
	var p txt2img.Params
	if err := decodeJSON(r, &p); err != nil {
		s.respondErr(w, err)
		return
	}
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{
		"command": p.Command(s.Config.PythonPath),
		"params":  p,
	}, http.StatusOK)
}

// ExpandRequest is a prompt with $variables and their values.
type ExpandRequest struct {
	Prompt string              `json:"prompt"`
	Vars   []txt2img.CustomVar `json:"vars"`
}

type ExpandResponse struct {
	Vars      []string `json:"vars"`
	Prompts   []string `json:"prompts"`
	AllFilled bool     `json:"all_filled"`
}

func (s *Server) handleExpandPrompt(w http.ResponseWriter, r *http.Request) {
	var req ExpandRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	vars := txt2img.ExtractVars(req.Prompt)
	if vars == nil {
		vars = []string{}
	}
	prompts := txt2img.Expand(req.Prompt, req.Vars)
	if prompts == nil {
		prompts = []string{}
	}
	respondJSON(w, ExpandResponse{
		Vars:      vars,
		Prompts:   prompts,
		AllFilled: txt2img.AllVarsFilled(req.Prompt, req.Vars),
	}, http.StatusOK)
}
