package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"sd-launcher/internal/database"
	"sd-launcher/internal/queue"
	"sd-launcher/internal/txt2img"
)

// EnqueueRequest adds one item, or one item per prompt of the matrix when
// the prompt uses $variables.
type EnqueueRequest struct {
	Params txt2img.Params      `json:"params"`
	Vars   []txt2img.CustomVar `json:"vars"`
}

type queueResponse struct {
	Items  []database.QueueItem `json:"items"`
	Counts map[string]int       `json:"counts"`
	Active bool                 `json:"active"`
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.DB.ListQueue()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if items == nil {
		items = []database.QueueItem{}
	}
	counts, err := s.DB.QueueCounts()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, queueResponse{Items: items, Counts: counts, Active: s.Queue.Active()}, http.StatusOK)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}

	params := req.Params.WithDefaults()
	if err := params.Validate(); err != nil {
		s.respondErr(w, err)
		return
	}
	if !txt2img.AllVarsFilled(params.Prompt, req.Vars) {
		s.respondErr(w, errUnfilledVars)
		return
	}

	items, err := s.Queue.Enqueue(params, txt2img.Expand(params.Prompt, req.Vars)...)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.Logger.Info().Int("items", len(items)).Str("prompt", params.Prompt).Msg("queued txt2img")
	respondJSON(w, items, http.StatusCreated)
}

func (s *Server) handleStartQueue(w http.ResponseWriter, r *http.Request) {
	s.Queue.Start()
	respondJSON(w, map[string]bool{"active": true}, http.StatusOK)
}

func (s *Server) handleStopQueue(w http.ResponseWriter, r *http.Request) {
	s.Queue.Stop()
	respondJSON(w, map[string]bool{"active": false}, http.StatusOK)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.DB.ToggleSkip(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.queueChanged(map[string]interface{}{"id": id, "status": status})
	if status == database.StatusPending {
		s.Queue.Trigger()
	}
	respondJSON(w, map[string]interface{}{"id": id, "status": status}, http.StatusOK)
}

func (s *Server) handleRemoveQueueItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.DB.RemoveQueueItem(id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.queueChanged(map[string]interface{}{"removed": id})
	respondJSON(w, map[string]string{"removed": id}, http.StatusOK)
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := s.DB.ClearCompleted()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.queueChanged(map[string]interface{}{"cleared": n})
	respondJSON(w, map[string]int64{"removed": n}, http.StatusOK)
}

// handleClearQueue removes everything except the running item.
func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := s.DB.ClearQueue()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.queueChanged(map[string]interface{}{"cleared": n})
	respondJSON(w, map[string]int64{"removed": n}, http.StatusOK)
}

func (s *Server) queueChanged(data interface{}) {
	s.pub.Publish(queue.EventQueueUpdated, data)
}
