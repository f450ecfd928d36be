package api

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/gorilla/mux"

	"sd-launcher/internal/database"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.RunFilter{
		Prompt: q.Get("prompt"),
		Order:  q.Get("order"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	runs, err := s.DB.ListRuns(filter)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if runs == nil {
		runs = []database.Run{}
	}

	if q.Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="runs.csv"`)
		if err := gocsv.Marshal(runs, w); err != nil {
			s.Logger.Error().Err(err).Msg("failed to write runs csv")
		}
		return
	}
	respondJSON(w, runs, http.StatusOK)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.DB.GetRun(mux.Vars(r)["id"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, run, http.StatusOK)
}

type ratingRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) handleSetRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.DB.SetRating(id, req.Rating); err != nil {
		s.respondErr(w, err)
		return
	}
	run, err := s.DB.GetRun(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.pub.Publish(EventRunsChanged, map[string]interface{}{"id": id, "rating": req.Rating})
	respondJSON(w, run, http.StatusOK)
}

// handleDeleteRun removes a run from the history. With delete_image=true
// the generated image goes too; a missing image is not an error.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleteImage, _ := strconv.ParseBool(r.URL.Query().Get("delete_image"))

	run, err := s.DB.GetRun(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	imageDeleted := false
	if deleteImage && run.ImageName != "" {
		path, err := s.Validator.ValidateFile(s.Config.OutputDir, run.ImageName)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		if err := s.Remover.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.respondErr(w, err)
			return
		}
		imageDeleted = true
		s.Logger.Info().Str("run", id).Str("path", path).Msg("deleted run image")
	}

	if _, err := s.DB.DeleteRun(id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.pub.Publish(EventRunsChanged, map[string]interface{}{"deleted": id})
	respondJSON(w, map[string]interface{}{
		"deleted":       id,
		"image_deleted": imageDeleted,
	}, http.StatusOK)
}

func (s *Server) handleClearRuns(w http.ResponseWriter, r *http.Request) {
	n, err := s.DB.ClearRuns()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.Logger.Info().Int64("runs", n).Msg("cleared run history")
	s.pub.Publish(EventRunsChanged, map[string]interface{}{"cleared": n})
	respondJSON(w, map[string]int64{"deleted": n}, http.StatusOK)
}
