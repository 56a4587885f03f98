package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/stories-now/internal/documents"
	"github.com/MimeLyc/stories-now/internal/jobs"
	"github.com/MimeLyc/stories-now/internal/presenter"
)

type jobResponse struct {
	*jobs.Job
	StatusLabel string `json:"status_label"`
	KindLabel   string `json:"kind_label"`
}

func newJobResponse(job *jobs.Job) jobResponse {
	return jobResponse{
		Job:         job,
		StatusLabel: presenter.Label(job.Status),
		KindLabel:   presenter.KindLabel(job.Kind),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	list := s.jobs.List()
	active := r.URL.Query().Get("active") == "true"
	ret := make([]jobResponse, 0, len(list))
	for _, job := range list {
		if job == nil || (active && job.IsDone()) {
			continue
		}
		ret = append(ret, newJobResponse(job))
	}
	writeJSON(w, http.StatusOK, ret)
}

// handleJob serves /api/jobs/{id} (GET) and /api/jobs/{id}/cancel (POST).
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	action := ""
	if strings.HasSuffix(rest, "/cancel") {
		action = "cancel"
		rest = strings.TrimSuffix(rest, "/cancel")
	}
	jobID := strings.Trim(rest, "/")
	if decoded, err := url.PathUnescape(jobID); err == nil {
		jobID = decoded
	}
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, ok := s.jobs.Get(jobID)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, newJobResponse(job))
	case action == "cancel" && r.Method == http.MethodPost:
		if s.cancel == nil {
			writeError(w, http.StatusNotImplemented, "cancellation is not available")
			return
		}
		h, ok := s.cancel.Get(jobID)
		if !ok {
			writeError(w, http.StatusNotFound, "job is not being polled")
			return
		}
		h.Cancel()
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type eventsResponse struct {
	Events  []presenter.Event `json:"events"`
	LastSeq int64             `json:"last_seq"`
}

// handleEvents serves events newer than ?since=N. Clients poll it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:  s.events.Since(since),
		LastSeq: s.events.LastSeq(),
	})
}

type documentsResponse struct {
	Documents []documents.Document `json:"documents"`
	FetchedAt *time.Time           `json:"fetched_at,omitempty"`
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.documents == nil {
		writeError(w, http.StatusNotImplemented, "document list is not available")
		return
	}
	resp := documentsResponse{Documents: s.documents.Documents()}
	if at := s.documents.FetchedAt(); !at.IsZero() {
		resp.FetchedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
