package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"notionfast-go/internal/storage"
)

// callListResponse is the GET /api/v1/activity payload.
type callListResponse struct {
	Calls  []*storage.CallRecord `json:"calls"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// parseCallFilter builds a journal filter from the request query string.
func parseCallFilter(r *http.Request) (storage.Filter, error) {
	filter := storage.DefaultFilter()
	query := r.URL.Query()

	filter.Tool = query.Get("tool")
	filter.Backend = query.Get("backend")
	filter.Status = query.Get("status")

	if v := query.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.StartTime = t
	}
	if v := query.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.EndTime = t
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, err
		}
		filter.Offset = n
	}

	filter.Validate()
	return filter, nil
}

// handleListActivity handles GET /api/v1/activity
func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusServiceUnavailable, "call journal is disabled")
		return
	}

	filter, err := parseCallFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}

	calls, total, err := s.journal.List(filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list calls: "+err.Error())
		return
	}

	s.writeSuccess(w, callListResponse{
		Calls:  calls,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// handleGetActivityDetail handles GET /api/v1/activity/{id}
func (s *Server) handleGetActivityDetail(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusServiceUnavailable, "call journal is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	record, err := s.journal.Get(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load call: "+err.Error())
		return
	}
	if record == nil {
		s.writeError(w, http.StatusNotFound, "call not found: "+id)
		return
	}

	s.writeSuccess(w, record)
}
