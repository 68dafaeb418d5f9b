// Package api provides HTTP API handlers for the formcheck session history.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/formcheck/internal/deviation"
	"github.com/ayusman/formcheck/internal/session"
	"github.com/ayusman/formcheck/internal/store"
)

// maxListLimit caps the number of summaries returned by one list request.
const maxListLimit = 500

// SessionHandler handles HTTP requests for stored session summaries.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

// ServeHTTP routes /api/sessions and /api/sessions/{id}.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type summaryResponse struct {
	ID                 string               `json:"id"`
	SessionID          string               `json:"session_id"`
	UserID             string               `json:"user_id"`
	ProgramID          string               `json:"program_id"`
	Exercise           string               `json:"exercise"`
	Deviations         *deviation.Set       `json:"deviations"`
	TotalErrors        int                  `json:"total_errors"`
	FramesProcessed    int                  `json:"frames_processed"`
	Labels             []session.LabelStats `json:"labels"`
	TrajectoryDistance float64              `json:"trajectory_distance"`
	StartedAt          string               `json:"session_start_time"`
	EndedAt            string               `json:"session_end_time"`
	Delivered          bool                 `json:"delivered"`
	DeliveryError      string               `json:"delivery_error,omitempty"`
	DeliveredAt        string               `json:"delivered_at,omitempty"`
}

type listSessionsResponse struct {
	Sessions []summaryResponse `json:"sessions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// toResponse converts a store.SessionSummary to a summaryResponse.
func toResponse(s *store.SessionSummary) summaryResponse {
	resp := summaryResponse{
		ID:                 s.ID,
		SessionID:          s.SessionID,
		UserID:             s.SubjectID,
		ProgramID:          s.ProgramID,
		Exercise:           s.Exercise,
		Deviations:         s.Deviations,
		TotalErrors:        s.TotalErrors,
		FramesProcessed:    s.FramesProcessed,
		Labels:             s.Labels,
		TrajectoryDistance: s.TrajectoryDistance,
		StartedAt:          s.StartedAt.Format(timeLayout),
		EndedAt:            s.EndedAt.Format(timeLayout),
		Delivered:          s.Delivered,
		DeliveryError:      s.DeliveryError,
	}
	if resp.Labels == nil {
		resp.Labels = []session.LabelStats{}
	}
	if s.DeliveredAt != nil {
		resp.DeliveredAt = s.DeliveredAt.Format(timeLayout)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/sessions. Optional query parameters: user_id, limit.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{SubjectID: r.URL.Query().Get("user_id")}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if filter.Limit == 0 {
		filter.Limit = maxListLimit
	}

	summaries, err := h.store.Summaries().List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{
		Sessions: make([]summaryResponse, 0, len(summaries)),
	}
	for _, s := range summaries {
		response.Sessions = append(response.Sessions, toResponse(s))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/sessions/{id}.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	summary, err := h.store.Summaries().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(summary))
}

// delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	err := h.store.Summaries().Delete(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
