// ABOUTME: Request handlers for the API routes and the error-to-status mapping.
// ABOUTME: Starting a workflow returns 202 with the run ID; the run continues in the background.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/planner"
	"github.com/2389-research/viewclone/publish"
)

type errorResponse struct {
	Error string `json:"error"`
}

type startedResponse struct {
	RunID    string           `json:"run_id"`
	EntityID string           `json:"entity_id"`
	Plan     string           `json:"plan"`
	Steps    []string         `json:"steps"`
	Version  *content.Version `json:"version,omitempty"`
}

type promoteRequest struct {
	EnvironmentID string `json:"environment_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	var opts planner.Options
	if err := decodeBody(r, &opts); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.Clone(r.Context(), chi.URLParam(r, "versionID"), opts)
	s.writeStarted(w, res, err)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.Promote(r.Context(), chi.URLParam(r, "versionID"), req.EnvironmentID)
	s.writeStarted(w, res, err)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Publish(r.Context(), chi.URLParam(r, "contentViewID"))
	s.writeStarted(w, res, err)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.exec.Status(chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	h, err := s.exec.Resume(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": h.ID})
}

type taskStatus struct {
	ID         string `json:"id"`
	Pending    bool   `json:"pending?"`
	StatusHTML string `json:"status_html"`
}

// handleDefinitionStatus reports the runs named by task_ids (or task_ids[]).
// Unknown IDs are left out of the response.
func (s *Server) handleDefinitionStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.exec.Statuses(taskIDs(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	statuses := make([]taskStatus, 0, len(runs))
	for _, run := range runs {
		html, err := renderStatusHTML(run)
		if err != nil {
			s.writeError(w, err)
			return
		}
		statuses = append(statuses, taskStatus{ID: run.ID, Pending: run.Pending(), StatusHTML: html})
	}
	writeJSON(w, http.StatusOK, map[string][]taskStatus{"task_statuses": statuses})
}

// taskIDs collects task_ids and task_ids[] query values, splitting on commas.
func taskIDs(r *http.Request) []string {
	q := r.URL.Query()
	var ids []string
	seen := make(map[string]bool)
	for _, key := range []string{"task_ids", "task_ids[]"} {
		for _, v := range q[key] {
			for _, id := range strings.Split(v, ",") {
				id = strings.TrimSpace(id)
				if id != "" && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

func (s *Server) writeStarted(w http.ResponseWriter, res *publish.Result, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	steps := res.Plan.Steps()
	ids := make([]string, len(steps))
	for i, st := range steps {
		ids[i] = st.ID
	}
	writeJSON(w, http.StatusAccepted, startedResponse{
		RunID:    res.Run.ID,
		EntityID: res.Plan.EntityID,
		Plan:     res.Plan.Describe(),
		Steps:    ids,
		Version:  res.Version,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, content.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, content.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("component=server action=error err=%v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &content.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
