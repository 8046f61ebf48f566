// Package api is the HTTP approval/status surface: the control plane a
// human (or the chat-bot notifier, out of core scope) drives to approve,
// reject, cancel, or publish a job, plus read-only dashboard endpoints.
// Grounded on _examples/livepeer-catalyst-api/api/http.go's
// ListenAndServe/router-construction shape and middleware/auth.go's Basic
// Auth wrapper, with the endpoint surface itself taken from
// original_source/services/factory_api/app.py.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/MindDevastation/factory-vm/approval"
	"github.com/MindDevastation/factory-vm/config"
	apperrors "github.com/MindDevastation/factory-vm/errors"
	"github.com/MindDevastation/factory-vm/log"
	"github.com/MindDevastation/factory-vm/metrics"
	"github.com/MindDevastation/factory-vm/middleware"
	"github.com/MindDevastation/factory-vm/paths"
	"github.com/MindDevastation/factory-vm/preflight"
	"github.com/MindDevastation/factory-vm/store"
)

// Server wires the approval service and store to a set of httprouter
// handlers. Clock is injectable so tests can pin "now".
type Server struct {
	Store     *store.Store
	Approval  *approval.Service
	Preflight *preflight.Checker
	Cfg       config.Config
	Metrics   *metrics.Metrics
	Clock     config.TimestampGenerator
}

func (s *Server) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.GetTime()
}

// ListenAndServe builds the router and serves it on cfg.APIAddr until ctx
// is cancelled, then shuts down within 5s.
func ListenAndServe(ctx context.Context, s *Server) error {
	router := s.Router()
	httpServer := http.Server{Addr: s.Cfg.APIAddr, Handler: router}

	log.LogNoRequestID("starting approval API", "addr", s.Cfg.APIAddr)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) Router() *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest()
	auth := func(h httprouter.Handle) httprouter.Handle {
		return middleware.RequireBasicAuth(s.Cfg.APIBasicAuthUser, s.Cfg.APIBasicAuthPass, withLogging(h))
	}

	router.GET("/v1/jobs", auth(s.listJobs))
	router.GET("/v1/jobs/:id", auth(s.getJob))
	router.GET("/v1/jobs/:id/logs", auth(s.getJobLogs))
	router.GET("/v1/jobs/:id/qa", auth(s.getJobQA))
	router.GET("/v1/workers", auth(s.listWorkers))
	router.POST("/v1/drafts", auth(s.createDraft))
	router.POST("/v1/jobs/:id/approve", auth(s.approve))
	router.POST("/v1/jobs/:id/reject", auth(s.reject))
	router.POST("/v1/jobs/:id/cancel", auth(s.cancel))
	router.POST("/v1/jobs/:id/mark_published", auth(s.markPublished))

	return router
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseJobID(w http.ResponseWriter, ps httprouter.Params) (int64, bool) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		apperrors.WriteHTTPBadRequest(w, "invalid job id", err)
		return 0, false
	}
	return id, true
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	state := r.URL.Query().Get("state")
	jobs, err := s.Store.ListJobs(r.Context(), state, 500)
	if err != nil {
		apperrors.WriteHTTPInternalServerError(w, "list jobs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseJobID(w, ps)
	if !ok {
		return
	}
	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		apperrors.WriteHTTPNotFound(w, "job not found", err)
		return
	}
	qa, _ := s.Store.GetQAReport(r.Context(), id)
	upload, _ := s.Store.GetYouTubeUpload(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job, "qa": qa, "youtube": upload})
}

func (s *Server) getJobLogs(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseJobID(w, ps)
	if !ok {
		return
	}
	tail := 200
	if v := r.URL.Query().Get("tail"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tail = n
		}
	}
	text, err := paths.ReadJobLog(s.Cfg.StorageRoot, id)
	if err != nil {
		apperrors.WriteHTTPInternalServerError(w, "read logs failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(tailLines(text, tail)))
}

func (s *Server) getJobQA(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseJobID(w, ps)
	if !ok {
		return
	}
	qa, err := s.Store.GetQAReport(r.Context(), id)
	if err != nil {
		apperrors.WriteHTTPInternalServerError(w, "read qa report failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"qa": qa})
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	workers, err := s.Store.ListWorkers(r.Context(), 200)
	if err != nil {
		apperrors.WriteHTTPInternalServerError(w, "list workers failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workers": workers})
}

// createDraft validates a user-composed draft against the origin and, on
// success, materializes it straight through to a READY_FOR_RENDER job. A
// validation failure returns 422 with per-field errors rather than a bare
// 400, since the client needs to know which form field to fix.
func (s *Server) createDraft(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var d preflight.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		apperrors.WriteHTTPBadRequest(w, "invalid draft payload", err)
		return
	}

	jobID, fieldErrs, err := s.Preflight.Check(r.Context(), d, s.now())
	if err != nil {
		apperrors.WriteHTTPInternalServerError(w, "draft check failed", err)
		return
	}
	if len(fieldErrs) > 0 {
		apperrors.WriteHTTPFieldErrors(w, fieldErrs)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID})
}

type approvePayload struct {
	Comment string `json:"comment"`
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseJobID(w, ps)
	if !ok {
		return
	}
	var payload approvePayload
	_ = json.NewDecoder(r.Body).Decode(&payload)

	if err := s.Approval.Approve(r.Context(), id, payload.Comment, s.now()); err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type rejectPayload struct {
	Comment string `json:"comment"`
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseJobID(w, ps)
	if !ok {
		return
	}
	var payload rejectPayload
	_ = json.NewDecoder(r.Body).Decode(&payload)

	if err := s.Approval.Reject(r.Context(), id, payload.Comment, s.now()); err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type cancelPayload struct {
	Reason string `json:"reason"`
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseJobID(w, ps)
	if !ok {
		return
	}
	var payload cancelPayload
	_ = json.NewDecoder(r.Body).Decode(&payload)

	if err := s.Approval.Cancel(r.Context(), id, payload.Reason, s.now()); err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) markPublished(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := parseJobID(w, ps)
	if !ok {
		return
	}
	deleteAt, err := s.Approval.MarkPublished(r.Context(), id, s.now())
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "delete_mp4_at": deleteAt.Unix()})
}

// writeTransitionError maps an approval.Service error to the HTTP status
// the spec assigns it: 404 for a missing job, 409 for a state conflict.
func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		apperrors.WriteHTTPNotFound(w, "job not found", err)
	case errors.Is(err, approval.ErrConflict):
		apperrors.WriteHTTPConflict(w, err.Error(), nil)
	default:
		apperrors.WriteHTTPBadRequest(w, err.Error(), err)
	}
}

func tailLines(text string, n int) string {
	if text == "" {
		return ""
	}
	lines := splitLines(text)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
