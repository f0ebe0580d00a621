package setpointd

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reactorlab/setpoint-core/internal/metrics"
	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/internal/surrogate"
	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/models"
	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

type HTTPServer struct {
	mux      *http.ServeMux
	store    *JobStore
	Executor *Executor
	model    process.Model
	recorder *metrics.Recorder

	mu  sync.RWMutex
	sur *surrogate.Surrogate
}

func NewHTTPServer(store *JobStore, executor *Executor, model process.Model, recorder *metrics.Recorder) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
		model:    model,
		recorder: recorder,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/jobs", s.handleJobs)
	s.mux.HandleFunc("/v1/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/v1/predict", s.handlePredict)
	s.mux.HandleFunc("/v1/propose", s.handlePropose)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

// SetSurrogate wires the inverse surrogate behind /v1/propose. Nil
// leaves the endpoint answering 503.
func (s *HTTPServer) SetSurrogate(sur *surrogate.Surrogate) {
	s.mu.Lock()
	s.sur = sur
	s.mu.Unlock()
}

func (s *HTTPServer) surrogate() *surrogate.Surrogate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sur
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"model":     s.model.Name(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

// handleJobs handles /v1/jobs
func (s *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleJobByID handles /v1/jobs/{id} and related endpoints
func (s *HTTPServer) handleJobByID(w http.ResponseWriter, r *http.Request) {
	// Parse path: /v1/jobs/{id}, /v1/jobs/{id}:cancel, /v1/jobs/{id}/trace
	// or /v1/jobs/{id}/stream
	path := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	if jobID, ok := strings.CutSuffix(path, ":cancel"); ok {
		if r.Method == http.MethodPost {
			s.handleCancelJob(w, r, jobID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if jobID, ok := strings.CutSuffix(path, "/trace"); ok {
		if r.Method == http.MethodGet {
			s.handleJobTrace(w, r, jobID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if jobID, ok := strings.CutSuffix(path, "/stream"); ok {
		if r.Method == http.MethodGet {
			s.handleJobStream(w, r, jobID)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if r.Method == http.MethodGet {
		s.handleGetJob(w, r, path)
	} else {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCreateJob handles POST /v1/jobs: it registers the job and
// starts the search immediately.
func (s *HTTPServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID          string   `json:"job_id,omitempty"`
		CBRef          *float64 `json:"c_b_ref"`
		MaxEvaluations int      `json:"max_evaluations,omitempty"`
		Seed           int64    `json:"seed,omitempty"`
		Restarts       int      `json:"restarts,omitempty"`
		Polish         *bool    `json:"polish,omitempty"`
		CallbackURL    string   `json:"callback_url,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.CBRef == nil {
		s.writeError(w, http.StatusBadRequest, "c_b_ref is required")
		return
	}
	if math.IsNaN(*req.CBRef) || math.IsInf(*req.CBRef, 0) {
		s.writeError(w, http.StatusBadRequest, "c_b_ref must be finite")
		return
	}
	if req.MaxEvaluations < 0 {
		s.writeError(w, http.StatusBadRequest, "max_evaluations cannot be negative")
		return
	}
	if req.Restarts < 0 {
		s.writeError(w, http.StatusBadRequest, "restarts cannot be negative")
		return
	}

	spec := models.JobSpec{
		CBRef:          *req.CBRef,
		MaxEvaluations: req.MaxEvaluations,
		Seed:           req.Seed,
		Restarts:       req.Restarts,
		Polish:         req.Polish,
		CallbackURL:    req.CallbackURL,
	}

	if err := s.Executor.ValidateSpec(spec); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.store.Create(req.JobID, spec)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			s.writeError(w, http.StatusConflict, err.Error())
		} else {
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	started, err := s.Executor.Start(job.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Info("job created (HTTP)", "job_id", started.ID, "c_b_ref", spec.CBRef)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job": started,
	})
}

// handleListJobs handles GET /v1/jobs with pagination and filtering
func (s *HTTPServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	var status models.JobStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status = models.ParseJobStatus(statusStr)
		if status == "" {
			s.writeError(w, http.StatusBadRequest, "unknown status: "+statusStr)
			return
		}
	}

	recs := s.store.List(limit, offset, status)
	jobs := make([]models.Job, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, rec.Job)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"jobs": jobs,
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(jobs),
		},
	})
}

// handleGetJob handles GET /v1/jobs/{id}
func (s *HTTPServer) handleGetJob(w http.ResponseWriter, _ *http.Request, jobID string) {
	rec, ok := s.store.Get(jobID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := map[string]any{
		"job": rec.Job,
	}
	if rec.Result != nil {
		resp["result"] = rec.Result
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCancelJob handles POST /v1/jobs/{id}:cancel
func (s *HTTPServer) handleCancelJob(w http.ResponseWriter, _ *http.Request, jobID string) {
	updated, err := s.Executor.Stop(jobID)
	if err != nil {
		switch {
		case errors.Is(err, ErrJobNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrJobIDMissing):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrJobTerminal):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	logger.Info("job cancelled (HTTP)", "job_id", jobID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job": updated,
	})
}

// handleJobTrace handles GET /v1/jobs/{id}/trace
func (s *HTTPServer) handleJobTrace(w http.ResponseWriter, _ *http.Request, jobID string) {
	if _, ok := s.store.Get(jobID); !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	trace := s.recorder.Trace(jobID)
	if trace == nil {
		trace = []setpoint.ProgressPoint{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"trace":  trace,
	})
}

// handleJobStream handles GET /v1/jobs/{id}/stream (SSE). Progress
// points are replayed from the recorder as they appear; the stream
// closes with a "complete" event once the job is terminal.
func (s *HTTPServer) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	rec, ok := s.store.Get(jobID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	interval := 250 * time.Millisecond
	if intervalStr := r.URL.Query().Get("interval_ms"); intervalStr != "" {
		if intervalMs, err := strconv.ParseFloat(intervalStr, 64); err == nil && intervalMs > 0 {
			interval = utils.MsToTime(intervalMs)
		}
	}

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	prevStatus := rec.Job.Status
	s.sendSSEEvent(w, "status", map[string]any{"status": rec.Job.Status})
	flush()

	// Progress points carry a monotone evaluation counter, so tracking
	// the last sent one survives the recorder thinning its buffer.
	lastEval := 0

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Client disconnected.
			return
		case <-ticker.C:
			rec, ok := s.store.Get(jobID)
			if !ok {
				s.sendSSEEvent(w, "error", map[string]any{"error": "job not found"})
				return
			}

			for _, p := range s.recorder.Trace(jobID) {
				if p.Evaluation > lastEval {
					s.sendSSEEvent(w, "progress", p)
					lastEval = p.Evaluation
				}
			}

			if rec.Job.Status != prevStatus {
				s.sendSSEEvent(w, "status", map[string]any{"status": rec.Job.Status})
				prevStatus = rec.Job.Status
			}

			if rec.Job.Status.Terminal() {
				done := map[string]any{"status": rec.Job.Status}
				if rec.Job.Error != "" {
					done["error"] = rec.Job.Error
				}
				if rec.Result != nil {
					done["result"] = rec.Result
				}
				s.sendSSEEvent(w, "complete", done)
				flush()
				return
			}
			flush()
		}
	}
}

// handlePredict handles POST /v1/predict: a one-shot forward model
// evaluation at a user-supplied setpoint.
func (s *HTTPServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		F    *float64 `json:"f"`
		QDot *float64 `json:"q_dot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.F == nil || req.QDot == nil {
		s.writeError(w, http.StatusBadRequest, "f and q_dot are required")
		return
	}

	sp := process.Setpoint{F: *req.F, QDot: *req.QDot}
	if bounds := s.Executor.Bounds(); !bounds.Contains(sp) {
		s.writeError(w, http.StatusBadRequest, "setpoint outside operating box")
		return
	}

	out, err := s.model.Predict(sp)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"model": s.model.Name(),
		"f":     sp.F,
		"q_dot": sp.QDot,
		"c_a":   out.CA,
		"c_b":   out.CB,
		"t_k":   out.TK,
	})
}

// handlePropose handles POST /v1/propose: the inverse surrogate maps a
// target concentration to a candidate setpoint, which is then checked
// against the forward model.
func (s *HTTPServer) handlePropose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sur := s.surrogate()
	if sur == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no surrogate loaded")
		return
	}

	var req struct {
		CBRef *float64 `json:"c_b_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.CBRef == nil {
		s.writeError(w, http.StatusBadRequest, "c_b_ref is required")
		return
	}

	sp, err := sur.Propose(*req.CBRef)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.model.Predict(sp)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"c_b_ref": *req.CBRef,
		"f":       sp.F,
		"q_dot":   sp.QDot,
		"c_a":     out.CA,
		"c_b":     out.CB,
		"t_k":     out.TK,
	})
}

// sendSSEEvent sends a Server-Sent Event
func (s *HTTPServer) sendSSEEvent(w http.ResponseWriter, eventType string, data any) {
	// Format: event: <type>\ndata: <json>\n\n
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Error("failed to marshal SSE event data", "error", err)
		return
	}

	// Errors are logged but not returned; SSE streams are best-effort.
	if _, err := w.Write([]byte("event: " + eventType + "\n")); err != nil {
		logger.Error("failed to write SSE event header", "error", err)
		return
	}
	if _, err := w.Write([]byte("data: " + string(jsonData) + "\n\n")); err != nil {
		logger.Error("failed to write SSE event data", "error", err)
		return
	}
}

// Helper functions

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
