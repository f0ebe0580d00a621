//go:build integration
// +build integration

package integration_test

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reactorlab/setpoint-core/internal/metrics"
	"github.com/reactorlab/setpoint-core/internal/neural"
	"github.com/reactorlab/setpoint-core/internal/reactor"
	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/internal/setpointd"
	"github.com/reactorlab/setpoint-core/internal/surrogate"
	"github.com/reactorlab/setpoint-core/pkg/process"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// newDaemon wires a full in-process daemon around the analytic plant.
func newDaemon() (*setpointd.HTTPServer, *setpointd.JobStore) {
	model := reactor.NewCSTR()
	store := setpointd.NewJobStore()
	recorder := metrics.NewRecorder(metrics.DefaultMaxJobs, metrics.DefaultMaxPoints)

	opts := setpoint.DefaultOptions()
	opts.MaxEvaluations = 600
	opts.PolishReserve = 150
	opts.Seed = 5
	opts.ProgressStride = 10

	executor := setpointd.NewExecutor(store, model, recorder, opts)
	return setpointd.NewHTTPServer(store, executor, model, recorder), store
}

func doRequest(t *testing.T, srv *setpointd.HTTPServer, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	var parsed map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("invalid json from %s %s: %v: %s", method, path, err, rr.Body.String())
		}
	}
	return rr, parsed
}

// waitForJobHTTP polls GET /v1/jobs/{id} until the job is terminal and
// returns the last response body.
func waitForJobHTTP(t *testing.T, srv *setpointd.HTTPServer, jobID string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rr, body := doRequest(t, srv, http.MethodGet, "/v1/jobs/"+jobID, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 on get, got %d: %s", rr.Code, rr.Body.String())
		}
		job, ok := body["job"].(map[string]any)
		if !ok {
			t.Fatalf("expected job object, got %v", body)
		}
		switch job["status"].(string) {
		case "succeeded", "failed", "cancelled":
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status within %v", jobID, timeout)
	return nil
}

func TestIntegration_HTTPEndpoints_Healthz(t *testing.T) {
	srv, _ := newDaemon()

	rr, body := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["model"] != "analytic-cstr" {
		t.Fatalf("expected analytic-cstr model, got %v", body["model"])
	}
}

func TestIntegration_HTTPEndpoints_JobLifecycle(t *testing.T) {
	srv, _ := newDaemon()

	// 1. Create the job; the daemon starts it immediately.
	rr, body := doRequest(t, srv, http.MethodPost, "/v1/jobs", `{"job_id": "job-int-life", "c_b_ref": 0.35}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	job, ok := body["job"].(map[string]any)
	if !ok {
		t.Fatalf("expected job object, got %v", body)
	}
	if job["id"].(string) != "job-int-life" {
		t.Fatalf("expected job id echoed, got %v", job["id"])
	}
	if job["status"].(string) != "running" {
		t.Fatalf("expected running status after create, got %v", job["status"])
	}

	// 2. Poll until the search finishes.
	final := waitForJobHTTP(t, srv, "job-int-life", 10*time.Second)
	finalJob := final["job"].(map[string]any)
	if finalJob["status"].(string) != "succeeded" {
		t.Fatalf("expected succeeded, got %v (error: %v)", finalJob["status"], finalJob["error"])
	}

	// 3. Check the stored result.
	result, ok := final["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result for a succeeded job")
	}
	if result["c_b_ref"].(float64) != 0.35 {
		t.Fatalf("expected c_b_ref 0.35 echoed, got %v", result["c_b_ref"])
	}
	evals := result["evaluations"].(float64)
	if evals <= 0 || evals > 600 {
		t.Fatalf("evaluations %v outside (0, 600]", evals)
	}
	best, ok := result["best"].(map[string]any)
	if !ok {
		t.Fatalf("expected best setpoint object")
	}
	f := best["f"].(float64)
	qdot := best["q_dot"].(float64)
	if f < 5 || f > 100 || qdot < -5000 || qdot > 0 {
		t.Fatalf("best setpoint (%v, %v) outside the operating box", f, qdot)
	}

	// 4. The recorder kept an incumbent trace for the job.
	rr, body = doRequest(t, srv, http.MethodGet, "/v1/jobs/job-int-life/trace", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on trace, got %d", rr.Code)
	}
	if body["job_id"].(string) != "job-int-life" {
		t.Fatalf("expected job_id echoed, got %v", body["job_id"])
	}
	trace, ok := body["trace"].([]any)
	if !ok || len(trace) == 0 {
		t.Fatalf("expected a non-empty trace, got %v", body["trace"])
	}

	// 5. The job shows up in the listing.
	rr, body = doRequest(t, srv, http.MethodGet, "/v1/jobs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on list, got %d", rr.Code)
	}
	jobs, ok := body["jobs"].([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("expected exactly one job in the list, got %v", body["jobs"])
	}
}

func TestIntegration_HTTPEndpoints_ListFilterAndPagination(t *testing.T) {
	srv, _ := newDaemon()

	// Create a handful of jobs over different targets and let them finish.
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("job-int-list-%d", i)
		target := 0.30 + 0.02*float64(i)
		rr, _ := doRequest(t, srv, http.MethodPost, "/v1/jobs",
			fmt.Sprintf(`{"job_id": %q, "c_b_ref": %g}`, id, target))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202 for %s, got %d: %s", id, rr.Code, rr.Body.String())
		}
	}
	for i := 0; i < 5; i++ {
		waitForJobHTTP(t, srv, fmt.Sprintf("job-int-list-%d", i), 10*time.Second)
	}

	rr, body := doRequest(t, srv, http.MethodGet, "/v1/jobs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	jobs, ok := body["jobs"].([]any)
	if !ok || len(jobs) != 5 {
		t.Fatalf("expected 5 jobs, got %v", body["jobs"])
	}
	pagination, ok := body["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("expected pagination object")
	}
	if pagination["count"].(float64) != 5 {
		t.Fatalf("expected count 5, got %v", pagination["count"])
	}

	rr, body = doRequest(t, srv, http.MethodGet, "/v1/jobs?limit=2&offset=0", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	jobs, ok = body["jobs"].([]any)
	if !ok || len(jobs) != 2 {
		t.Fatalf("expected 2 jobs with limit=2, got %d", len(jobs))
	}

	rr, body = doRequest(t, srv, http.MethodGet, "/v1/jobs?status=succeeded", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	jobs, ok = body["jobs"].([]any)
	if !ok || len(jobs) != 5 {
		t.Fatalf("expected 5 succeeded jobs, got %d", len(jobs))
	}
	for _, jobAny := range jobs {
		job, ok := jobAny.(map[string]any)
		if !ok {
			t.Fatalf("expected job object")
		}
		if job["status"].(string) != "succeeded" {
			t.Fatalf("expected succeeded status, got %v", job["status"])
		}
	}

	rr, body = doRequest(t, srv, http.MethodGet, "/v1/jobs?status=pending", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	jobs, ok = body["jobs"].([]any)
	if !ok || len(jobs) != 0 {
		t.Fatalf("expected no pending jobs, got %d", len(jobs))
	}
}

func TestIntegration_HTTPEndpoints_Predict(t *testing.T) {
	srv, _ := newDaemon()

	rr, body := doRequest(t, srv, http.MethodPost, "/v1/predict", `{"f": 12, "q_dot": -10}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := body["t_k"].(float64); math.Abs(got-134.1612) > 1e-9 {
		t.Fatalf("expected t_k 134.1612, got %v", got)
	}
	if got := body["c_b"].(float64); math.Abs(got-0.348650115495) > 1e-9 {
		t.Fatalf("expected c_b 0.348650115495, got %v", got)
	}

	// Out-of-box setpoints are rejected before the model sees them.
	rr, _ = doRequest(t, srv, http.MethodPost, "/v1/predict", `{"f": 200, "q_dot": 0}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an out-of-box setpoint, got %d", rr.Code)
	}
}

func TestIntegration_HTTPEndpoints_Propose(t *testing.T) {
	srv, _ := newDaemon()

	// Without a surrogate the endpoint is unavailable.
	rr, _ := doRequest(t, srv, http.MethodPost, "/v1/propose", `{"c_b_ref": 0.35}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a surrogate, got %d", rr.Code)
	}

	// A constant network keeps the expected proposal exact.
	net, err := neural.New([]int{1, 2}, neural.ActTanh, utils.NewRandSource(1))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := net.SetLayer(0, [][]float64{{0}, {0}}, []float64{0.5, 0.5}); err != nil {
		t.Fatalf("SetLayer error: %v", err)
	}
	sur, err := surrogate.New(net, process.DefaultBounds())
	if err != nil {
		t.Fatalf("surrogate.New error: %v", err)
	}
	srv.SetSurrogate(sur)

	rr, body := doRequest(t, srv, http.MethodPost, "/v1/propose", `{"c_b_ref": 0.35}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := body["f"].(float64); math.Abs(got-52.5) > 1e-9 {
		t.Fatalf("expected f 52.5, got %v", got)
	}
	if got := body["q_dot"].(float64); math.Abs(got-(-2500)) > 1e-9 {
		t.Fatalf("expected q_dot -2500, got %v", got)
	}
	if _, ok := body["c_b"]; !ok {
		t.Fatalf("expected the forward model's c_b in the response")
	}
}
