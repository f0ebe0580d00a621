package setpointd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reactorlab/setpoint-core/internal/setpoint"
	"github.com/reactorlab/setpoint-core/pkg/logger"
	"github.com/reactorlab/setpoint-core/pkg/models"
	"github.com/reactorlab/setpoint-core/pkg/utils"
)

// NotificationPayload is the JSON body posted to a job's callback URL.
type NotificationPayload struct {
	JobID           string           `json:"job_id"`
	Status          models.JobStatus `json:"status"`
	CBRef           float64          `json:"c_b_ref"`
	CreatedAtUnixMs int64            `json:"created_at_unix_ms"`
	StartedAtUnixMs int64            `json:"started_at_unix_ms,omitempty"`
	EndedAtUnixMs   int64            `json:"ended_at_unix_ms,omitempty"`
	Error           string           `json:"error,omitempty"`
	Result          *setpoint.Result `json:"result,omitempty"`
	Timestamp       int64            `json:"timestamp"` // when the notification was sent
}

// Notifier posts job completion callbacks. Deliveries run in their own
// goroutine and retry with backoff; the daemon never blocks on them.
type Notifier struct {
	httpClient *http.Client
	secret     string
	maxRetries int
	backoff    utils.BackoffStrategy
}

// NewNotifier builds a notifier. The secret, when non-empty, is sent in
// the X-Setpoint-Callback-Secret header so receivers can authenticate
// the daemon.
func NewNotifier(secret string, timeout time.Duration, maxRetries int) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Notifier{
		httpClient: &http.Client{Timeout: timeout},
		secret:     secret,
		maxRetries: maxRetries,
		backoff:    utils.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, true),
	}
}

// Notify sends a notification for the given job record asynchronously.
// It returns immediately; an empty callback URL is a no-op.
func (n *Notifier) Notify(callbackURL string, rec JobRecord) {
	if callbackURL == "" {
		return
	}
	if rec.Job.ID == "" {
		logger.Warn("cannot notify: job record has no ID", "callback_url", callbackURL)
		return
	}

	// Replace the {job_id} template in the callback URL if present.
	finalURL := strings.ReplaceAll(callbackURL, "{job_id}", rec.Job.ID)

	payload := NotificationPayload{
		JobID:           rec.Job.ID,
		Status:          rec.Job.Status,
		CBRef:           rec.Job.CBRef,
		CreatedAtUnixMs: rec.Job.CreatedAtUnixMs,
		StartedAtUnixMs: rec.Job.StartedAtUnixMs,
		EndedAtUnixMs:   rec.Job.EndedAtUnixMs,
		Error:           rec.Job.Error,
		Result:          rec.Result,
		Timestamp:       time.Now().UTC().UnixMilli(),
	}

	go n.send(finalURL, payload)
}

// send performs the HTTP POST with retries.
func (n *Notifier) send(callbackURL string, payload NotificationPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal notification payload",
			"callback_url", callbackURL,
			"job_id", payload.JobID,
			"error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.backoff.NextDelay(attempt - 1)
			logger.Debug("retrying notification",
				"callback_url", callbackURL,
				"job_id", payload.JobID,
				"attempt", attempt,
				"delay", delay)
			time.Sleep(delay)
		}

		req, err := http.NewRequest(http.MethodPost, callbackURL, bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "setpoint-core/1.0")
		if n.secret != "" {
			req.Header.Set("X-Setpoint-Callback-Secret", n.secret)
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			logger.Warn("notification attempt failed",
				"callback_url", callbackURL,
				"job_id", payload.JobID,
				"attempt", attempt+1,
				"error", err)
			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		detail := string(respBody)
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Info("notification sent",
				"job_id", payload.JobID,
				"status", payload.Status,
				"status_code", resp.StatusCode)
			return
		}

		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		logger.Warn("notification returned non-2xx status",
			"callback_url", callbackURL,
			"job_id", payload.JobID,
			"status_code", resp.StatusCode,
			"response_body", detail,
			"attempt", attempt+1)
	}

	logger.Error("failed to send notification after retries",
		"callback_url", callbackURL,
		"job_id", payload.JobID,
		"status", payload.Status,
		"max_retries", n.maxRetries,
		"last_error", lastErr)
}
