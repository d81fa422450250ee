package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mkaufmann/toolbridge/internal/telemetry"
)

// Upstream is the contract the executor needs from the crawling service
// client. Narrowing it to an interface keeps the orchestrator testable
// without a live upstream.
type Upstream interface {
	SubmitAndAwait(ctx context.Context, payload map[string]any) (*TaskResult, error)
	Health(ctx context.Context) (map[string]any, error)
}

// TaskResult is the terminal payload of an upstream crawl task.
type TaskResult struct {
	Status  string       `json:"status"`
	Results []PageResult `json:"results"`
	Error   string       `json:"error"`
}

// PageResult is one page entry inside a completed task.
type PageResult struct {
	StatusCode  int             `json:"status_code"`
	Markdown    json.RawMessage `json:"markdown"`
	CleanedHTML string          `json:"cleaned_html"`
	Metadata    map[string]any  `json:"metadata"`
	Links       PageLinks       `json:"links"`
	Screenshot  string          `json:"screenshot"`
}

// PageLinks carries extracted link lists, split by locality.
type PageLinks struct {
	Internal []LinkRef `json:"internal"`
	External []LinkRef `json:"external"`
}

// LinkRef is a single extracted anchor.
type LinkRef struct {
	Href string `json:"href"`
}

// TaskFailedError reports a task the upstream marked as failed.
type TaskFailedError struct {
	Reason string
}

func (e *TaskFailedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("crawl task failed: %s", reason)
}

// TaskTimeoutError reports a task that never reached a terminal status
// within the poll budget.
type TaskTimeoutError struct {
	TaskID   string
	Attempts int
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %d polls", e.TaskID, e.Attempts)
}

// ClientConfig configures the upstream task client.
type ClientConfig struct {
	BaseURL      string
	APIToken     string
	UserAgent    string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
}

// TaskClient talks to the asynchronous upstream crawling service: POST
// submits work and returns a task id, GET polls the task until a terminal
// status. The client does not rate-limit; that is the executor's job.
type TaskClient struct {
	baseURL      string
	apiToken     string
	userAgent    string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	logger       *zap.Logger
}

// NewTaskClient constructs a TaskClient.
func NewTaskClient(cfg ClientConfig, logger *zap.Logger) *TaskClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 30
	}
	return &TaskClient{
		baseURL:      trimTrailingSlash(cfg.BaseURL),
		apiToken:     cfg.APIToken,
		userAgent:    cfg.UserAgent,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		logger:       logger,
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func (c *TaskClient) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
}

// SubmitAndAwait submits a crawl payload and polls until the task completes,
// fails, or exceeds the poll budget.
func (c *TaskClient) SubmitAndAwait(ctx context.Context, payload map[string]any) (*TaskResult, error) {
	start := time.Now()
	taskID, err := c.submit(ctx, payload)
	if err != nil {
		telemetry.ObserveUpstreamRequest("crawl", "submit_error", time.Since(start))
		return nil, err
	}

	result, err := c.await(ctx, taskID)
	if err != nil {
		telemetry.ObserveUpstreamRequest("crawl", "error", time.Since(start))
		return nil, err
	}
	telemetry.ObserveUpstreamRequest("crawl", "ok", time.Since(start))
	return result, nil
}

func (c *TaskClient) submit(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal crawl payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/crawl", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build crawl request: %w", err)
	}
	c.setHeaders(req, "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit crawl task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit crawl task: unexpected status %d", resp.StatusCode)
	}

	var submitted struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", fmt.Errorf("decode crawl submission: %w", err)
	}
	if submitted.TaskID == "" {
		return "", fmt.Errorf("crawl submission returned no task_id")
	}
	c.logger.Debug("crawl task submitted", zap.String("task_id", submitted.TaskID))
	return submitted.TaskID, nil
}

func (c *TaskClient) await(ctx context.Context, taskID string) (*TaskResult, error) {
	ticker := time.NewTimer(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("await task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
		ticker.Reset(c.pollInterval)

		result, err := c.pollOnce(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch result.Status {
		case "completed":
			return result, nil
		case "failed":
			return nil, &TaskFailedError{Reason: result.Error}
		case "pending", "running", "processing":
			continue
		default:
			return nil, fmt.Errorf("unknown task status: %s", result.Status)
		}
	}

	return nil, &TaskTimeoutError{TaskID: taskID, Attempts: c.maxPolls}
}

func (c *TaskClient) pollOnce(ctx context.Context, taskID string) (*TaskResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/task/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("build task poll request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll task %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll task %s: unexpected status %d", taskID, resp.StatusCode)
	}

	var result TaskResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode task %s status: %w", taskID, err)
	}
	return &result, nil
}

// Health probes the upstream /health endpoint.
func (c *TaskClient) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream health check: unexpected status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return payload, nil
}
