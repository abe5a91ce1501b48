package hostclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/bytedance/sonic"

	"github.com/cadencehq/cadence/internal/coordinator"
	"github.com/cadencehq/cadence/internal/pkg/logs"
	"github.com/cadencehq/cadence/internal/queue"
	"github.com/cadencehq/cadence/internal/task"
)

// hostConstraint is the range of engine-host versions this scheduler can
// drive. Checked once against /health before any execution traffic.
const hostConstraint = ">= 0.1.0, < 2.0.0"

// ExecuteResponse is the wire shape of POST /cron/execute-sync.
type ExecuteResponse struct {
	Success            bool   `json:"success"`
	Completed          bool   `json:"completed"`
	TimedOut           bool   `json:"timed_out,omitempty"`
	AgentRequestedExit bool   `json:"agent_requested_exit,omitempty"`
	ExitReason         string `json:"exit_reason,omitempty"`
	SessionKey         string `json:"session_key,omitempty"`
	SessionFallback    bool   `json:"session_fallback,omitempty"`
	Error              string `json:"error,omitempty"`
}

// HealthResponse is the wire shape of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// CompletionResponse is the wire shape of GET /cron/check-completion.
type CompletionResponse struct {
	Completed bool   `json:"completed"`
	Reason    string `json:"reason,omitempty"`
}

// QueueStatusResponse is the wire shape of GET /chat/queue/status.
type QueueStatusResponse struct {
	Queue []queue.ItemView `json:"queue"`
}

// Client talks to the engine host's command surface. It is the scheduler's
// only channel to the execution authority; there is no shared memory.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. The HTTP timeout must exceed the coordinator's wait
// ceiling: execute-sync blocks for the whole execution.
func New(baseURL string, executeTimeout time.Duration) *Client {
	if executeTimeout <= 0 {
		executeTimeout = 65 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: executeTimeout},
	}
}

// Verify checks the host is up and its version is within the supported
// range.
func (c *Client) Verify(ctx context.Context) error {
	var h HealthResponse
	if _, err := c.get(ctx, "/health", &h); err != nil {
		return fmt.Errorf("host health check: %w", err)
	}

	v, err := semver.NewVersion(h.Version)
	if err != nil {
		return fmt.Errorf("parse host version %q: %w", h.Version, err)
	}
	constraint, err := semver.NewConstraint(hostConstraint)
	if err != nil {
		return fmt.Errorf("parse host constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("host version %s outside supported range %q", h.Version, hostConstraint)
	}
	logs.CtxInfo(ctx, "[hostclient] connected to host %s (version %s)", c.baseURL, h.Version)
	return nil
}

// ExecuteTask implements scheduler.Runner over HTTP. A non-2xx reply is
// still a structured outcome (408 maps to a timed-out cycle); only a
// transport failure returns an error.
func (c *Client) ExecuteTask(ctx context.Context, req coordinator.Request) (task.Outcome, error) {
	out := task.Outcome{TaskID: req.TaskID, StartedAt: time.Now()}

	status, body, err := c.post(ctx, "/cron/execute-sync", req)
	if err != nil {
		return out, err
	}

	var resp ExecuteResponse
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return out, fmt.Errorf("decode execute response: %w", err)
	}

	out.Completed = resp.Completed
	out.TimedOut = resp.TimedOut || status == http.StatusRequestTimeout
	out.AgentRequestedExit = resp.AgentRequestedExit
	out.ExitFreeText = resp.ExitReason
	out.SessionKey = resp.SessionKey
	out.SessionFallback = resp.SessionFallback
	out.Error = resp.Error
	if !resp.Success && out.Error == "" && !out.TimedOut {
		out.Error = fmt.Sprintf("host returned status %d", status)
	}
	return out, nil
}

// CheckCompletion inspects the latest reply without side effects.
func (c *Client) CheckCompletion(ctx context.Context) (CompletionResponse, error) {
	var resp CompletionResponse
	_, err := c.get(ctx, "/cron/check-completion", &resp)
	return resp, err
}

// QueueStatus fetches the admission queue snapshot.
func (c *Client) QueueStatus(ctx context.Context) (QueueStatusResponse, error) {
	var resp QueueStatusResponse
	_, err := c.get(ctx, "/chat/queue/status", &resp)
	return resp, err
}

// QueueCancel removes a pending queue item and returns its original text.
func (c *Client) QueueCancel(ctx context.Context, queueID string) (string, error) {
	status, body, err := c.post(ctx, "/chat/queue/cancel", map[string]string{"queue_id": queueID})
	if err != nil {
		return "", err
	}
	var resp struct {
		Success       bool   `json:"success"`
		CancelledText string `json:"cancelled_text"`
		Error         string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode cancel response: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("cancel %s: status %d: %s", queueID, status, resp.Error)
	}
	return resp.CancelledText, nil
}

// QueueForce promotes a pending queue item immediately.
func (c *Client) QueueForce(ctx context.Context, queueID string) error {
	status, body, err := c.post(ctx, "/chat/queue/force", map[string]string{"queue_id": queueID})
	if err != nil {
		return err
	}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode force response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("force %s: status %d: %s", queueID, status, resp.Error)
	}
	return nil
}

// --- transport helpers ---

func (c *Client) post(ctx context.Context, path string, body any) (int, []byte, error) {
	raw, err := sonic.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) get(ctx context.Context, path string, into any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	if err := sonic.Unmarshal(data, into); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}
