// Package backend consumes the dashboard backend's REST and websocket
// surfaces: the task list, the polling configuration, and the per-task
// push channels.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mibworks/tasktrack/internal/channel"
	"github.com/mibworks/tasktrack/internal/task"
	"github.com/mibworks/tasktrack/internal/wire"
)

// Config describes how to reach the backend.
type Config struct {
	// BaseURL is the http(s) root, e.g. "https://dash.example.com".
	BaseURL string
	// Namespace is the API namespace segment, e.g. "mib".
	Namespace string
	// APIKey is sent as X-API-Key when non-empty.
	APIKey string
	// RequestTimeout bounds each REST call (default 10s).
	RequestTimeout time.Duration
	// PingInterval is handed to dialed channels (default 10s).
	PingInterval time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	// Logger is optional.
	Logger *zap.Logger
}

// Client is the REST and websocket consumer for one backend.
type Client struct {
	cfg     Config
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger
}

// New validates the config and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend.base_url is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("backend.namespace is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend.base_url must be http or https, got %q", base.Scheme)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, baseURL: base, http: httpClient, logger: logger}, nil
}

// taskDTO mirrors the list endpoint's snake_case task shape.
type taskDTO struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Phase       string          `json:"phase"`
	Progress    *float64        `json:"progress"`
	Percentage  *float64        `json:"percentage"`
	Message     string          `json:"message"`
	ETASeconds  *float64        `json:"eta_seconds"`
	CreatedAt   *time.Time      `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at"`
	Result      json.RawMessage `json:"result"`
}

type listResponse struct {
	Success bool      `json:"success"`
	Tasks   []taskDTO `json:"tasks"`
}

type configResponse struct {
	Success             bool    `json:"success"`
	PollIntervalSeconds float64 `json:"poll_interval_seconds"`
}

// ListTasks fetches the full task list, used for both initial population
// and poll refresh.
func (c *Client) ListTasks(ctx context.Context) ([]task.Record, error) {
	var resp listResponse
	if err := c.getJSON(ctx, "tasks", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("list tasks: backend reported failure")
	}
	out := make([]task.Record, 0, len(resp.Tasks))
	for _, dto := range resp.Tasks {
		rec, err := dto.record()
		if err != nil {
			c.logger.Debug("skipping unusable task row", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// PollInterval fetches the backend-supplied poll interval.
func (c *Client) PollInterval(ctx context.Context) (time.Duration, error) {
	var resp configResponse
	if err := c.getJSON(ctx, "config", &resp); err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, fmt.Errorf("backend config: backend reported failure")
	}
	return time.Duration(resp.PollIntervalSeconds * float64(time.Second)), nil
}

// DialTask opens the push channel for one task id; use "all" for the
// umbrella channel.
func (c *Client) DialTask(ctx context.Context, taskID string) (*channel.Conn, error) {
	addr, err := wire.EndpointURL(c.baseURL.String(), c.cfg.Namespace, taskID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("X-API-Key", c.cfg.APIKey)
	}
	return channel.Dial(ctx, addr, taskID, channel.Options{
		PingInterval: c.cfg.PingInterval,
		HTTPHeader:   header,
		Logger:       c.logger,
	})
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/" + c.cfg.Namespace + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (d taskDTO) record() (task.Record, error) {
	if d.ID == "" {
		return task.Record{}, fmt.Errorf("task row missing id")
	}
	status, ok := wire.NormalizeStatus(d.Status)
	if !ok {
		return task.Record{}, fmt.Errorf("task %s: unknown status %q", d.ID, d.Status)
	}
	rec := task.Record{
		ID:      d.ID,
		Kind:    task.Kind(d.Kind),
		Status:  status,
		Phase:   d.Phase,
		Message: d.Message,
	}
	if pct, ok := (wire.Update{Progress: d.Progress, Percentage: d.Percentage}).Percent(); ok {
		rec.Progress = pct
	}
	if d.ETASeconds != nil {
		v := *d.ETASeconds
		rec.ETASeconds = &v
	}
	if d.CreatedAt != nil {
		rec.CreatedAt = *d.CreatedAt
	}
	if d.StartedAt != nil {
		t := *d.StartedAt
		rec.StartedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		rec.CompletedAt = &t
	}
	if len(d.Result) > 0 {
		rec.Result = append(json.RawMessage(nil), d.Result...)
	}
	return rec, nil
}
