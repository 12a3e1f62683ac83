package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fentz26/pocketd/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// commandTimeout covers a full agent run behind /command.
const commandTimeout = 10 * time.Minute

// Client wraps HTTP calls to the pocketd API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client. Each call carries its own deadline.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// Snapshot fetches lock, scheduler and notification state in parallel.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.get(ctx, "/lock", &snap.Lock) })
	g.Go(func() error { return c.get(ctx, "/scheduler/status", &snap.Scheduler) })
	g.Go(func() error { return c.get(ctx, "/notifications/status", &snap.Notifications) })
	g.Go(func() error { return c.get(ctx, "/schedules", &snap.Tasks) })
	g.Go(func() error { return c.get(ctx, "/scheduler/log", &snap.Runs) })
	g.Go(func() error { return c.get(ctx, "/notifications/log", &snap.Triage) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snap.FetchedAt = time.Now()
	return snap, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth(ctx context.Context) (bool, error) {
	var health struct {
		OK bool `json:"ok"`
	}
	if err := c.get(ctx, "/health", &health); err != nil {
		return false, err
	}
	return health.OK, nil
}

// RunCommand sends a prompt to the agent as the interactive user.
func (c *Client) RunCommand(ctx context.Context, prompt string) (*models.AgentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var resp struct {
		Result string `json:"result"`
		Turns  int    `json:"turns"`
	}
	if err := c.do(ctx, http.MethodPost, "/command", map[string]string{"prompt": prompt}, &resp); err != nil {
		return nil, err
	}
	return &models.AgentResult{Text: resp.Result, Turns: resp.Turns}, nil
}

// ReleaseLock force-releases the device lock.
func (c *Client) ReleaseLock(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/lock/release", nil, nil)
}

// RunSchedule executes a scheduled task now.
func (c *Client) RunSchedule(ctx context.Context, id string) (*models.ExecutionLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var entry models.ExecutionLogEntry
	if err := c.do(ctx, http.MethodPost, "/schedules/"+url.PathEscape(id)+"/run", nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetScheduleEnabled enables or disables a scheduled task.
func (c *Client) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return c.do(ctx, http.MethodPost, "/schedules/"+url.PathEscape(id)+"/"+action, nil, nil)
}

// SetSchedulerRunning starts or stops the scheduler loop.
func (c *Client) SetSchedulerRunning(ctx context.Context, running bool) error {
	path := "/scheduler/stop"
	if running {
		path = "/scheduler/start"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SetWatcherRunning starts or stops the notification watcher.
func (c *Client) SetWatcherRunning(ctx context.Context, running bool) error {
	path := "/notifications/stop"
	if running {
		path = "/notifications/start"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultClientTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultClientTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
