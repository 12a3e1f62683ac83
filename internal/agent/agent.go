// Package agent talks to the external LLM agent service that actually
// operates the device.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/pocketd/internal/models"
)

// DefaultTimeout bounds a single agent run. Runs drive the UI through many
// tool turns, so this is generous.
const DefaultTimeout = 5 * time.Minute

// Runner executes a free-form prompt against the device.
type Runner interface {
	Run(ctx context.Context, prompt string) (*models.AgentResult, error)
}

// Triager decides what to do about a notification.
type Triager interface {
	Triage(ctx context.Context, n models.NotificationEvent) (*models.TriageResult, error)
}

// ErrNoDecision is returned when a triage reply carries no decision.
var ErrNoDecision = errors.New("agent reply contains no triage decision")

// Client is an HTTP client for the agent service. It implements Runner and
// Triager.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type commandRequest struct {
	Prompt string `json:"prompt"`
}

type commandResponse struct {
	Result string `json:"result"`
	Turns  int    `json:"turns"`
	Error  string `json:"error,omitempty"`
}

// Run implements Runner.
func (c *Client) Run(ctx context.Context, prompt string) (*models.AgentResult, error) {
	body, err := json.Marshal(commandRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/command", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read agent response: %w", err)
	}

	var out commandResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("agent error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	if resp.StatusCode >= 400 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, fmt.Errorf("agent error (%d): %s", resp.StatusCode, msg)
	}

	return &models.AgentResult{Text: out.Result, Turns: out.Turns}, nil
}

// Triage implements Triager by running a triage prompt and extracting the
// decision from the reply.
func (c *Client) Triage(ctx context.Context, n models.NotificationEvent) (*models.TriageResult, error) {
	res, err := c.Run(ctx, TriagePrompt(n))
	if err != nil {
		return nil, err
	}
	return ParseDecision(res.Text)
}
