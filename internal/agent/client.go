package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"agentforge/internal/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SourceRef points the agent at an existing repository
type SourceRef struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref,omitempty"`
	Path       string `json:"path,omitempty"`
}

// CreateRequest is the input to CreateAgent
type CreateRequest struct {
	Prompt string
	Source *SourceRef
}

type promptPayload struct {
	Text string `json:"text"`
}

type createPayload struct {
	Prompt promptPayload `json:"prompt"`
	Source *SourceRef    `json:"source,omitempty"`
}

type followupPayload struct {
	Prompt promptPayload `json:"prompt"`
}

// Client talks to the remote code-generation agent API.
// It never retries: every call is exactly one HTTP request, paced by a token bucket.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewClient creates a client from an immutable agent configuration
func NewClient(cfg config.AgentConfig, logger *logrus.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	logger.WithField("baseURL", cfg.BaseURL).Info("Agent client initialized")

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// CreateAgent submits a prompt and returns the new agent's handle
func (c *Client) CreateAgent(ctx context.Context, req CreateRequest) (*AgentHandle, error) {
	payload := createPayload{
		Prompt: promptPayload{Text: req.Prompt},
		Source: req.Source,
	}

	fields := logrus.Fields{"prompt_length": len(req.Prompt)}
	if req.Source != nil {
		fields["repository"] = req.Source.Repository
		fields["ref"] = req.Source.Ref
	}
	c.logger.WithFields(fields).Info("Creating remote agent")

	body, err := c.do(ctx, "create", http.MethodPost, "/agents", payload)
	if err != nil {
		return nil, err
	}

	handle, err := DecodeHandle(body)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"agent_id":    handle.ID,
		"status":      handle.Status,
		"branch_name": handle.Target.BranchName,
	}).Info("Remote agent created")

	return handle, nil
}

// PollStatus fetches the agent's current snapshot
func (c *Client) PollStatus(ctx context.Context, agentID string) (*Snapshot, error) {
	body, err := c.do(ctx, "poll", http.MethodGet, "/agents/"+url.PathEscape(agentID), nil)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(body)
}

// SendFollowup submits a follow-up prompt to an existing agent.
// The answer is not in the response; it shows up in later snapshots.
func (c *Client) SendFollowup(ctx context.Context, agentID, prompt string) error {
	payload := followupPayload{Prompt: promptPayload{Text: prompt}}

	c.logger.WithFields(logrus.Fields{
		"agent_id":       agentID,
		"message_length": len(prompt),
	}).Info("Sending follow-up to remote agent")

	_, err := c.do(ctx, "followup", http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/followup", payload)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: 0, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncateString(string(body), 500),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return body, nil
}
