// Package generate calls the reply generation service.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// ErrRejected is returned when the generation service refuses the request
// outright (4xx). Retrying with the same inputs will not help.
var ErrRejected = errors.New("generation request rejected")

// Request carries everything the generation service needs to draft a reply
type Request struct {
	TemplateID    string `json:"template_id"`
	PromptVersion string `json:"prompt_version"`
	TargetID      string `json:"target_id"`
	Author        string `json:"author"`
	TextExcerpt   string `json:"text_excerpt"`
}

type response struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Client is an HTTP client for the generation service
type Client struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

// NewClient creates a generation client
func NewClient(cfg config.GeneratorConfig, log logger.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("generator URL is required")
	}
	return &Client{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  log,
	}, nil
}

// Generate drafts reply content for a decision. Transport failures and 5xx
// responses are transient and safe to retry; ErrRejected is not.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	startTime := time.Now()

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call generation service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generation response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("generation service error: %d %s", resp.StatusCode, string(body))
	case resp.StatusCode >= http.StatusBadRequest:
		return "", fmt.Errorf("%w: %d %s", ErrRejected, resp.StatusCode, string(body))
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	if out.Content == "" {
		return "", fmt.Errorf("%w: empty content", ErrRejected)
	}

	c.logger.Debug("reply generated",
		logger.String("template_id", req.TemplateID),
		logger.String("target_id", req.TargetID),
		logger.Duration("duration", time.Since(startTime)),
	)
	return out.Content, nil
}
