// Package platform is the HTTP client for the social platform API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/logger"
)

// ErrPostNotFound is returned by lookups when the platform has no such post
var ErrPostNotFound = errors.New("post not found on platform")

// PermitVerifier re-checks publish authorization immediately before the
// irreversible request goes out. Any error aborts the publish.
type PermitVerifier interface {
	Verify(ctx context.Context) error
}

// PermitVerifierFunc adapts a function to the PermitVerifier interface
type PermitVerifierFunc func(ctx context.Context) error

// Verify calls f
func (f PermitVerifierFunc) Verify(ctx context.Context) error { return f(ctx) }

// Post is a published item as the platform reports it
type Post struct {
	ID          string    `json:"id"`
	InReplyTo   string    `json:"in_reply_to"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
}

// Engagement is the platform's per-post engagement report
type Engagement struct {
	PostID          string  `json:"post_id"`
	EngagementRate  float64 `json:"engagement_rate"`
	Impressions     int64   `json:"impressions"`
	FollowersGained int64   `json:"followers_gained"`
}

// SearchResult is one candidate post found by keyword search
type SearchResult struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	Score       float64   `json:"score"`
	PublishedAt time.Time `json:"published_at"`
}

// Client talks to the platform API with bearer auth and request pacing. All
// methods wait on the shared rate limiter before sending, so the agent never
// bursts past the platform's tolerated request rate regardless of which loop
// is calling.
type Client struct {
	baseURL string
	token   string
	account string
	client  *http.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewClient creates a platform client
func NewClient(cfg config.PlatformConfig, log logger.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("platform URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("platform token is required")
	}
	return &Client{
		baseURL: cfg.URL,
		token:   cfg.Token,
		account: cfg.Account,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateRPS), 1),
		logger:  log,
	}, nil
}

// Publish posts a reply to the target. The verifier runs after pacing and
// request construction, as the last step before the request leaves the
// process; a verifier error means nothing was sent.
func (c *Client) Publish(ctx context.Context, targetID, content string, verifier PermitVerifier) (string, error) {
	startTime := time.Now()

	payload, err := json.Marshal(map[string]string{
		"in_reply_to": targetID,
		"content":     content,
	})
	if err != nil {
		return "", fmt.Errorf("marshal publish request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/posts", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(ctx); err != nil {
		return "", fmt.Errorf("verify before publish: %w", err)
	}

	var out Post
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("publish reply: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("platform returned empty post ID")
	}

	c.logger.Info("reply published",
		logger.String("published_id", out.ID),
		logger.String("target_id", targetID),
		logger.Duration("duration", time.Since(startTime)),
	)
	return out.ID, nil
}

// ListRecentlyPublished returns the account's posts published after since,
// newest first
func (c *Client) ListRecentlyPublished(ctx context.Context, since time.Time) ([]Post, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("account", c.account)
	q.Set("since", since.UTC().Format(time.RFC3339))

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/posts?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}

	var out struct {
		Posts []Post `json:"posts"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("list published posts: %w", err)
	}
	return out.Posts, nil
}

// LookupByTarget checks whether the account already has a reply to the target.
// Returns ErrPostNotFound when it does not.
func (c *Client) LookupByTarget(ctx context.Context, targetID string) (*Post, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("account", c.account)
	q.Set("in_reply_to", targetID)

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/posts/lookup?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}

	var out Post
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("lookup post by target: %w", err)
	}
	return &out, nil
}

// SearchPosts finds recent posts matching a keyword query
func (c *Client) SearchPosts(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/search?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}

	var out struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	return out.Results, nil
}

// ListAccountPosts returns recent posts by another account
func (c *Client) ListAccountPosts(ctx context.Context, account string, limit int) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("account", account)
	q.Set("limit", strconv.Itoa(limit))

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/accounts/posts?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}

	var out struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("list account posts: %w", err)
	}
	return out.Results, nil
}

// GetEngagement fetches the engagement report for a published post
func (c *Client) GetEngagement(ctx context.Context, publishedID string) (*Engagement, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodGet,
		"/v1/posts/"+url.PathEscape(publishedID)+"/engagement", http.NoBody)
	if err != nil {
		return nil, err
	}

	var out Engagement
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("get engagement: %w", err)
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create platform request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrPostNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("platform API error: %d %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
