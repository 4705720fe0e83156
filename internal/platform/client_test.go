package platform_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/platform"
)

var allowPublish = platform.PermitVerifierFunc(func(ctx context.Context) error { return nil })

func newTestClient(t *testing.T, handler http.Handler) *platform.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := platform.NewClient(config.PlatformConfig{
		URL:     server.URL,
		Token:   "test-token",
		Account: "agent-account",
		Timeout: 2 * time.Second,
		RateRPS: 1000,
	}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestPublish(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/posts" || r.Method != http.MethodPost {
			t.Errorf("got %s %s, want POST /v1/posts", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}

		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["in_reply_to"] != "target-1" {
			t.Errorf("in_reply_to = %s, want target-1", req["in_reply_to"])
		}

		if err := json.NewEncoder(w).Encode(platform.Post{ID: "post-99"}); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))

	id, err := client.Publish(context.Background(), "target-1", "hello", allowPublish)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "post-99" {
		t.Errorf("published ID = %s, want post-99", id)
	}
}

func TestPublishVerifierBlocksRequest(t *testing.T) {
	var requests atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))

	verifyErr := errors.New("permit revoked")
	deny := platform.PermitVerifierFunc(func(ctx context.Context) error { return verifyErr })

	_, err := client.Publish(context.Background(), "target-1", "hello", deny)
	if !errors.Is(err, verifyErr) {
		t.Fatalf("Publish() error = %v, want wrapped %v", err, verifyErr)
	}
	if got := requests.Load(); got != 0 {
		t.Errorf("requests sent = %d, want 0 (verifier must run before the request)", got)
	}
}

func TestPublishEmptyIDFails(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{}`)); err != nil {
			t.Fatalf("write response: %v", err)
		}
	}))

	_, err := client.Publish(context.Background(), "target-1", "hello", allowPublish)
	if err == nil {
		t.Error("Publish() error = nil, want error for empty post ID")
	}
}

func TestListRecentlyPublished(t *testing.T) {
	since := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/posts" {
			t.Errorf("path = %s, want /v1/posts", r.URL.Path)
		}
		if got := r.URL.Query().Get("account"); got != "agent-account" {
			t.Errorf("account = %s, want agent-account", got)
		}
		if got := r.URL.Query().Get("since"); got != since.Format(time.RFC3339) {
			t.Errorf("since = %s, want %s", got, since.Format(time.RFC3339))
		}

		resp := map[string][]platform.Post{"posts": {
			{ID: "p1", InReplyTo: "t1"},
			{ID: "p2", InReplyTo: "t2"},
		}}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))

	posts, err := client.ListRecentlyPublished(context.Background(), since)
	if err != nil {
		t.Fatalf("ListRecentlyPublished() error = %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("len(posts) = %d, want 2", len(posts))
	}
	if posts[0].ID != "p1" || posts[0].InReplyTo != "t1" {
		t.Errorf("posts[0] = %+v, want ID p1 replying to t1", posts[0])
	}
}

func TestLookupByTargetNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.LookupByTarget(context.Background(), "target-1")
	if !errors.Is(err, platform.ErrPostNotFound) {
		t.Errorf("LookupByTarget() error = %v, want ErrPostNotFound", err)
	}
}

func TestSearchPosts(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search" {
			t.Errorf("path = %s, want /v1/search", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "golang" {
			t.Errorf("q = %s, want golang", got)
		}
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %s, want 25", got)
		}

		resp := map[string][]platform.SearchResult{"results": {
			{ID: "t1", Author: "dev", Text: "go generics", Score: 72},
		}}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))

	results, err := client.SearchPosts(context.Background(), "golang", 25)
	if err != nil {
		t.Fatalf("SearchPosts() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "t1" {
		t.Errorf("results = %+v, want one result with ID t1", results)
	}
}

func TestGetEngagement(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/posts/post-99/engagement" {
			t.Errorf("path = %s, want /v1/posts/post-99/engagement", r.URL.Path)
		}
		resp := platform.Engagement{PostID: "post-99", EngagementRate: 3.5, Impressions: 1200}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))

	eng, err := client.GetEngagement(context.Background(), "post-99")
	if err != nil {
		t.Fatalf("GetEngagement() error = %v", err)
	}
	if eng.EngagementRate != 3.5 {
		t.Errorf("EngagementRate = %v, want 3.5", eng.EngagementRate)
	}
}

func TestAPIErrorSurfacesStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	_, err := client.Publish(context.Background(), "target-1", "hello", allowPublish)
	if err == nil {
		t.Fatal("Publish() error = nil, want error")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := platform.NewClient(config.PlatformConfig{Token: "x"}, logger.NewNopLogger()); err == nil {
		t.Error("NewClient() without URL error = nil, want error")
	}
	if _, err := platform.NewClient(config.PlatformConfig{URL: "http://x"}, logger.NewNopLogger()); err == nil {
		t.Error("NewClient() without token error = nil, want error")
	}
}
