// Package source discovers reply candidates from the platform.
package source

import (
	"context"
	"fmt"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/platform"
)

// Feed produces candidates from one discovery channel
type Feed interface {
	Name() string
	Fetch(ctx context.Context) ([]*domain.Candidate, error)
}

// Searcher is the platform surface the feeds need
type Searcher interface {
	SearchPosts(ctx context.Context, query string, limit int) ([]platform.SearchResult, error)
	ListAccountPosts(ctx context.Context, account string, limit int) ([]platform.SearchResult, error)
}

// KeywordFeed finds candidates by keyword search
type KeywordFeed struct {
	searcher Searcher
	keywords []string
	limit    int
}

// NewKeywordFeed creates a keyword search feed
func NewKeywordFeed(searcher Searcher, keywords []string, limit int) *KeywordFeed {
	return &KeywordFeed{
		searcher: searcher,
		keywords: keywords,
		limit:    limit,
	}
}

// Name identifies the feed in candidate records
func (f *KeywordFeed) Name() string { return "keyword" }

// Fetch searches each configured keyword and converts the results. Invalid
// results are skipped, not fatal.
func (f *KeywordFeed) Fetch(ctx context.Context) ([]*domain.Candidate, error) {
	var candidates []*domain.Candidate
	for _, keyword := range f.keywords {
		results, err := f.searcher.SearchPosts(ctx, keyword, f.limit)
		if err != nil {
			return candidates, fmt.Errorf("search keyword %q: %w", keyword, err)
		}
		candidates = append(candidates, toCandidates(f.Name(), results)...)
	}
	return candidates, nil
}

// CuratedFeed finds candidates from a curated list of accounts
type CuratedFeed struct {
	searcher Searcher
	accounts []string
	limit    int
}

// NewCuratedFeed creates a curated account feed
func NewCuratedFeed(searcher Searcher, accounts []string, limit int) *CuratedFeed {
	return &CuratedFeed{
		searcher: searcher,
		accounts: accounts,
		limit:    limit,
	}
}

// Name identifies the feed in candidate records
func (f *CuratedFeed) Name() string { return "curated" }

// Fetch lists recent posts from each curated account
func (f *CuratedFeed) Fetch(ctx context.Context) ([]*domain.Candidate, error) {
	var candidates []*domain.Candidate
	for _, account := range f.accounts {
		results, err := f.searcher.ListAccountPosts(ctx, account, f.limit)
		if err != nil {
			return candidates, fmt.Errorf("list posts for account %q: %w", account, err)
		}
		candidates = append(candidates, toCandidates(f.Name(), results)...)
	}
	return candidates, nil
}

func toCandidates(feedName string, results []platform.SearchResult) []*domain.Candidate {
	candidates := make([]*domain.Candidate, 0, len(results))
	for i := range results {
		c, err := domain.NewCandidate(feedName, results[i].ID, results[i].Author,
			results[i].Text, results[i].Score)
		if err != nil {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}
