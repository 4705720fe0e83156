package template_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/template"
)

type fakeEngagement struct {
	scores map[string]float64
	err    error
}

func (f *fakeEngagement) TemplateEngagement(ctx context.Context) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func testTemplatesConfig(exploreRate float64) config.TemplatesConfig {
	return config.TemplatesConfig{
		IDs:           []string{"question", "insight", "resource"},
		FallbackID:    "question",
		ExploreRate:   exploreRate,
		PromptVersion: "v1",
	}
}

func TestSelectExploitsBestEngagement(t *testing.T) {
	eng := &fakeEngagement{scores: map[string]float64{
		"question": 1.2,
		"insight":  4.8,
		"resource": 0.3,
	}}
	s := template.NewSelector(testTemplatesConfig(0), eng, rand.New(rand.NewSource(1)), logger.NewNopLogger())

	for range 10 {
		id, version, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if id != "insight" {
			t.Errorf("Select() = %s, want insight", id)
		}
		if version != "v1" {
			t.Errorf("prompt version = %s, want v1", version)
		}
	}
}

func TestSelectNoEngagementDataFallsBackToFirst(t *testing.T) {
	s := template.NewSelector(testTemplatesConfig(0), &fakeEngagement{scores: map[string]float64{}},
		rand.New(rand.NewSource(1)), logger.NewNopLogger())

	id, _, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if id != "question" {
		t.Errorf("Select() = %s, want question (first configured template)", id)
	}
}

func TestSelectExploreRate(t *testing.T) {
	eng := &fakeEngagement{scores: map[string]float64{"insight": 9.9}}
	s := template.NewSelector(testTemplatesConfig(0.1), eng, rand.New(rand.NewSource(42)), logger.NewNopLogger())

	const picks = 10000
	explored := 0
	for range picks {
		id, _, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if id != "insight" {
			explored++
		}
	}

	// Roughly 10% of picks should explore away from the best template
	rate := float64(explored) / picks
	if rate < 0.07 || rate > 0.13 {
		t.Errorf("explore rate = %v, want about 0.1", rate)
	}
}

func TestSelectExploreNeverPicksBest(t *testing.T) {
	eng := &fakeEngagement{scores: map[string]float64{"resource": 5}}
	s := template.NewSelector(testTemplatesConfig(1.0), eng, rand.New(rand.NewSource(7)), logger.NewNopLogger())

	for range 100 {
		id, _, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if id == "resource" {
			t.Fatal("explore picked the exploit template")
		}
	}
}

func TestSelectEngagementError(t *testing.T) {
	wantErr := errors.New("db down")
	s := template.NewSelector(testTemplatesConfig(0), &fakeEngagement{err: wantErr},
		rand.New(rand.NewSource(1)), logger.NewNopLogger())

	_, _, err := s.Select(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("Select() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestFallback(t *testing.T) {
	s := template.NewSelector(testTemplatesConfig(0), &fakeEngagement{}, nil, logger.NewNopLogger())
	if got := s.Fallback(); got != "question" {
		t.Errorf("Fallback() = %s, want question", got)
	}
}
