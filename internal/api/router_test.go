package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/reply-agent/internal/api"
	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/metrics"
)

type fakeDecisions struct {
	byID   map[uuid.UUID]*domain.Decision
	failed map[uuid.UUID]string
}

func newFakeDecisions() *fakeDecisions {
	return &fakeDecisions{
		byID:   make(map[uuid.UUID]*domain.Decision),
		failed: make(map[uuid.UUID]string),
	}
}

func (f *fakeDecisions) GetByID(ctx context.Context, id uuid.UUID) (*domain.Decision, error) {
	if d, ok := f.byID[id]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDecisions) ListRecent(ctx context.Context, limit int) ([]domain.Decision, error) {
	var out []domain.Decision
	for _, d := range f.byID {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeDecisions) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	d, ok := f.byID[id]
	if !ok || d.Status.IsTerminal() {
		return domain.ErrTerminalDecision
	}
	d.Status = domain.DecisionStatusFailed
	f.failed[id] = reason
	return nil
}

func (f *fakeDecisions) Stats(ctx context.Context) (*domain.DecisionStats, error) {
	return &domain.DecisionStats{Posted: 3, Failed: 1}, nil
}

type fakeOverrides struct {
	rows []domain.DecisionOverride
}

func (f *fakeOverrides) Insert(ctx context.Context, o *domain.DecisionOverride) error {
	f.rows = append(f.rows, *o)
	return nil
}

func (f *fakeOverrides) ListByDecision(ctx context.Context, decisionID uuid.UUID) ([]domain.DecisionOverride, error) {
	var out []domain.DecisionOverride
	for _, o := range f.rows {
		if o.DecisionID == decisionID {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakePermits struct {
	active  map[uuid.UUID]*domain.Permit
	revoked map[uuid.UUID]string
}

func newFakePermits() *fakePermits {
	return &fakePermits{
		active:  make(map[uuid.UUID]*domain.Permit),
		revoked: make(map[uuid.UUID]string),
	}
}

func (f *fakePermits) ActiveForDecision(ctx context.Context, decisionID uuid.UUID) (*domain.Permit, error) {
	if p, ok := f.active[decisionID]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakePermits) Revoke(ctx context.Context, permitID uuid.UUID, reason string) error {
	f.revoked[permitID] = reason
	return nil
}

type fakeSlots struct{}

func (fakeSlots) ListRecent(ctx context.Context, limit int) ([]domain.SlotEvent, error) {
	return []domain.SlotEvent{*domain.NewSlotMiss(time.Now(), domain.MissReasonQueueEmpty)}, nil
}

func (fakeSlots) StatsSince(ctx context.Context, since time.Time) (*domain.SlotStats, error) {
	return &domain.SlotStats{Total: 10, Posted: 7, Missed: 3, MissRate: 0.3}, nil
}

type fakeQueue struct{}

func (fakeQueue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	return &domain.QueueStats{Queued: 5, TopTier: 2}, nil
}

type fakeSlotMetrics struct{}

func (fakeSlotMetrics) GetStats(ctx context.Context) (*metrics.Stats, error) {
	return &metrics.Stats{Posted: 7}, nil
}

func (fakeSlotMetrics) GetRecentPosts(ctx context.Context, limit int) ([]metrics.RecentPost, error) {
	return []metrics.RecentPost{{PublishedID: "p1"}}, nil
}

type fakeBudget struct{}

func (fakeBudget) Remaining(ctx context.Context) (int64, error) { return 250, nil }

type fakePinger struct {
	err error
}

func (f fakePinger) PingContext(ctx context.Context) error { return f.err }

type fixture struct {
	decisions *fakeDecisions
	overrides *fakeOverrides
	permits   *fakePermits
	engine    http.Handler
}

func newFixture(t *testing.T, dbErr error) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	f := &fixture{
		decisions: newFakeDecisions(),
		overrides: &fakeOverrides{},
		permits:   newFakePermits(),
	}
	router := api.NewRouter(
		f.decisions, f.overrides, f.permits,
		fakeSlots{}, fakeQueue{}, fakeSlotMetrics{}, fakeBudget{},
		fakePinger{err: dbErr}, redisClient,
		&config.Config{}, logger.NewNopLogger(),
	)
	f.engine = router.SetupRoutes()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestHealthHealthy(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
}

func TestHealthDegradedOnDatabaseError(t *testing.T) {
	f := newFixture(t, errors.New("connection refused"))

	w := f.do(t, http.MethodGet, "/health", nil)
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestGetDecisionNotFound(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/decisions/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetDecisionInvalidID(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/decisions/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestOverrideDecision(t *testing.T) {
	f := newFixture(t, nil)

	decisionID := uuid.New()
	f.decisions.byID[decisionID] = &domain.Decision{
		DecisionID: decisionID,
		Status:     domain.DecisionStatusPosting,
	}
	permit := domain.NewPermit(decisionID)
	permit.State = domain.PermitStateApproved
	f.permits.active[decisionID] = permit

	w := f.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID.String()+"/override",
		map[string]string{"actor": "oncall", "reason": "bad content"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	if f.decisions.failed[decisionID] != "override: bad content" {
		t.Errorf("fail reason = %q, want override reason", f.decisions.failed[decisionID])
	}
	if _, revoked := f.permits.revoked[permit.PermitID]; !revoked {
		t.Error("active permit was not revoked")
	}
	if len(f.overrides.rows) != 1 {
		t.Fatalf("override rows = %d, want 1", len(f.overrides.rows))
	}
	row := f.overrides.rows[0]
	if row.Actor != "oncall" || row.PermitID == nil || *row.PermitID != permit.PermitID {
		t.Errorf("override row = %+v, want actor oncall and linked permit", row)
	}
}

func TestOverrideTerminalDecisionConflicts(t *testing.T) {
	f := newFixture(t, nil)

	decisionID := uuid.New()
	f.decisions.byID[decisionID] = &domain.Decision{
		DecisionID: decisionID,
		Status:     domain.DecisionStatusPosted,
	}

	w := f.do(t, http.MethodPost, "/api/v1/decisions/"+decisionID.String()+"/override",
		map[string]string{"actor": "oncall", "reason": "too late"})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if len(f.overrides.rows) != 0 {
		t.Error("override row written for a terminal decision")
	}
}

func TestOverrideRequiresActorAndReason(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/decisions/"+uuid.NewString()+"/override",
		map[string]string{"actor": "oncall"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestOverview(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/stats/overview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, key := range []string{"decisions", "queue", "slots", "budget_remaining_cents"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("overview missing %q", key)
		}
	}
}

func TestSlotStatsWindow(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/slots/stats?hours=6", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["window_hours"] != float64(6) {
		t.Errorf("window_hours = %v, want 6", resp["window_hours"])
	}
}

func TestRecentPosts(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/api/v1/posts/recent", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
