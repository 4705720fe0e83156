package permit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/permit"
)

// fakeStore reproduces the database constraints in memory: one non-revoked
// permit per decision and conditional state transitions.
type fakeStore struct {
	mu      sync.Mutex
	permits map[uuid.UUID]*domain.Permit
}

func newFakeStore() *fakeStore {
	return &fakeStore{permits: make(map[uuid.UUID]*domain.Permit)}
}

func (s *fakeStore) Insert(ctx context.Context, p *domain.Permit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.permits {
		if existing.DecisionID == p.DecisionID && existing.State != domain.PermitStateRevoked {
			return domain.ErrPermitConflict
		}
	}
	clone := *p
	s.permits[p.PermitID] = &clone
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, permitID uuid.UUID) (*domain.Permit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[permitID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *fakeStore) GetActiveByDecision(ctx context.Context, decisionID uuid.UUID) (*domain.Permit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.permits {
		if p.DecisionID == decisionID && p.State != domain.PermitStateRevoked {
			clone := *p
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) Approve(ctx context.Context, permitID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[permitID]
	if !ok || p.State != domain.PermitStatePending {
		return domain.ErrPermitConflict
	}
	now := time.Now().UTC()
	p.State = domain.PermitStateApproved
	p.ApprovedAt = &now
	return nil
}

func (s *fakeStore) MarkUsed(ctx context.Context, permitID uuid.UUID, publishedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[permitID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.State == domain.PermitStateApproved {
		now := time.Now().UTC()
		p.State = domain.PermitStateUsed
		p.PublishedID = &publishedID
		p.UsedAt = &now
		return nil
	}
	if p.State == domain.PermitStateUsed && p.PublishedID != nil && *p.PublishedID == publishedID {
		return nil
	}
	if p.State == domain.PermitStateUsed {
		return domain.ErrPublishedIDMismatch
	}
	return domain.ErrPermitNotApproved
}

func (s *fakeStore) Revoke(ctx context.Context, permitID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[permitID]
	if !ok || (p.State != domain.PermitStatePending && p.State != domain.PermitStateApproved) {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	p.State = domain.PermitStateRevoked
	p.RevokeReason = &reason
	p.RevokedAt = &now
	return nil
}

func newTestManager() (*permit.Manager, *fakeStore) {
	store := newFakeStore()
	return permit.NewManager(store, logger.NewNopLogger()), store
}

func TestAcquireApprovesPermit(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	p, err := m.Acquire(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if p.State != domain.PermitStateApproved {
		t.Errorf("State = %s, want approved", p.State)
	}
}

func TestAcquireIdempotentBeforeUse(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	decisionID := uuid.New()

	first, err := m.Acquire(ctx, decisionID)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}

	second, err := m.Acquire(ctx, decisionID)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if second.PermitID != first.PermitID {
		t.Errorf("second Acquire() permit = %s, want same permit %s", second.PermitID, first.PermitID)
	}
	if second.State != domain.PermitStateApproved {
		t.Errorf("second Acquire() state = %s, want approved", second.State)
	}
}

func TestAcquireRecoversPendingPermit(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	decisionID := uuid.New()

	// A crash between insert and approve leaves a pending permit behind.
	orphan := domain.NewPermit(decisionID)
	if err := store.Insert(ctx, orphan); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	p, err := m.Acquire(ctx, decisionID)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if p.PermitID != orphan.PermitID {
		t.Errorf("Acquire() permit = %s, want recovered permit %s", p.PermitID, orphan.PermitID)
	}
	if p.State != domain.PermitStateApproved {
		t.Errorf("recovered permit state = %s, want approved", p.State)
	}
}

func TestAcquireConflictAfterUse(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	decisionID := uuid.New()

	p, err := m.Acquire(ctx, decisionID)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := m.MarkUsed(ctx, p.PermitID, "post-123"); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}

	_, err = m.Acquire(ctx, decisionID)
	if !errors.Is(err, domain.ErrPermitConflict) {
		t.Errorf("Acquire() after use error = %v, want ErrPermitConflict", err)
	}
}

func TestAcquireAfterRevokeSucceeds(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	decisionID := uuid.New()

	p, err := m.Acquire(ctx, decisionID)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := m.Revoke(ctx, p.PermitID, "operator override"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	if _, err := m.Acquire(ctx, decisionID); err != nil {
		t.Errorf("Acquire() after revoke error = %v, want nil", err)
	}
}

func TestAcquireSinglePermitUnderConcurrency(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	decisionID := uuid.New()

	const attempts = 10
	results := make(chan uuid.UUID, attempts)
	for range attempts {
		go func() {
			p, err := m.Acquire(ctx, decisionID)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				results <- uuid.Nil
				return
			}
			results <- p.PermitID
		}()
	}

	ids := make(map[uuid.UUID]struct{})
	for range attempts {
		ids[<-results] = struct{}{}
	}
	if len(ids) != 1 {
		t.Errorf("distinct permit ids = %d, want exactly 1", len(ids))
	}
}

func TestVerifyBeforeAction(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	p, err := m.Acquire(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := m.VerifyBeforeAction(ctx, p.PermitID); err != nil {
		t.Errorf("VerifyBeforeAction() on approved permit error = %v, want nil", err)
	}

	if err := m.Revoke(ctx, p.PermitID, "shutdown"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := m.VerifyBeforeAction(ctx, p.PermitID); !errors.Is(err, domain.ErrPermitNotApproved) {
		t.Errorf("VerifyBeforeAction() on revoked permit error = %v, want ErrPermitNotApproved", err)
	}
}

func TestVerifyBeforeActionFailsClosed(t *testing.T) {
	m, _ := newTestManager()

	err := m.VerifyBeforeAction(context.Background(), uuid.New())
	if err == nil {
		t.Error("VerifyBeforeAction() on unknown permit error = nil, want error")
	}
}

func TestMarkUsedIdempotent(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	p, err := m.Acquire(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := m.MarkUsed(ctx, p.PermitID, "post-123"); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}
	if err := m.MarkUsed(ctx, p.PermitID, "post-123"); err != nil {
		t.Errorf("repeat MarkUsed() error = %v, want nil", err)
	}
	if err := m.MarkUsed(ctx, p.PermitID, "post-456"); !errors.Is(err, domain.ErrPublishedIDMismatch) {
		t.Errorf("MarkUsed() with different post ID error = %v, want ErrPublishedIDMismatch", err)
	}
}

func TestMarkUsedRequiresApproval(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()

	p := domain.NewPermit(uuid.New())
	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := m.MarkUsed(ctx, p.PermitID, "post-123"); !errors.Is(err, domain.ErrPermitNotApproved) {
		t.Errorf("MarkUsed() on pending permit error = %v, want ErrPermitNotApproved", err)
	}
}

func TestRevokeUsedPermitFails(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	p, err := m.Acquire(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := m.MarkUsed(ctx, p.PermitID, "post-123"); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}

	if err := m.Revoke(ctx, p.PermitID, "too late"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Revoke() on used permit error = %v, want ErrNotFound", err)
	}
}
