package budget

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/reply-agent/internal/domain"
)

// MemoryLedger is an in-memory Ledger for tests. It mirrors the Postgres
// ledger's conditional-append semantics under a mutex.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []domain.BudgetEntry
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) spentSinceLocked(since time.Time) int64 {
	var total int64
	for i := range l.entries {
		if !l.entries[i].CreatedAt.Before(since) {
			total += l.entries[i].AmountCents
		}
	}
	return total
}

// Reserve appends the entry only if the period total stays within the limit
func (l *MemoryLedger) Reserve(ctx context.Context, entry *domain.BudgetEntry, since time.Time, limit int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.spentSinceLocked(since)+entry.AmountCents > limit {
		return domain.ErrBudgetExhausted
	}
	l.entries = append(l.entries, *entry)
	return nil
}

// Append unconditionally appends an entry
func (l *MemoryLedger) Append(ctx context.Context, entry *domain.BudgetEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *entry)
	return nil
}

// SpentSince sums the ledger over the trailing window
func (l *MemoryLedger) SpentSince(ctx context.Context, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spentSinceLocked(since), nil
}
