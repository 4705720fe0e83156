package database_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jonesrussell/reply-agent/internal/database"
	"github.com/jonesrussell/reply-agent/internal/domain"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestDecisionRepository_TransitionStatus(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewDecisionRepository(sqlxDB)
	ctx := context.Background()
	id := uuid.New()

	testCases := []struct {
		name      string
		setupMock func()
		wantErr   error
	}{
		{
			name: "successful transition",
			setupMock: func() {
				mock.ExpectExec("UPDATE decisions").
					WithArgs(id, domain.DecisionStatusPending, domain.DecisionStatusTemplateSelecting).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "stale expected status affects no rows",
			setupMock: func() {
				mock.ExpectExec("UPDATE decisions").
					WithArgs(id, domain.DecisionStatusPending, domain.DecisionStatusTemplateSelecting).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			err := repo.TransitionStatus(ctx, id,
				domain.DecisionStatusPending, domain.DecisionStatusTemplateSelecting)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("TransitionStatus() error = %v, want %v", err, tc.wantErr)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestDecisionRepository_MarkFailedTerminal(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewDecisionRepository(sqlxDB)
	id := uuid.New()

	// A posted decision is not in the non-terminal status set, so the
	// conditional update affects no rows.
	mock.ExpectExec("UPDATE decisions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkFailed(context.Background(), id, "override: bad content")
	if !errors.Is(err, domain.ErrTerminalDecision) {
		t.Errorf("MarkFailed() error = %v, want ErrTerminalDecision", err)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestDecisionRepository_InsertReconciled(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewDecisionRepository(sqlxDB)
	ctx := context.Background()
	observedAt := time.Now().UTC()

	testCases := []struct {
		name        string
		setupMock   func()
		wantCreated bool
	}{
		{
			name: "creates synthetic decision",
			setupMock: func() {
				mock.ExpectExec("INSERT INTO decisions").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantCreated: true,
		},
		{
			name: "existing published_id is a no-op",
			setupMock: func() {
				mock.ExpectExec("INSERT INTO decisions").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantCreated: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setupMock()

			created, err := repo.InsertReconciled(ctx, "target-1", "post-1", observedAt)
			if err != nil {
				t.Fatalf("InsertReconciled() error = %v", err)
			}
			if created != tc.wantCreated {
				t.Errorf("created = %v, want %v", created, tc.wantCreated)
			}

			if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
				t.Errorf("unfulfilled expectations: %v", expectErr)
			}
		})
	}
}

func TestDecisionRepository_SweepTimedOut(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewDecisionRepository(sqlxDB)

	first, second := uuid.New(), uuid.New()
	rows := sqlmock.NewRows([]string{"decision_id"}).
		AddRow(first.String()).
		AddRow(second.String())
	mock.ExpectQuery("UPDATE decisions").WillReturnRows(rows)

	ids, err := repo.SweepTimedOut(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("SweepTimedOut() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != second {
		t.Errorf("ids = %v, want [%s %s]", ids, first, second)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestDecisionRepository_SweepTimedOutSkipsTerminal(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewDecisionRepository(sqlxDB)

	// The sweep binds the eligible statuses as a query parameter; matching
	// on the exact array proves posted, failed and denied decisions are
	// never candidates, regardless of age.
	eligible := pq.StringArray{
		string(domain.DecisionStatusPending),
		string(domain.DecisionStatusTemplateSelecting),
		string(domain.DecisionStatusGenerating),
		string(domain.DecisionStatusPermitPending),
		string(domain.DecisionStatusPosting),
	}
	for _, s := range eligible {
		if domain.DecisionStatus(s).IsTerminal() {
			t.Fatalf("fixture lists terminal status %s as eligible", s)
		}
	}

	mock.ExpectQuery("UPDATE decisions").
		WithArgs(eligible, (10 * time.Minute).String()).
		WillReturnRows(sqlmock.NewRows([]string{"decision_id"}))

	ids, err := repo.SweepTimedOut(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("SweepTimedOut() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestDecisionRepository_LastPostedAt(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewDecisionRepository(sqlxDB)
	ctx := context.Background()

	t.Run("returns latest post time", func(t *testing.T) {
		posted := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
		mock.ExpectQuery("SELECT MAX").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(posted))

		got, err := repo.LastPostedAt(ctx)
		if err != nil {
			t.Fatalf("LastPostedAt() error = %v", err)
		}
		if !got.Equal(posted) {
			t.Errorf("LastPostedAt() = %v, want %v", got, posted)
		}
	})

	t.Run("no posts yet", func(t *testing.T) {
		mock.ExpectQuery("SELECT MAX").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

		_, err := repo.LastPostedAt(ctx)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("LastPostedAt() error = %v, want ErrNotFound", err)
		}
	})

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestDecisionRepository_GetByIDNotFound(t *testing.T) {
	sqlxDB, mock := newMockDB(t)
	repo := database.NewDecisionRepository(sqlxDB)

	mock.ExpectQuery("SELECT (.+) FROM decisions").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}
