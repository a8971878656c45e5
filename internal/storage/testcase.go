package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/namnv2496/bytescript/internal/errors"
	"github.com/namnv2496/bytescript/internal/model"
)

// TestCaseStore reads and writes the test cases of a problem.
type TestCaseStore interface {
	ListByProblem(ctx context.Context, problemID string) ([]model.TestCase, error)
	Get(ctx context.Context, problemID, id string) (*model.TestCase, error)
	Create(ctx context.Context, tc *model.TestCase) error
	Delete(ctx context.Context, problemID, id string) error
}

// TestCaseRepository is the SQL TestCaseStore.
type TestCaseRepository struct {
	db *sqlx.DB
}

func NewTestCaseRepository(db *sqlx.DB) *TestCaseRepository {
	return &TestCaseRepository{db: db}
}

const testCaseColumns = `id, problem_id, input, expected_output, is_public, created_at, updated_at`

// ListByProblem returns the cases of a problem in creation order.
func (r *TestCaseRepository) ListByProblem(ctx context.Context, problemID string) ([]model.TestCase, error) {
	query := r.db.Rebind(`SELECT ` + testCaseColumns + ` FROM test_cases WHERE problem_id = ? ORDER BY created_at, id`)
	cases := []model.TestCase{}
	if err := r.db.SelectContext(ctx, &cases, query, problemID); err != nil {
		return nil, errors.Wrapf(err, errors.DatabaseError, "list test cases: %v", err)
	}
	return cases, nil
}

func (r *TestCaseRepository) Get(ctx context.Context, problemID, id string) (*model.TestCase, error) {
	query := r.db.Rebind(`SELECT ` + testCaseColumns + ` FROM test_cases WHERE problem_id = ? AND id = ?`)
	var tc model.TestCase
	if err := r.db.GetContext(ctx, &tc, query, problemID, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.NotFound, "test case %s not found", id)
		}
		return nil, errors.Wrapf(err, errors.DatabaseError, "get test case: %v", err)
	}
	return &tc, nil
}

// Create stores tc, assigning an id and timestamps when they are unset.
func (r *TestCaseRepository) Create(ctx context.Context, tc *model.TestCase) error {
	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = now
	}
	tc.UpdatedAt = now

	query := `INSERT INTO test_cases (` + testCaseColumns + `)
		VALUES (:id, :problem_id, :input, :expected_output, :is_public, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tc); err != nil {
		return errors.Wrapf(err, errors.DatabaseError, "create test case: %v", err)
	}
	return nil
}

func (r *TestCaseRepository) Delete(ctx context.Context, problemID, id string) error {
	query := r.db.Rebind(`DELETE FROM test_cases WHERE problem_id = ? AND id = ?`)
	res, err := r.db.ExecContext(ctx, query, problemID, id)
	if err != nil {
		return errors.Wrapf(err, errors.DatabaseError, "delete test case: %v", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(errors.NotFound, "test case %s not found", id)
	}
	return nil
}
