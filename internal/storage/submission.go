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

// SubmissionStore records graded submissions.
type SubmissionStore interface {
	Create(ctx context.Context, s *model.Submission) error
	Get(ctx context.Context, id string) (*model.Submission, error)
}

type SubmissionRepository struct {
	db *sqlx.DB
}

func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO submissions
		(id, problem_id, user_id, code, success, passed_count, total_count, result_json, created_at)
		VALUES (:id, :problem_id, :user_id, :code, :success, :passed_count, :total_count, :result_json, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return errors.Wrapf(err, errors.DatabaseError, "create submission: %v", err)
	}
	return nil
}

func (r *SubmissionRepository) Get(ctx context.Context, id string) (*model.Submission, error) {
	query := r.db.Rebind(`SELECT id, problem_id, user_id, code, success, passed_count, total_count, result_json, created_at
		FROM submissions WHERE id = ?`)
	var s model.Submission
	if err := r.db.GetContext(ctx, &s, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.SubmissionNotFound, "submission %s not found", id)
		}
		return nil, errors.Wrapf(err, errors.DatabaseError, "get submission: %v", err)
	}
	return &s, nil
}
