package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jask/budgetcore/internal/model"
)

// DeleteOperationRepo persists the singleton delete operation.
type DeleteOperationRepo struct{ db *sql.DB }

func NewDeleteOperationRepo(db *sql.DB) *DeleteOperationRepo { return &DeleteOperationRepo{db: db} }

// Get returns nil when no operation is recorded.
func (r *DeleteOperationRepo) Get(ctx context.Context) (*model.DeleteOperation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT user_id, kind, status, total_deleted, total_to_delete, last_error, created_at, updated_at FROM delete_operations WHERE id = 1`)
	var op model.DeleteOperation
	var lastErr sql.NullString
	if err := row.Scan(&op.UserID, &op.Kind, &op.Status, &op.TotalDeleted, &op.TotalToDelete, &lastErr, &op.CreatedAt, &op.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if lastErr.Valid {
		op.LastError = &lastErr.String
	}
	return &op, nil
}

// Save replaces the recorded operation.
func (r *DeleteOperationRepo) Save(ctx context.Context, op model.DeleteOperation) error {
	now := time.Now().UTC()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO delete_operations(id, user_id, kind, status, total_deleted, total_to_delete, last_error, created_at, updated_at)
	VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 user_id=excluded.user_id,
	 kind=excluded.kind,
	 status=excluded.status,
	 total_deleted=excluded.total_deleted,
	 total_to_delete=excluded.total_to_delete,
	 last_error=excluded.last_error,
	 created_at=excluded.created_at,
	 updated_at=excluded.updated_at;
	`, op.UserID, string(op.Kind), string(op.Status), op.TotalDeleted, op.TotalToDelete, op.LastError, op.CreatedAt.UTC(), now)
	return err
}

func (r *DeleteOperationRepo) SetStatus(ctx context.Context, status model.DeleteStatus, lastError *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE delete_operations SET status = ?, last_error = ?, updated_at = ? WHERE id = 1`, string(status), lastError, time.Now().UTC())
	return err
}

func (r *DeleteOperationRepo) UpdateProgress(ctx context.Context, totalDeleted, totalToDelete int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE delete_operations SET total_deleted = ?, total_to_delete = ?, updated_at = ? WHERE id = 1`, totalDeleted, totalToDelete, time.Now().UTC())
	return err
}

// Claim moves a pending operation, or an in-progress one whose runner last
// wrote before staleBefore, to in-progress. It reports whether the caller now
// runs the operation.
func (r *DeleteOperationRepo) Claim(ctx context.Context, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE delete_operations SET status = 'in-progress', last_error = NULL, updated_at = ?
	WHERE id = 1 AND (status = 'pending' OR (status = 'in-progress' AND updated_at < ?))`, time.Now().UTC(), staleBefore.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Touch refreshes updated_at of a running operation.
func (r *DeleteOperationRepo) Touch(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE delete_operations SET updated_at = ? WHERE id = 1 AND status = 'in-progress'`, time.Now().UTC())
	return err
}

// ResetInProgress returns an in-progress operation whose runner last wrote
// before staleBefore to pending.
func (r *DeleteOperationRepo) ResetInProgress(ctx context.Context, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE delete_operations SET status = 'pending', updated_at = ?
	WHERE id = 1 AND status = 'in-progress' AND updated_at < ?`, time.Now().UTC(), staleBefore.UTC())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *DeleteOperationRepo) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM delete_operations WHERE id = 1`)
	return err
}
