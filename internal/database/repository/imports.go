package repository

import (
	"context"
	"database/sql"
	"time"
)

// ImportRepo records CSV import batches.
type ImportRepo struct {
	db *sql.DB
}

func NewImportRepo(db *sql.DB) *ImportRepo {
	return &ImportRepo{db: db}
}

func (r *ImportRepo) Insert(ctx context.Context, rec ImportRecord) error {
	if rec.Status == "" {
		rec.Status = ImportImported
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO imports(batch_id, user_id, provider, filename, total_rows, parsed, skipped, queued, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(batch_id) DO UPDATE SET
	 total_rows=excluded.total_rows,
	 parsed=excluded.parsed,
	 skipped=excluded.skipped,
	 queued=excluded.queued,
	 status=excluded.status;
	`, rec.BatchID, rec.UserID, rec.Provider, rec.Filename, rec.TotalRows, rec.Parsed, rec.Skipped, rec.Queued, rec.Status, rec.CreatedAt.UTC())
	return err
}

// Get returns nil for an unknown batch.
func (r *ImportRepo) Get(ctx context.Context, batchID string) (*ImportRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT batch_id, user_id, provider, filename, total_rows, parsed, skipped, queued, status, created_at, undone_at FROM imports WHERE batch_id = ?`, batchID)
	rec, err := scanImport(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByUser returns the newest imports first. limit <= 0 means all.
func (r *ImportRepo) ListByUser(ctx context.Context, userID string, limit int) ([]ImportRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT batch_id, user_id, provider, filename, total_rows, parsed, skipped, queued, status, created_at, undone_at FROM imports WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ImportRecord
	for rows.Next() {
		rec, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *ImportRepo) MarkUndone(ctx context.Context, batchID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE imports SET status = ?, undone_at = ? WHERE batch_id = ?`, ImportUndone, at.UTC(), batchID)
	return err
}

func (r *ImportRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM imports`)
	return err
}

func scanImport(row scanner) (ImportRecord, error) {
	var rec ImportRecord
	var undone sql.NullTime
	if err := row.Scan(&rec.BatchID, &rec.UserID, &rec.Provider, &rec.Filename, &rec.TotalRows, &rec.Parsed,
		&rec.Skipped, &rec.Queued, &rec.Status, &rec.CreatedAt, &undone); err != nil {
		return ImportRecord{}, err
	}
	if undone.Valid {
		rec.UndoneAt = &undone.Time
	}
	return rec, nil
}
