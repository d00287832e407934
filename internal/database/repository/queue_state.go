package repository

import (
	"context"
	"database/sql"
	"time"
)

// QueueStateRepo stores the run flags that must survive a restart.
type QueueStateRepo struct {
	db *sql.DB
}

func NewQueueStateRepo(db *sql.DB) *QueueStateRepo { return &QueueStateRepo{db: db} }

// TryAcquire sets the named flag when it is clear or when its holder last
// heartbeated before staleBefore. It reports whether owner now holds the flag.
func (r *QueueStateRepo) TryAcquire(ctx context.Context, name, owner string, staleBefore time.Time) (bool, error) {
	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO queue_state(name, active, updated_at) VALUES(?, 0, ?)`, name, now); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE queue_state SET active = 1, owner = ?, updated_at = ?
	WHERE name = ? AND (active = 0 OR updated_at < ?)`, owner, now, name, staleBefore.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Heartbeat extends owner's hold on the flag. It reports false once another
// owner has taken the flag over.
func (r *QueueStateRepo) Heartbeat(ctx context.Context, name, owner string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE queue_state SET updated_at = ? WHERE name = ? AND active = 1 AND owner = ?`, time.Now().UTC(), name, owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release clears the flag if owner still holds it.
func (r *QueueStateRepo) Release(ctx context.Context, name, owner string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE queue_state SET active = 0, owner = NULL, updated_at = ? WHERE name = ? AND owner = ?`, time.Now().UTC(), name, owner)
	return err
}

// IsActive reports whether the flag is held by an owner that heartbeated at or
// after staleBefore. A zero staleBefore counts any holder.
func (r *QueueStateRepo) IsActive(ctx context.Context, name string, staleBefore time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_state WHERE name = ? AND active = 1 AND updated_at >= ?`, name, staleBefore.UTC()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
