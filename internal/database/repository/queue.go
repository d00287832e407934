package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jask/budgetcore/internal/model"
)

// QueueRepo persists the sync queue.
type QueueRepo struct {
	db *sql.DB
}

func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

const queueColumns = `id, user_id, COALESCE(import_batch_id, ''), payload, sync_status, attempts, error, created_at, updated_at, completed_at`

// Insert queues transactions as pending. Rows whose ID is already queued are
// left alone; the returned count only includes new rows.
func (r *QueueRepo) Insert(ctx context.Context, txs ...model.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO queued_transactions(id, user_id, import_batch_id, payload, sync_status, attempts, created_at, updated_at)
	VALUES(?, ?, ?, ?, 'pending', 0, ?, ?)
	ON CONFLICT(id) DO NOTHING;
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	now := time.Now().UTC()
	for i, t := range txs {
		if t.ID == "" {
			return 0, fmt.Errorf("queue transaction %d: missing id", i)
		}
		payload, err := json.Marshal(t)
		if err != nil {
			return 0, fmt.Errorf("encode transaction %s: %w", t.ID, err)
		}
		// Spread created_at so queue order follows insert order.
		ts := now.Add(time.Duration(i) * time.Microsecond)
		res, err := stmt.ExecContext(ctx, t.ID, t.UserID, nullable(t.ImportBatchID), string(payload), ts, ts)
		if err != nil {
			return 0, fmt.Errorf("queue transaction %s: %w", t.ID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Get returns nil when the item is not queued.
func (r *QueueRepo) Get(ctx context.Context, id string) (*QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queued_transactions WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// ListRunnable returns pending items and failed items still under maxAttempts,
// oldest first.
func (r *QueueRepo) ListRunnable(ctx context.Context, maxAttempts int) ([]QueueItem, error) {
	return r.query(ctx, `SELECT `+queueColumns+` FROM queued_transactions
	WHERE sync_status = 'pending' OR (sync_status = 'failed' AND attempts < ?)
	ORDER BY created_at, rowid`, maxAttempts)
}

// ListByStatus lists items in one state, oldest first. An empty status lists everything.
func (r *QueueRepo) ListByStatus(ctx context.Context, status string) ([]QueueItem, error) {
	if status == "" {
		return r.query(ctx, `SELECT `+queueColumns+` FROM queued_transactions ORDER BY created_at, rowid`)
	}
	return r.query(ctx, `SELECT `+queueColumns+` FROM queued_transactions WHERE sync_status = ? ORDER BY created_at, rowid`, status)
}

func (r *QueueRepo) query(ctx context.Context, q string, args ...interface{}) ([]QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkSyncing moves the given items into the syncing state.
func (r *QueueRepo) MarkSyncing(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	args = append([]interface{}{time.Now().UTC()}, args...)
	_, err := r.db.ExecContext(ctx, `UPDATE queued_transactions SET sync_status = 'syncing', updated_at = ? WHERE id IN `+in, args...)
	return err
}

// RevertSyncing puts items that are still syncing back to pending. A nil ids
// slice reverts every syncing item.
func (r *QueueRepo) RevertSyncing(ctx context.Context, ids []string) (int, error) {
	q := `UPDATE queued_transactions SET sync_status = 'pending', updated_at = ? WHERE sync_status = 'syncing'`
	args := []interface{}{time.Now().UTC()}
	if ids != nil {
		if len(ids) == 0 {
			return 0, nil
		}
		in, idArgs := inClause(ids)
		q += ` AND id IN ` + in
		args = append(args, idArgs...)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ApplyOutcomes commits a batch of upload results in one transaction.
func (r *QueueRepo) ApplyOutcomes(ctx context.Context, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, o := range outcomes {
		inc := 0
		if o.IncrementAttempt {
			inc = 1
		}
		var completedAt interface{}
		if o.Status == StatusCompleted {
			completedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
		UPDATE queued_transactions
		SET sync_status = ?, attempts = attempts + ?, error = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`, o.Status, inc, nullable(o.Error), now, completedAt, o.ID); err != nil {
			return fmt.Errorf("apply outcome %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

func (r *QueueRepo) DeleteByUser(ctx context.Context, userID string) (int, error) {
	return r.exec(ctx, `DELETE FROM queued_transactions WHERE user_id = ?`, userID)
}

func (r *QueueRepo) DeleteByBatch(ctx context.Context, batchID string) (int, error) {
	return r.exec(ctx, `DELETE FROM queued_transactions WHERE import_batch_id = ?`, batchID)
}

func (r *QueueRepo) DeleteAll(ctx context.Context) (int, error) {
	return r.exec(ctx, `DELETE FROM queued_transactions`)
}

// PurgeCompleted drops completed items that finished before cutoff.
func (r *QueueRepo) PurgeCompleted(ctx context.Context, cutoff time.Time) (int, error) {
	return r.exec(ctx, `DELETE FROM queued_transactions WHERE sync_status = 'completed' AND completed_at < ?`, cutoff.UTC())
}

// CountByStatus returns the number of items in each state.
func (r *QueueRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM queued_transactions GROUP BY sync_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *QueueRepo) exec(ctx context.Context, q string, args ...interface{}) (int, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanQueueItem(row scanner) (QueueItem, error) {
	var item QueueItem
	var payload string
	var errMsg sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&item.ID, &item.UserID, &item.ImportBatchID, &payload, &item.SyncStatus, &item.Attempts,
		&errMsg, &item.CreatedAt, &item.UpdatedAt, &completed); err != nil {
		return QueueItem{}, err
	}
	if err := json.Unmarshal([]byte(payload), &item.Transaction); err != nil {
		return QueueItem{}, fmt.Errorf("decode queued transaction %s: %w", item.ID, err)
	}
	if errMsg.Valid {
		item.Error = &errMsg.String
	}
	if completed.Valid {
		item.CompletedAt = &completed.Time
	}
	return item, nil
}

func inClause(ids []string) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")", args
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
