package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// NotificationRepo backs the in-app notification center.
type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Insert(ctx context.Context, n Notification) error {
	var data interface{}
	if len(n.Data) > 0 {
		raw, err := json.Marshal(n.Data)
		if err != nil {
			return err
		}
		data = string(raw)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO notifications(id, title, body, data, created_at, read_at) VALUES(?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Body, data, n.CreatedAt.UTC(), n.ReadAt)
	return err
}

// List returns the newest entries first.
func (r *NotificationRepo) List(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	q := `SELECT id, title, body, data, created_at, read_at FROM notifications`
	if unreadOnly {
		q += ` WHERE read_at IS NULL`
	}
	q += ` ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		var data sql.NullString
		var read sql.NullTime
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &data, &n.CreatedAt, &read); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &n.Data); err != nil {
				return nil, err
			}
		}
		if read.Valid {
			n.ReadAt = &read.Time
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) MarkRead(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE notifications SET read_at = ? WHERE id = ? AND read_at IS NULL`, time.Now().UTC(), id)
	return err
}

func (r *NotificationRepo) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notifications`)
	return err
}
