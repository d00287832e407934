package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jask/budgetcore/internal/model"
)

// VoteCacheRepo keeps the last vote table seen from the remote store so
// categorization keeps working offline.
type VoteCacheRepo struct{ db *sql.DB }

func NewVoteCacheRepo(db *sql.DB) *VoteCacheRepo { return &VoteCacheRepo{db: db} }

// Replace swaps the cached table for votes.
func (r *VoteCacheRepo) Replace(ctx context.Context, votes []model.MerchantVote) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM merchant_vote_cache`); err != nil {
		return err
	}
	for _, v := range votes {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO merchant_vote_cache(id, merchant_key, merchant_name, category_id, votes, last_voted)
		VALUES(?, ?, ?, ?, ?, ?)`, model.VoteID(v.MerchantKey, v.CategoryID), v.MerchantKey, v.MerchantName, v.CategoryID, v.Votes, v.LastVoted.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Increment bumps one tally, creating it when absent.
func (r *VoteCacheRepo) Increment(ctx context.Context, v model.MerchantVote) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO merchant_vote_cache(id, merchant_key, merchant_name, category_id, votes, last_voted)
	VALUES(?, ?, ?, ?, 1, ?)
	ON CONFLICT(id) DO UPDATE SET
	 votes=merchant_vote_cache.votes + 1,
	 last_voted=excluded.last_voted;
	`, model.VoteID(v.MerchantKey, v.CategoryID), v.MerchantKey, v.MerchantName, v.CategoryID, time.Now().UTC())
	return err
}

func (r *VoteCacheRepo) List(ctx context.Context) ([]model.MerchantVote, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, merchant_key, merchant_name, category_id, votes, last_voted FROM merchant_vote_cache ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.MerchantVote
	for rows.Next() {
		var v model.MerchantVote
		if err := rows.Scan(&v.ID, &v.MerchantKey, &v.MerchantName, &v.CategoryID, &v.Votes, &v.LastVoted); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
