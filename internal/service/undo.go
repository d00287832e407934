package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jask/budgetcore/internal/balance"
	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/remote"
)

// UndoResult reports what an undo removed. A non-empty Errors with a nil error
// return is a partial success.
type UndoResult struct {
	Dequeued int
	Deleted  int
	Balances balance.RestoreResult
	Errors   []error
}

// Partial reports whether some step did not fully succeed.
func (r UndoResult) Partial() bool { return len(r.Errors) > 0 }

// UndoImport removes everything a batch added and restores the balances it
// replaced. The import stays "imported" while remote deletes are failing so
// the undo can be retried.
func (s *ImportService) UndoImport(ctx context.Context, userID, batchID string) (UndoResult, error) {
	var res UndoResult
	log := logger.FromContext(ctx)
	log = log.With().Str("batch", batchID).Str("user", userID).Logger()

	if s.Imports != nil {
		rec, err := s.Imports.Get(ctx, batchID)
		if err != nil {
			return res, fmt.Errorf("load import %s: %w", batchID, err)
		}
		if rec == nil || rec.UserID != userID {
			return res, ErrImportNotFound
		}
		if rec.Status == repository.ImportUndone {
			return res, ErrAlreadyUndone
		}
	}

	n, err := s.Queue.RemoveBatch(ctx, batchID)
	if err != nil {
		return res, err
	}
	res.Dequeued = n

	ids, err := s.batchTransactionIDs(ctx, userID, batchID)
	if err != nil {
		return res, fmt.Errorf("list batch transactions: %w", err)
	}
	deleteFailed := false
	for _, id := range ids {
		err := remote.Classify(s.Remote.DeleteTransaction(ctx, userID, id))
		switch {
		case err == nil, errors.Is(err, remote.ErrNotFound):
			res.Deleted++
		case errors.Is(err, remote.ErrUnconfigured), ctx.Err() != nil:
			return res, err
		default:
			deleteFailed = true
			res.Errors = append(res.Errors, fmt.Errorf("delete %s: %w", id, err))
		}
	}

	if s.Balances != nil {
		restored, err := s.Balances.RestoreBalancesFromSnapshot(ctx, userID, batchID)
		if err != nil {
			return res, fmt.Errorf("restore balances: %w", err)
		}
		res.Balances = restored
		res.Errors = append(res.Errors, restored.Errors...)
	}

	if s.Imports != nil && !deleteFailed {
		if err := s.Imports.MarkUndone(ctx, batchID, s.clock()); err != nil {
			return res, fmt.Errorf("mark import undone: %w", err)
		}
	}
	log.Info().Int("dequeued", res.Dequeued).Int("deleted", res.Deleted).
		Int("balances_restored", res.Balances.Restored).Int("errors", len(res.Errors)).Msg("import undone")
	return res, nil
}

// batchTransactionIDs collects IDs before deleting so paging is not disturbed.
func (s *ImportService) batchTransactionIDs(ctx context.Context, userID, batchID string) ([]string, error) {
	var ids []string
	cursor := ""
	for {
		page, err := s.Remote.ListTransactions(ctx, remote.TransactionQuery{UserID: userID, ImportBatchID: batchID, Cursor: cursor, Limit: 100})
		if err != nil {
			return nil, err
		}
		for _, t := range page.Items {
			ids = append(ids, t.ID)
		}
		if page.NextCursor == "" {
			return ids, nil
		}
		cursor = page.NextCursor
	}
}
