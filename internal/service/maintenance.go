package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jask/budgetcore/internal/database"
	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/importer"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

// MaintenanceService houses destructive/ops actions surfaced through the CLI.
type MaintenanceService struct {
	DB     *sql.DB
	Remote remote.TransactionStore
}

// Reset wipes local queue, import and notification data. The category
// catalog and schema stay so the client can keep running.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"queued_transactions",
			"imports",
			"notifications",
			"merchant_vote_cache",
			"delete_operations",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "UPDATE queue_state SET active = 0, owner = NULL"); err != nil {
			return fmt.Errorf("reset queue state: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}

// Prune drops completed queue items older than olderThan.
func (s *MaintenanceService) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.DB == nil {
		return 0, fmt.Errorf("maintenance: db not configured")
	}
	return repository.NewQueueRepo(s.DB).PurgeCompleted(ctx, time.Now().UTC().Add(-olderThan))
}

// HealTransfers clears one-sided transfer matches in the user's remote
// transactions and returns how many were repaired.
func (s *MaintenanceService) HealTransfers(ctx context.Context, userID string) (int, error) {
	if s.Remote == nil {
		return 0, fmt.Errorf("maintenance: remote not configured")
	}
	var items []model.Transaction
	cursor := ""
	for {
		page, err := s.Remote.ListTransactions(ctx, remote.TransactionQuery{UserID: userID, Cursor: cursor, Limit: 200})
		if err != nil {
			return 0, fmt.Errorf("list transactions: %w", err)
		}
		items = append(items, page.Items...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	healed, n := importer.HealTransfers(items)
	if n == 0 {
		return 0, nil
	}
	log := logger.FromContext(ctx)
	fixed := 0
	for i, t := range healed {
		if t.MatchedTransferID == items[i].MatchedTransferID {
			continue
		}
		if err := s.Remote.UpdateTransaction(ctx, t); err != nil {
			log.Warn().Err(err).Str("item", t.ID).Msg("heal transfer")
			continue
		}
		fixed++
	}
	return fixed, nil
}
