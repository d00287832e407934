// Package balance reconciles account balances from imported rows and keeps a
// snapshot so an import can be undone.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

// ErrUndoNoSnapshot means no balance doc carries a snapshot for the batch.
var ErrUndoNoSnapshot = errors.New("no balance snapshot for import batch")

// Row states that take part in reconciliation.
const (
	StateCompleted = "COMPLETED"
	StatePending   = "PENDING"
)

// Row is the slice of an imported row that balances need.
type Row struct {
	AccountKey  string
	AccountName string
	AccountType string
	Provider    string
	Currency    string
	At          time.Time
	State       string
	Amount      int64
	Balance     *int64
}

// AccountBalance is the reconciled balance of one account.
type AccountBalance struct {
	AccountKey  string
	AccountName string
	AccountType string
	Provider    string
	Currency    string
	Balance     int64
	AsOf        time.Time
}

// ComputeFinalBalances takes, per account, the balance of the latest completed
// row that has one (ties go to the later row) and adds every pending amount.
// Accounts without a completed balance are left out. Output is sorted by key.
func ComputeFinalBalances(rows []Row) []AccountBalance {
	base := map[string]*AccountBalance{}
	for _, r := range rows {
		if r.State != StateCompleted || r.Balance == nil {
			continue
		}
		cur, ok := base[r.AccountKey]
		if ok && r.At.Before(cur.AsOf) {
			continue
		}
		base[r.AccountKey] = &AccountBalance{
			AccountKey:  r.AccountKey,
			AccountName: r.AccountName,
			AccountType: r.AccountType,
			Provider:    r.Provider,
			Currency:    r.Currency,
			Balance:     *r.Balance,
			AsOf:        r.At,
		}
	}

	pending := map[string]int64{}
	for _, r := range rows {
		if r.State == StatePending {
			pending[r.AccountKey] += r.Amount
		}
	}

	out := make([]AccountBalance, 0, len(base))
	for key, b := range base {
		b.Balance += pending[key]
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountKey < out[j].AccountKey })
	return out
}

// DocID is the balance doc ID for (userID, accountKey).
func DocID(userID, accountKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("balance:"+userID+"|"+accountKey)).String()
}

// ApplyResult counts what ApplyImport wrote. Errors holds per-account failures.
type ApplyResult struct {
	Created int
	Updated int
	Errors  []error
}

// RestoreResult counts what an undo touched. ErrUndoNoSnapshot in Errors is a
// partial success.
type RestoreResult struct {
	Restored int
	Deleted  int
	Errors   []error
}

// Service persists balances with their undo snapshot.
type Service struct {
	Store remote.BalanceStore
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ApplyImport upserts one doc per balance, snapshotting the value it replaces.
func (s *Service) ApplyImport(ctx context.Context, userID, batchID string, balances []AccountBalance) (ApplyResult, error) {
	log := logger.FromContext(ctx)
	var res ApplyResult
	now := s.now()
	for _, b := range balances {
		id := DocID(userID, b.AccountKey)
		existing, err := s.Store.GetBalance(ctx, id)
		if err != nil {
			if errors.Is(err, remote.ErrUnconfigured) {
				return res, err
			}
			res.Errors = append(res.Errors, fmt.Errorf("read balance %s: %w", b.AccountKey, err))
			continue
		}
		doc := model.AccountBalanceDoc{
			ID:            id,
			UserID:        userID,
			AccountKey:    b.AccountKey,
			AccountName:   b.AccountName,
			AccountType:   b.AccountType,
			Provider:      b.Provider,
			Currency:      b.Currency,
			Balance:       b.Balance,
			LastUpdated:   now,
			ImportBatchID: batchID,
		}
		if existing != nil {
			prev := existing.Balance
			prevAt := existing.LastUpdated
			doc.PreviousBalance = &prev
			doc.PreviousBalanceTimestamp = &prevAt
		}
		if err := s.Store.PutBalance(ctx, doc); err != nil {
			if errors.Is(err, remote.ErrUnconfigured) {
				return res, err
			}
			res.Errors = append(res.Errors, fmt.Errorf("write balance %s: %w", b.AccountKey, err))
			continue
		}
		if existing != nil {
			res.Updated++
		} else {
			res.Created++
		}
		log.Debug().Str("account", b.AccountKey).Int64("balance", b.Balance).Str("batch", batchID).Msg("balance applied")
	}
	return res, nil
}

// RestoreBalancesFromSnapshot undoes batchID. Docs the batch created are
// deleted; others go back to their previous balance with the snapshot cleared.
func (s *Service) RestoreBalancesFromSnapshot(ctx context.Context, userID, batchID string) (RestoreResult, error) {
	var res RestoreResult
	docs, err := s.Store.ListBalances(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list balances: %w", err)
	}
	matched := 0
	for _, doc := range docs {
		if doc.ImportBatchID != batchID {
			continue
		}
		matched++
		if doc.PreviousBalance == nil {
			if err := s.Store.DeleteBalance(ctx, doc.ID); err != nil && !errors.Is(err, remote.ErrNotFound) {
				res.Errors = append(res.Errors, fmt.Errorf("delete balance %s: %w", doc.AccountKey, err))
				continue
			}
			res.Deleted++
			continue
		}
		doc.Balance = *doc.PreviousBalance
		if doc.PreviousBalanceTimestamp != nil {
			doc.LastUpdated = *doc.PreviousBalanceTimestamp
		} else {
			doc.LastUpdated = s.now()
		}
		doc.PreviousBalance = nil
		doc.PreviousBalanceTimestamp = nil
		doc.ImportBatchID = ""
		if err := s.Store.PutBalance(ctx, doc); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("restore balance %s: %w", doc.AccountKey, err))
			continue
		}
		res.Restored++
	}
	if matched == 0 {
		res.Errors = append(res.Errors, fmt.Errorf("batch %s: %w", batchID, ErrUndoNoSnapshot))
	}
	return res, nil
}

// DeleteAll removes every balance doc of userID. It is used by account deletion.
func (s *Service) DeleteAll(ctx context.Context, userID string) (int, error) {
	docs, err := s.Store.ListBalances(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list balances: %w", err)
	}
	deleted := 0
	for _, doc := range docs {
		if err := s.Store.DeleteBalance(ctx, doc.ID); err != nil && !errors.Is(err, remote.ErrNotFound) {
			return deleted, fmt.Errorf("delete balance %s: %w", doc.AccountKey, err)
		}
		deleted++
	}
	return deleted, nil
}
