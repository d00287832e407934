package service

import (
	"context"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

const (
	duplicateWindow   = 3 * 24 * time.Hour
	duplicateDistance = 0.4
	duplicatePageSize = 200
)

// PossibleDuplicate pairs an imported transaction with a remote one that looks
// like the same purchase under a different ID.
type PossibleDuplicate struct {
	Imported   model.Transaction
	Existing   model.Transaction
	Similarity float64
}

// findDuplicates compares txs with the user's remote transactions in the
// covered date range. Same ID is an exact re-import, which the queue already
// absorbs, so it is not reported.
func findDuplicates(ctx context.Context, store remote.TransactionReader, userID string, txs []model.Transaction) ([]PossibleDuplicate, error) {
	if store == nil || len(txs) == 0 {
		return nil, nil
	}
	from, to, ok := dateRange(txs)
	if !ok {
		return nil, nil
	}

	byAccount := map[string][]model.Transaction{}
	cursor := ""
	for {
		page, err := store.ListTransactions(ctx, remote.TransactionQuery{
			UserID: userID,
			From:   from.Add(-duplicateWindow),
			To:     to.Add(duplicateWindow),
			Cursor: cursor,
			Limit:  duplicatePageSize,
		})
		if err != nil {
			return nil, err
		}
		for _, t := range page.Items {
			byAccount[t.Account] = append(byAccount[t.Account], t)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	var out []PossibleDuplicate
	for _, t := range txs {
		for _, existing := range byAccount[t.Account] {
			if existing.ID == t.ID || existing.Amount != t.Amount {
				continue
			}
			if !withinDays(t, existing) {
				continue
			}
			sim := similarity(t.Title, existing.Title)
			if 1-sim < duplicateDistance {
				out = append(out, PossibleDuplicate{Imported: t, Existing: existing, Similarity: sim})
			}
		}
	}
	return out, nil
}

func dateRange(txs []model.Transaction) (from, to time.Time, ok bool) {
	for _, t := range txs {
		at, err := t.Time()
		if err != nil {
			continue
		}
		if !ok || at.Before(from) {
			from = at
		}
		if !ok || at.After(to) {
			to = at
		}
		ok = true
	}
	return from, to, ok
}

func withinDays(a, b model.Transaction) bool {
	ta, errA := a.Time()
	tb, errB := b.Time()
	if errA != nil || errB != nil {
		return false
	}
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d <= duplicateWindow
}

// similarity is 1 minus the normalized edit distance of the upper-cased titles.
func similarity(a, b string) float64 {
	a, b = strings.ToUpper(strings.TrimSpace(a)), strings.ToUpper(strings.TrimSpace(b))
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
