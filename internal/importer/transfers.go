package importer

import (
	"sort"
	"time"

	"github.com/jask/budgetcore/internal/model"
)

// DefaultTransferWindow is how far apart the two legs of a transfer may be.
const DefaultTransferWindow = 72 * time.Hour

type transferCandidate struct {
	debit, credit int
	delta         time.Duration
}

// MarkTransfers pairs debits with credits of the same absolute amount and
// currency in different accounts, at most window apart. Candidates are taken
// closest in time first, then by lowest debit row, then lowest credit row.
// The input is not modified.
func MarkTransfers(txs []ConvertedTransaction, window time.Duration) []ConvertedTransaction {
	if window <= 0 {
		window = DefaultTransferWindow
	}
	out := make([]ConvertedTransaction, len(txs))
	copy(out, txs)

	var candidates []transferCandidate
	for i, d := range out {
		if d.Amount >= 0 || d.MatchedTransferID != "" {
			continue
		}
		for j, c := range out {
			if c.Amount <= 0 || c.MatchedTransferID != "" {
				continue
			}
			if c.Amount != -d.Amount || c.Currency != d.Currency || c.Account == d.Account {
				continue
			}
			delta := d.At.Sub(c.At)
			if delta < 0 {
				delta = -delta
			}
			if delta > window {
				continue
			}
			candidates = append(candidates, transferCandidate{debit: i, credit: j, delta: delta})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.delta != cb.delta {
			return ca.delta < cb.delta
		}
		if out[ca.debit].Row != out[cb.debit].Row {
			return out[ca.debit].Row < out[cb.debit].Row
		}
		return out[ca.credit].Row < out[cb.credit].Row
	})

	taken := make([]bool, len(out))
	for _, c := range candidates {
		if taken[c.debit] || taken[c.credit] {
			continue
		}
		taken[c.debit], taken[c.credit] = true, true
		debitID, creditID := out[c.debit].ID, out[c.credit].ID
		out[c.debit].MarkTransfer(creditID)
		out[c.credit].MarkTransfer(debitID)
	}
	return out
}

// HealTransfers clears matches whose partner is missing or does not point
// back. It returns the repaired copy and how many were cleared.
func HealTransfers(txs []model.Transaction) ([]model.Transaction, int) {
	byID := make(map[string]model.Transaction, len(txs))
	for _, t := range txs {
		byID[t.ID] = t
	}
	out := make([]model.Transaction, len(txs))
	copy(out, txs)
	healed := 0
	for i := range out {
		if out[i].MatchedTransferID == "" {
			continue
		}
		partner, ok := byID[out[i].MatchedTransferID]
		if ok && partner.MatchedTransferID == out[i].ID {
			continue
		}
		out[i].ClearTransferMatch()
		healed++
	}
	return out, healed
}
