// Package memory is an in-process remote store used for offline runs and tests.
package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

// Store keeps every collection in maps guarded by one RWMutex.
// Values are copied in and out so callers never share state with the store.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]model.Transaction
	balances     map[string]model.AccountBalanceDoc
	votes        map[string]model.MerchantVote
	now          func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		transactions: make(map[string]model.Transaction),
		balances:     make(map[string]model.AccountBalanceDoc),
		votes:        make(map[string]model.MerchantVote),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var _ remote.Store = (*Store)(nil)

func (s *Store) CreateTransaction(ctx context.Context, tx model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return fmt.Errorf("create transaction %s: %w", tx.ID, remote.ErrDuplicateID)
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.transactions[tx.ID]
	if !ok || existing.UserID != tx.UserID {
		return fmt.Errorf("update transaction %s: %w", tx.ID, remote.ErrNotFound)
	}
	s.transactions[tx.ID] = tx
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.transactions[id]
	if !ok || existing.UserID != userID {
		return fmt.Errorf("delete transaction %s: %w", id, remote.ErrNotFound)
	}
	delete(s.transactions, id)
	return nil
}

// ListTransactions orders by (date, id). The cursor is the last key of the previous page.
func (s *Store) ListTransactions(ctx context.Context, q remote.TransactionQuery) (remote.TransactionPage, error) {
	if err := ctx.Err(); err != nil {
		return remote.TransactionPage{}, err
	}
	after, err := decodeCursor(q.Cursor)
	if err != nil {
		return remote.TransactionPage{}, err
	}

	s.mu.RLock()
	matched := make([]model.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if matches(tx, q) {
			matched = append(matched, tx)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		ki, kj := sortKey(matched[i]), sortKey(matched[j])
		if q.Descending {
			return ki > kj
		}
		return ki < kj
	})

	var page remote.TransactionPage
	for _, tx := range matched {
		key := sortKey(tx)
		if after != "" {
			if (!q.Descending && key <= after) || (q.Descending && key >= after) {
				continue
			}
		}
		if q.Limit > 0 && int32(len(page.Items)) == q.Limit {
			page.NextCursor = encodeCursor(sortKey(page.Items[len(page.Items)-1]))
			break
		}
		page.Items = append(page.Items, tx)
	}
	return page, nil
}

func (s *Store) CountTransactions(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, tx := range s.transactions {
		if tx.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetBalance(ctx context.Context, id string) (*model.AccountBalanceDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.balances[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *Store) PutBalance(ctx context.Context, doc model.AccountBalanceDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[doc.ID] = doc
	return nil
}

func (s *Store) DeleteBalance(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[id]; !ok {
		return fmt.Errorf("delete balance %s: %w", id, remote.ErrNotFound)
	}
	delete(s.balances, id)
	return nil
}

func (s *Store) ListBalances(ctx context.Context, userID string) ([]model.AccountBalanceDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AccountBalanceDoc
	for _, doc := range s.balances {
		if doc.UserID == userID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountKey < out[j].AccountKey })
	return out, nil
}

func (s *Store) ListVotes(ctx context.Context) ([]model.MerchantVote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.MerchantVote, 0, len(s.votes))
	for _, v := range s.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) IncrementVote(ctx context.Context, vote model.MerchantVote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := model.VoteID(vote.MerchantKey, vote.CategoryID)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.votes[id]
	if !ok {
		existing = model.MerchantVote{
			ID:           id,
			MerchantKey:  vote.MerchantKey,
			MerchantName: vote.MerchantName,
			CategoryID:   vote.CategoryID,
		}
	}
	existing.Votes++
	existing.LastVoted = s.now()
	if vote.UserID != "" {
		existing.UserID = vote.UserID
	}
	s.votes[id] = existing
	return nil
}

func matches(tx model.Transaction, q remote.TransactionQuery) bool {
	if q.UserID != "" && tx.UserID != q.UserID {
		return false
	}
	if q.ImportBatchID != "" && tx.ImportBatchID != q.ImportBatchID {
		return false
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		at, err := tx.Time()
		if err != nil {
			return false
		}
		if !q.From.IsZero() && at.Before(q.From) {
			return false
		}
		if !q.To.IsZero() && at.After(q.To) {
			return false
		}
	}
	return true
}

func sortKey(tx model.Transaction) string {
	return tx.Date + "|" + tx.ID
}

func encodeCursor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeCursor(cursor string) (string, error) {
	if strings.TrimSpace(cursor) == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("decode cursor: %w", err)
	}
	return string(raw), nil
}
