// Package categorizer assigns categories from crowd votes, keyword rules and
// a default, in that order.
package categorizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

// MinContainmentKeyLen is the shortest merchant key allowed to take part in a
// containment match. Shorter keys only match exactly.
const MinContainmentKeyLen = 4

// ErrEmptyMerchant is returned when a title has no letters or digits.
var ErrEmptyMerchant = errors.New("merchant key is empty")

// CategoryLister lists the local category catalog.
type CategoryLister interface {
	List(ctx context.Context) ([]repository.Category, error)
}

// VoteCache keeps a local copy of the vote table.
type VoteCache interface {
	Replace(ctx context.Context, votes []model.MerchantVote) error
	Increment(ctx context.Context, vote model.MerchantVote) error
	List(ctx context.Context) ([]model.MerchantVote, error)
}

// Categorizer applies categorization precedence.
type Categorizer struct {
	Categories CategoryLister
	Votes      remote.VoteStore
	Cache      VoteCache
	// Rules are evaluated before DefaultRules.
	Rules []Rule
}

// MerchantKey lower-cases title and keeps ASCII letters and digits.
func MerchantKey(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CategorizeTransaction resolves one transaction. Prefer
// BatchCategorizeTransactions for more than one.
func (c *Categorizer) CategorizeTransaction(ctx context.Context, title, description string, isExpense bool) (string, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return "", err
	}
	return snap.categorize(title, description, isExpense), nil
}

// BatchCategorizeTransactions loads categories and votes once and fills in
// CategoryID where it is empty. Only the title is matched; Subtitle carries the
// account name for imported rows.
func (c *Categorizer) BatchCategorizeTransactions(ctx context.Context, txs []model.Transaction) ([]model.Transaction, error) {
	out := make([]model.Transaction, len(txs))
	copy(out, txs)
	if len(out) == 0 {
		return out, nil
	}
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].CategoryID != "" {
			continue
		}
		out[i].CategoryID = snap.categorize(out[i].Title, "", out[i].IsExpense())
	}
	return out, nil
}

// LearnMerchantCategory adds one vote for (MerchantKey(title), categoryID).
func (c *Categorizer) LearnMerchantCategory(ctx context.Context, title, categoryID, userID string) error {
	key := MerchantKey(title)
	if key == "" {
		return ErrEmptyMerchant
	}
	if categoryID == "" {
		return errors.New("category id is required")
	}
	vote := model.MerchantVote{
		MerchantKey:  key,
		MerchantName: strings.TrimSpace(title),
		CategoryID:   categoryID,
		UserID:       userID,
		LastVoted:    time.Now().UTC(),
	}
	if err := c.Votes.IncrementVote(ctx, vote); err != nil {
		return fmt.Errorf("learn %q: %w", key, err)
	}
	if c.Cache != nil {
		if err := c.Cache.Increment(ctx, vote); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("merchant_key", key).Msg("vote cache update failed")
		}
	}
	return nil
}

func (c *Categorizer) load(ctx context.Context) (*snapshot, error) {
	cats, err := c.Categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	snap := newSnapshot(cats, append(append([]Rule{}, c.Rules...), DefaultRules...))

	log := logger.FromContext(ctx)
	votes, err := c.Votes.ListVotes(ctx)
	switch {
	case err == nil:
		if c.Cache != nil {
			if cerr := c.Cache.Replace(ctx, votes); cerr != nil {
				log.Warn().Err(cerr).Msg("vote cache refresh failed")
			}
		}
	case c.Cache != nil:
		log.Warn().Err(err).Msg("remote votes unavailable, using cache")
		if votes, err = c.Cache.List(ctx); err != nil {
			return nil, fmt.Errorf("list cached votes: %w", err)
		}
	default:
		log.Warn().Err(err).Msg("remote votes unavailable, skipping learned mappings")
		votes = nil
	}
	snap.addVotes(votes)
	return snap, nil
}

type keyWinner struct {
	key        string
	categoryID string
	votes      int64
}

type snapshot struct {
	bySlug  map[string]string
	valid   map[string]bool
	rules   []Rule
	winners map[string]keyWinner
	keys    []string
}

func newSnapshot(cats []repository.Category, rules []Rule) *snapshot {
	s := &snapshot{
		bySlug:  make(map[string]string, len(cats)),
		valid:   make(map[string]bool, len(cats)),
		rules:   rules,
		winners: map[string]keyWinner{},
	}
	for _, cat := range cats {
		s.bySlug[cat.Slug] = cat.ID
		s.valid[cat.ID] = true
	}
	return s
}

// addVotes keeps, per merchant key, the category with most votes. Ties go to
// the most recent vote, then the lowest category ID.
func (s *snapshot) addVotes(votes []model.MerchantVote) {
	best := map[string]model.MerchantVote{}
	for _, v := range votes {
		if v.MerchantKey == "" || !s.valid[v.CategoryID] || v.Votes <= 0 {
			continue
		}
		cur, ok := best[v.MerchantKey]
		if !ok || beats(v, cur) {
			best[v.MerchantKey] = v
		}
	}
	for key, v := range best {
		s.winners[key] = keyWinner{key: key, categoryID: v.CategoryID, votes: v.Votes}
		s.keys = append(s.keys, key)
	}
	sort.Strings(s.keys)
}

func beats(a, b model.MerchantVote) bool {
	if a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	if !a.LastVoted.Equal(b.LastVoted) {
		return a.LastVoted.After(b.LastVoted)
	}
	return a.CategoryID < b.CategoryID
}

func (s *snapshot) learned(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	if w, ok := s.winners[key]; ok {
		return w.categoryID, true
	}
	if len(key) < MinContainmentKeyLen {
		return "", false
	}
	var pick *keyWinner
	for _, k := range s.keys {
		if len(k) < MinContainmentKeyLen {
			continue
		}
		if !strings.Contains(key, k) && !strings.Contains(k, key) {
			continue
		}
		w := s.winners[k]
		if pick == nil || len(w.key) > len(pick.key) ||
			(len(w.key) == len(pick.key) && w.votes > pick.votes) {
			pick = &w
		}
	}
	if pick == nil {
		return "", false
	}
	return pick.categoryID, true
}

func (s *snapshot) categorize(title, description string, isExpense bool) string {
	if id, ok := s.learned(MerchantKey(title)); ok {
		return id
	}
	text := strings.ToLower(strings.TrimSpace(title + " " + description))
	for _, r := range s.rules {
		if !strings.Contains(text, strings.ToLower(r.Match)) {
			continue
		}
		if id, ok := s.bySlug[r.Category]; ok {
			return id
		}
	}
	if !isExpense {
		if containsAny(text, salaryKeywords) {
			return s.idFor(model.CategorySalary)
		}
		if containsAny(text, incomeKeywords) {
			return s.idFor(model.CategoryIncome)
		}
	}
	return s.idFor(model.CategoryGeneral)
}

func (s *snapshot) idFor(slug string) string {
	if id, ok := s.bySlug[slug]; ok {
		return id
	}
	return model.CategoryID(slug)
}
