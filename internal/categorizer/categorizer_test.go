package categorizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
	"github.com/jask/budgetcore/internal/remote/memory"
)

type staticCategories []repository.Category

func (s staticCategories) List(context.Context) ([]repository.Category, error) { return s, nil }

type fakeVotes struct {
	votes []model.MerchantVote
	err   error
	calls int
}

func (f *fakeVotes) ListVotes(context.Context) ([]model.MerchantVote, error) {
	f.calls++
	return f.votes, f.err
}

func (f *fakeVotes) IncrementVote(context.Context, model.MerchantVote) error { return f.err }

type fakeCache struct {
	votes []model.MerchantVote
}

func (f *fakeCache) Replace(_ context.Context, votes []model.MerchantVote) error {
	f.votes = append([]model.MerchantVote(nil), votes...)
	return nil
}

func (f *fakeCache) Increment(_ context.Context, v model.MerchantVote) error {
	v.Votes = 1
	f.votes = append(f.votes, v)
	return nil
}

func (f *fakeCache) List(context.Context) ([]model.MerchantVote, error) { return f.votes, nil }

func catalog(slugs ...string) staticCategories {
	var out staticCategories
	for _, s := range slugs {
		out = append(out, repository.Category{ID: model.CategoryID(s), Slug: s, Name: s})
	}
	return out
}

var allSlugs = []string{"groceries", "dining", "transport", "shopping", "subscriptions", "salary", "income", "general", "travel"}

func id(slug string) string { return model.CategoryID(slug) }

func vote(key, slug string, votes int64, at time.Time) model.MerchantVote {
	return model.MerchantVote{MerchantKey: key, CategoryID: id(slug), Votes: votes, LastVoted: at}
}

func TestMerchantKey(t *testing.T) {
	assert.Equal(t, "tescostores123", MerchantKey("TESCO Stores #123"))
	assert.Equal(t, "caf", MerchantKey("Café"))
	assert.Equal(t, "", MerchantKey("  ** "))
}

func TestCategorizeTiers(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	votes := &fakeVotes{votes: []model.MerchantVote{
		vote("corner", "groceries", 3, now),
		vote("corner", "dining", 3, now.Add(-time.Hour)),
		vote("tie", "shopping", 2, now),
		vote("tie", "groceries", 2, now),
		vote("bestcafe", "dining", 1, now),
		vote("bestcafedublin", "travel", 1, now),
		vote("abc", "shopping", 9, now),
		vote("ghost", "notacategory", 10, now),
		vote("spotify", "shopping", 1, now),
	}}
	c := &Categorizer{Categories: catalog(allSlugs...), Votes: votes}

	cases := []struct {
		name      string
		title     string
		desc      string
		isExpense bool
		want      string
	}{
		{"exact vote, most recent wins a tie on count", "CORNER", "", true, "groceries"},
		{"exact vote, lowest id wins a full tie", "Tie", "", true, lowest("shopping", "groceries")},
		{"containment prefers the longest stored key", "Best Cafe Dublin 2", "", true, "travel"},
		{"stored key inside the title", "BESTCAFE LTD", "", true, "dining"},
		{"short stored keys never contain", "abcd shop", "", true, "general"},
		{"learned beats rules", "Spotify", "", true, "shopping"},
		{"unknown learned category is ignored", "ghost", "", true, "general"},
		{"keyword rule on description", "POS 1234", "Tesco Metro", true, "groceries"},
		{"salary keyword for income", "ACME PAYROLL", "", false, "salary"},
		{"refund keyword for income", "Card refund", "", false, "income"},
		{"salary keyword ignored for expense", "Payroll fee", "", true, "general"},
		{"default", "Something", "", true, "general"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.CategorizeTransaction(ctx, tc.title, tc.desc, tc.isExpense)
			require.NoError(t, err)
			assert.Equal(t, id(tc.want), got)
		})
	}
}

func lowest(a, b string) string {
	if id(a) < id(b) {
		return a
	}
	return b
}

func TestContainmentThreshold(t *testing.T) {
	ctx := context.Background()
	votes := &fakeVotes{votes: []model.MerchantVote{
		vote("abcd", "shopping", 1, time.Now()),
		vote("xyz", "travel", 1, time.Now()),
	}}
	c := &Categorizer{Categories: catalog(allSlugs...), Votes: votes}

	got, err := c.CategorizeTransaction(ctx, "abcde", "", true)
	require.NoError(t, err)
	assert.Equal(t, id("shopping"), got, "four character key contains")

	got, err = c.CategorizeTransaction(ctx, "abc", "", true)
	require.NoError(t, err)
	assert.Equal(t, id("general"), got, "three character title does not")

	got, err = c.CategorizeTransaction(ctx, "xyzw", "", true)
	require.NoError(t, err)
	assert.Equal(t, id("general"), got, "three character key does not")
}

func TestFileRulesComeFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - match: \"Tesco Mobile\"\n    category: shopping\n"), 0o600))
	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "tesco mobile", rules[0].Match)

	c := &Categorizer{Categories: catalog(allSlugs...), Votes: &fakeVotes{}, Rules: rules}
	got, err := c.CategorizeTransaction(context.Background(), "TESCO MOBILE", "", true)
	require.NoError(t, err)
	assert.Equal(t, id("shopping"), got)

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - match: \"\"\n"), 0o600))
	_, err = LoadRules(path)
	assert.Error(t, err)
}

func TestBatchCategorizeLoadsOnce(t *testing.T) {
	votes := &fakeVotes{}
	c := &Categorizer{Categories: catalog(allSlugs...), Votes: votes}
	in := []model.Transaction{
		{ID: "1", Title: "Uber trip", Amount: -900},
		{ID: "2", Title: "Salary ACME", Amount: 250000},
		{ID: "3", Title: "Tesco", Amount: -100, CategoryID: "kept"},
	}
	out, err := c.BatchCategorizeTransactions(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 1, votes.calls)
	assert.Equal(t, id("transport"), out[0].CategoryID)
	assert.Equal(t, id("salary"), out[1].CategoryID)
	assert.Equal(t, "kept", out[2].CategoryID)
	assert.Empty(t, in[0].CategoryID)
}

func TestBatchCategorizeIgnoresAccountName(t *testing.T) {
	c := &Categorizer{Categories: catalog(allSlugs...), Votes: &fakeVotes{}}
	in := []model.Transaction{
		{ID: "1", Title: "Transfer to savings", Subtitle: "Tesco fund", Amount: -5000},
		{ID: "2", Title: "Tesco Stores", Subtitle: "Coffee money", Amount: -1200},
	}
	out, err := c.BatchCategorizeTransactions(context.Background(), in)
	require.NoError(t, err)
	assert.NotEqual(t, id("groceries"), out[0].CategoryID)
	assert.Equal(t, id("groceries"), out[1].CategoryID)
}

func TestVoteCacheFallback(t *testing.T) {
	ctx := context.Background()
	cache := &fakeCache{}
	votes := &fakeVotes{votes: []model.MerchantVote{vote("localbakery", "groceries", 2, time.Now())}}
	c := &Categorizer{Categories: catalog(allSlugs...), Votes: votes, Cache: cache}

	_, err := c.CategorizeTransaction(ctx, "x", "", true)
	require.NoError(t, err)
	require.Len(t, cache.votes, 1)

	votes.err = remote.ErrNetwork
	got, err := c.CategorizeTransaction(ctx, "Local Bakery", "", true)
	require.NoError(t, err)
	assert.Equal(t, id("groceries"), got)
}

func TestLearnMerchantCategory(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cache := &fakeCache{}
	c := &Categorizer{Categories: catalog(allSlugs...), Votes: store, Cache: cache}

	require.NoError(t, c.LearnMerchantCategory(ctx, "Corner Shop", id("groceries"), "u1"))
	require.NoError(t, c.LearnMerchantCategory(ctx, "CORNER SHOP!", id("groceries"), "u2"))

	votes, err := store.ListVotes(ctx)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, int64(2), votes[0].Votes)
	assert.Equal(t, "cornershop", votes[0].MerchantKey)
	assert.Len(t, cache.votes, 2)

	assert.ErrorIs(t, c.LearnMerchantCategory(ctx, "!!", id("groceries"), "u1"), ErrEmptyMerchant)

	failing := &Categorizer{Categories: catalog(allSlugs...), Votes: &fakeVotes{err: remote.ErrRateLimited}}
	err = failing.LearnMerchantCategory(ctx, "Corner", id("groceries"), "u1")
	assert.True(t, errors.Is(err, remote.ErrRateLimited))
}

func TestConcurrentLearning(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c := &Categorizer{Categories: catalog(allSlugs...), Votes: store}

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.LearnMerchantCategory(ctx, "Busy Cafe", id("dining"), "u"))
		}()
	}
	wg.Wait()

	votes, err := store.ListVotes(ctx)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, int64(25), votes[0].Votes)
}
