package deletequeue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/budgetcore/internal/database"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
	"github.com/jask/budgetcore/internal/remote/memory"
	"github.com/jask/budgetcore/internal/scheduler"
)

type scriptedRemote struct {
	*memory.Store
	mu       sync.Mutex
	failures map[string][]error
	listErr  error
}

func (r *scriptedRemote) fail(id string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = append(r.failures[id], errs...)
}

func (r *scriptedRemote) DeleteTransaction(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	if errs := r.failures[id]; len(errs) > 0 {
		r.failures[id] = errs[1:]
		r.mu.Unlock()
		return errs[0]
	}
	r.mu.Unlock()
	return r.Store.DeleteTransaction(ctx, userID, id)
}

func (r *scriptedRemote) ListTransactions(ctx context.Context, q remote.TransactionQuery) (remote.TransactionPage, error) {
	if r.listErr != nil {
		return remote.TransactionPage{}, r.listErr
	}
	return r.Store.ListTransactions(ctx, q)
}

type fakeSync struct {
	cleared []string
	active  []bool
}

func (s *fakeSync) Clear(_ context.Context, userID string) (int, error) {
	s.cleared = append(s.cleared, userID)
	return 0, nil
}

func (s *fakeSync) Active(context.Context) (bool, error) {
	if len(s.active) == 0 {
		return false, nil
	}
	a := s.active[0]
	s.active = s.active[1:]
	return a, nil
}

type recordingNotifier struct{ posted []scheduler.Notification }

func (n *recordingNotifier) Post(_ context.Context, note scheduler.Notification) error {
	n.posted = append(n.posted, note)
	return nil
}

type fixture struct {
	dbPath   string
	queue    *Queue
	remote   *scriptedRemote
	sync     *fakeSync
	notifier *recordingNotifier
	sched    *scheduler.LocalScheduler
	sleeps   []time.Duration
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, database.RunMigrations(dbPath, ""))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		dbPath:   dbPath,
		remote:   &scriptedRemote{Store: memory.New(), failures: map[string][]error{}},
		sync:     &fakeSync{},
		notifier: &recordingNotifier{},
		sched:    scheduler.NewLocalScheduler(true),
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	f.queue = New(db, f.sync, f.remote, f.remote, cfg)
	f.queue.Notifier = f.notifier
	f.queue.Scheduler = f.sched
	f.queue.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	return f
}

func (f *fixture) seed(t *testing.T, user string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.remote.Store.CreateTransaction(context.Background(), model.Transaction{
			ID: fmt.Sprintf("%s-tx-%d", user, i), UserID: user, Title: "Tesco", Amount: -100,
			Date: fmt.Sprintf("2026-03-0%dT09:00:00Z", i+1), Currency: "EUR",
		}))
	}
}

func (f *fixture) remaining(t *testing.T, user string) int {
	t.Helper()
	n, err := f.remote.CountTransactions(context.Background(), user)
	require.NoError(t, err)
	return n
}

func TestQueueDeleteAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	op, err := f.queue.QueueDeleteAll(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, model.DeletePending, op.Status)
	assert.Equal(t, model.DeleteTransactions, op.Kind)
	assert.Equal(t, []string{"u1"}, f.sync.cleared)
	assert.Equal(t, 15*time.Minute, f.sched.Tasks()[scheduler.TaskDeleteTransactions])

	t.Run("reuses the pending op", func(t *testing.T) {
		again, err := f.queue.QueueDeleteAll(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, op.CreatedAt, again.CreatedAt)
	})

	t.Run("account deletion widens the op", func(t *testing.T) {
		again, err := f.queue.QueueAccountDeletion(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, model.DeleteAccount, again.Kind)
	})

	t.Run("other user is rejected", func(t *testing.T) {
		_, err := f.queue.QueueDeleteAll(ctx, "u2")
		assert.ErrorIs(t, err, ErrOtherUserPending)
	})

	active, err := f.queue.Active(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestStartDeletesEverything(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "u1", 5)
	f.seed(t, "u2", 2)
	_, err := f.queue.QueueDeleteAll(ctx, "u1")
	require.NoError(t, err)

	var progress []Result
	res, err := f.queue.Start(ctx, func(r Result) { progress = append(progress, r) })
	require.NoError(t, err)
	assert.Equal(t, Result{Deleted: 5, Total: 5}, res)
	require.Len(t, progress, 5)
	assert.Equal(t, Result{Deleted: 1, Total: 5}, progress[0])

	assert.Equal(t, 0, f.remaining(t, "u1"))
	assert.Equal(t, 2, f.remaining(t, "u2"))

	// 4 item gaps and 2 page gaps.
	var items, pages int
	for _, d := range f.sleeps {
		switch d {
		case 500 * time.Millisecond:
			items++
		case 2 * time.Second:
			pages++
		}
	}
	assert.Equal(t, 4, items)
	assert.Equal(t, 2, pages)

	op, err := f.queue.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, op)
	assert.Equal(t, []string{"u1", "u1"}, f.sync.cleared)
	require.Len(t, f.notifier.posted, 1)
	assert.Equal(t, "Deleted 5 of 5 transactions.", f.notifier.posted[0].Body)

	res, err = f.queue.Start(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestStartItemErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not found counts as deleted", func(t *testing.T) {
		f := setup(t)
		f.seed(t, "u1", 2)
		f.remote.fail("u1-tx-0", fmt.Errorf("%w: gone", remote.ErrNotFound))
		_, err := f.queue.QueueDeleteAll(ctx, "u1")
		require.NoError(t, err)

		res, err := f.queue.Start(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, Result{Deleted: 2, Total: 2}, res)
	})

	t.Run("rate limit retries once", func(t *testing.T) {
		f := setup(t)
		f.seed(t, "u1", 2)
		f.remote.fail("u1-tx-0", remote.ErrRateLimited)
		f.remote.fail("u1-tx-1", remote.ErrRateLimited, remote.ErrRateLimited)
		_, err := f.queue.QueueDeleteAll(ctx, "u1")
		require.NoError(t, err)

		res, err := f.queue.Start(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, Result{Deleted: 1, Failed: 1, Total: 2}, res)
		assert.Contains(t, f.sleeps, 10*time.Second)
		assert.Equal(t, 1, f.remaining(t, "u1"))
	})

	t.Run("list failure marks the op failed", func(t *testing.T) {
		f := setup(t)
		f.seed(t, "u1", 1)
		f.remote.listErr = errors.New("boom")
		_, err := f.queue.QueueDeleteAll(ctx, "u1")
		require.NoError(t, err)

		_, err = f.queue.Start(ctx, nil)
		require.Error(t, err)

		op, err := f.queue.Status(ctx)
		require.NoError(t, err)
		require.NotNil(t, op)
		assert.Equal(t, model.DeleteFailed, op.Status)
		require.NotNil(t, op.LastError)
		assert.Contains(t, *op.LastError, "boom")
		assert.Equal(t, "Delete failed", f.notifier.posted[0].Title)

		retried, err := f.queue.Retry(ctx)
		require.NoError(t, err)
		assert.True(t, retried)

		f.remote.listErr = nil
		res, err := f.queue.Start(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, Result{Deleted: 1, Total: 1}, res)
	})
}

func TestStartWaitsForSync(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "u1", 1)
	_, err := f.queue.QueueDeleteAll(ctx, "u1")
	require.NoError(t, err)
	f.sync.active = []bool{true, true, false}

	res, err := f.queue.Start(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.sleeps[:2])
}

func TestStartResumesAfterCancel(t *testing.T) {
	f := setup(t)
	f.seed(t, "u1", 5)
	_, err := f.queue.QueueDeleteAll(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.queue.Start(ctx, func(r Result) {
		if r.Deleted == 2 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Result{Deleted: 2, Total: 5}, res)

	op, err := f.queue.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, model.DeletePending, op.Status)
	assert.Equal(t, 2, op.TotalDeleted)
	assert.Equal(t, 5, op.TotalToDelete)

	res, err = f.queue.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Deleted: 5, Total: 5}, res)
}

func TestAccountDeletionRemovesBalances(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "u1", 1)
	require.NoError(t, f.remote.PutBalance(ctx, model.AccountBalanceDoc{ID: "bal-1", UserID: "u1", AccountKey: "revolut:current:eur", Balance: 100}))
	require.NoError(t, f.remote.PutBalance(ctx, model.AccountBalanceDoc{ID: "bal-2", UserID: "u2", AccountKey: "revolut:current:eur", Balance: 100}))

	_, err := f.queue.QueueAccountDeletion(ctx, "u1")
	require.NoError(t, err)
	_, err = f.queue.Start(ctx, nil)
	require.NoError(t, err)

	docs, err := f.remote.ListBalances(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, docs)
	docs, err = f.remote.ListBalances(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRecoverAndConcurrentStart(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "u1", 2)
	_, err := f.queue.QueueDeleteAll(ctx, "u1")
	require.NoError(t, err)
	claimed, err := f.queue.Ops.Claim(ctx, f.queue.staleBefore())
	require.NoError(t, err)
	require.True(t, claimed)

	t.Run("LiveRunIsLeftAlone", func(t *testing.T) {
		reset, err := f.queue.Recover(ctx)
		require.NoError(t, err)
		assert.False(t, reset)

		db2, err := database.Open(f.dbPath)
		require.NoError(t, err)
		t.Cleanup(func() { db2.Close() })
		other := New(db2, &fakeSync{}, f.remote, f.remote, DefaultConfig())

		reset, err = other.Recover(ctx)
		require.NoError(t, err)
		assert.False(t, reset)

		res, err := other.Start(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)

		op, err := f.queue.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.DeleteInProgress, op.Status)
		count, err := f.remote.CountTransactions(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("StaleRunIsReset", func(t *testing.T) {
		f.queue.now = func() time.Time { return time.Now().UTC().Add(3 * time.Minute) }
		reset, err := f.queue.Recover(ctx)
		require.NoError(t, err)
		assert.True(t, reset)

		op, err := f.queue.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.DeletePending, op.Status)
	})

	t.Run("RunInThisProcess", func(t *testing.T) {
		f.queue.running.Lock()
		res, err := f.queue.Start(ctx, nil)
		f.queue.running.Unlock()
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)

		op, err := f.queue.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.DeletePending, op.Status)
	})
}
