// Package deletequeue removes a user's remote documents in resumable, paced batches.
package deletequeue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jask/budgetcore/internal/balance"
	"github.com/jask/budgetcore/internal/database"
	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/metrics"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
	"github.com/jask/budgetcore/internal/scheduler"
)

// ErrOtherUserPending is returned when a different user's delete is still queued.
var ErrOtherUserPending = errors.New("another user's delete operation is pending")

type Config struct {
	BatchSize        int
	ItemDelay        time.Duration
	BatchDelay       time.Duration
	RateLimitBackoff time.Duration
	PollInterval     time.Duration
	// TaskInterval is the period requested for the background task.
	TaskInterval time.Duration
	// LeaseTimeout is how long an in-progress operation may go without a
	// write before another process may take it over.
	LeaseTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:        25,
		ItemDelay:        500 * time.Millisecond,
		BatchDelay:       2 * time.Second,
		RateLimitBackoff: 10 * time.Second,
		PollInterval:     time.Second,
		TaskInterval:     15 * time.Minute,
		LeaseTimeout:     2 * time.Minute,
	}
}

// Result is the cumulative state of the operation when the run ended.
type Result struct {
	Deleted int
	Failed  int
	Total   int
}

type ProgressFunc func(Result)

// SyncQueue is the part of the sync queue the delete queue coordinates with.
type SyncQueue interface {
	Clear(ctx context.Context, userID string) (int, error)
	Active(ctx context.Context) (bool, error)
}

type Notifier interface {
	Post(ctx context.Context, n scheduler.Notification) error
}

// Queue drives the single persisted delete operation.
type Queue struct {
	Ops          *repository.DeleteOperationRepo
	Sync         SyncQueue
	Transactions remote.TransactionStore
	Balances     remote.BalanceStore
	Notifier     Notifier
	Scheduler    scheduler.Scheduler
	Config       Config

	running sync.Mutex
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

func New(db *sql.DB, sq SyncQueue, txs remote.TransactionStore, balances remote.BalanceStore, cfg Config) *Queue {
	return &Queue{
		Ops:          repository.NewDeleteOperationRepo(db),
		Sync:         sq,
		Transactions: txs,
		Balances:     balances,
		Config:       cfg,
		sleep:        sleepCtx,
		now:          database.Now,
	}
}

// QueueDeleteAll records a pending deletion of every transaction of userID.
func (q *Queue) QueueDeleteAll(ctx context.Context, userID string) (*model.DeleteOperation, error) {
	return q.enqueue(ctx, userID, model.DeleteTransactions)
}

// QueueAccountDeletion is QueueDeleteAll plus the user's balance documents.
func (q *Queue) QueueAccountDeletion(ctx context.Context, userID string) (*model.DeleteOperation, error) {
	return q.enqueue(ctx, userID, model.DeleteAccount)
}

func (q *Queue) enqueue(ctx context.Context, userID string, kind model.DeleteKind) (*model.DeleteOperation, error) {
	log := logger.FromContext(ctx)
	if userID == "" {
		return nil, errors.New("delete: user id required")
	}

	op, err := q.Ops.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delete operation: %w", err)
	}
	switch {
	case op.Blocking() && op.UserID != userID:
		return nil, ErrOtherUserPending
	case op.Blocking():
		// Reuse the running op; an account deletion widens a transactions-only one.
		if kind == model.DeleteAccount && op.Kind != model.DeleteAccount {
			op.Kind = model.DeleteAccount
			if err := q.Ops.Save(ctx, *op); err != nil {
				return nil, fmt.Errorf("save delete operation: %w", err)
			}
		}
	default:
		op = &model.DeleteOperation{UserID: userID, Kind: kind, Status: model.DeletePending}
		if err := q.Ops.Save(ctx, *op); err != nil {
			return nil, fmt.Errorf("save delete operation: %w", err)
		}
	}

	if q.Sync != nil {
		n, err := q.Sync.Clear(ctx, userID)
		if err != nil {
			return nil, err
		}
		log.Info().Str("user", userID).Str("kind", string(op.Kind)).Int("dropped", n).Msg("delete queued")
	}
	if q.Scheduler != nil {
		if err := q.Scheduler.RegisterPeriodicTask(ctx, scheduler.TaskDeleteTransactions, q.Config.TaskInterval); err != nil {
			log.Warn().Err(err).Msg("register delete task")
		}
	}
	return q.Ops.Get(ctx)
}

// Start works through the recorded operation. It returns a zero Result when a
// run is already active or nothing is queued.
func (q *Queue) Start(ctx context.Context, onProgress ProgressFunc) (Result, error) {
	if !q.running.TryLock() {
		return Result{}, nil
	}
	defer q.running.Unlock()

	log := logger.FromContext(ctx)
	op, err := q.Ops.Get(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load delete operation: %w", err)
	}
	if !op.Blocking() {
		return Result{}, nil
	}
	log = log.With().Str("user", op.UserID).Str("kind", string(op.Kind)).Logger()
	start := time.Now()
	defer func() {
		metrics.RunDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
	}()

	if err := q.waitForSync(ctx); err != nil {
		return Result{Deleted: op.TotalDeleted, Total: op.TotalToDelete}, err
	}

	claimed, err := q.Ops.Claim(ctx, q.staleBefore())
	if err != nil {
		return Result{}, fmt.Errorf("mark delete in progress: %w", err)
	}
	if !claimed {
		log.Debug().Msg("delete already running in another process")
		return Result{}, nil
	}
	defer q.keepAlive(ctx)()

	remaining, err := q.Transactions.CountTransactions(ctx, op.UserID)
	if err != nil {
		return q.fail(ctx, Result{Deleted: op.TotalDeleted, Total: op.TotalToDelete}, fmt.Errorf("count transactions: %w", err))
	}
	res := Result{Deleted: op.TotalDeleted, Total: op.TotalDeleted + remaining}
	if err := q.Ops.UpdateProgress(ctx, res.Deleted, res.Total); err != nil {
		return res, fmt.Errorf("save delete progress: %w", err)
	}
	log.Info().Int("remaining", remaining).Int("already_deleted", op.TotalDeleted).Msg("delete started")

	cursor := ""
	first := true
	for {
		page, err := q.Transactions.ListTransactions(ctx, remote.TransactionQuery{UserID: op.UserID, Limit: int32(q.batchSize()), Cursor: cursor})
		if err != nil {
			if ctx.Err() != nil {
				return q.pause(ctx, res)
			}
			return q.fail(ctx, res, fmt.Errorf("list transactions: %w", err))
		}

		for _, tx := range page.Items {
			if !first {
				if err := q.sleep(ctx, q.Config.ItemDelay); err != nil {
					return q.pause(ctx, res)
				}
			}
			first = false

			err := q.deleteOne(ctx, op.UserID, tx.ID)
			switch {
			case err == nil:
				res.Deleted++
				metrics.ObserveDelete(metrics.OutcomeDeleted, 1)
			case ctx.Err() != nil:
				return q.pause(ctx, res)
			case errors.Is(err, remote.ErrUnconfigured):
				return q.fail(ctx, res, err)
			default:
				res.Failed++
				metrics.ObserveDelete(metrics.OutcomeFailed, 1)
				log.Warn().Err(err).Str("item", tx.ID).Msg("delete failed")
			}
			if err := q.Ops.UpdateProgress(ctx, res.Deleted, res.Total); err != nil {
				return res, fmt.Errorf("save delete progress: %w", err)
			}
			if onProgress != nil {
				onProgress(res)
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		if err := q.sleep(ctx, q.Config.BatchDelay); err != nil {
			return q.pause(ctx, res)
		}
	}

	if op.Kind == model.DeleteAccount && q.Balances != nil {
		if err := q.deleteBalances(ctx, op.UserID); err != nil {
			if ctx.Err() != nil {
				return q.pause(ctx, res)
			}
			return q.fail(ctx, res, err)
		}
	}

	if err := q.Ops.Clear(ctx); err != nil {
		return res, fmt.Errorf("clear delete operation: %w", err)
	}
	if q.Sync != nil {
		if _, err := q.Sync.Clear(ctx, op.UserID); err != nil {
			log.Warn().Err(err).Msg("clear residual sync items")
		}
	}
	q.notify(ctx, "Delete finished", fmt.Sprintf("Deleted %d of %d transactions.", res.Deleted, res.Total), op.UserID)
	log.Info().Int("deleted", res.Deleted).Int("failed", res.Failed).Int("total", res.Total).Msg("delete finished")
	return res, nil
}

// deleteOne treats a missing document as deleted and retries a throttled
// delete once after the backoff.
func (q *Queue) deleteOne(ctx context.Context, userID, id string) error {
	err := remote.Classify(q.Transactions.DeleteTransaction(ctx, userID, id))
	if errors.Is(err, remote.ErrRateLimited) {
		if err := q.sleep(ctx, q.Config.RateLimitBackoff); err != nil {
			return err
		}
		err = remote.Classify(q.Transactions.DeleteTransaction(ctx, userID, id))
	}
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	return err
}

func (q *Queue) deleteBalances(ctx context.Context, userID string) error {
	svc := balance.Service{Store: q.Balances}
	n, err := svc.DeleteAll(ctx, userID)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	log.Debug().Int("balances", n).Str("user", userID).Msg("deleted balances")
	return nil
}

// waitForSync blocks until no sync run holds the shared flag.
func (q *Queue) waitForSync(ctx context.Context) error {
	if q.Sync == nil {
		return nil
	}
	for {
		active, err := q.Sync.Active(ctx)
		if err != nil {
			return fmt.Errorf("check sync state: %w", err)
		}
		if !active {
			return nil
		}
		if err := q.sleep(ctx, q.pollInterval()); err != nil {
			return err
		}
	}
}

// pause returns an interrupted run to pending so the next Start resumes it.
func (q *Queue) pause(ctx context.Context, res Result) (Result, error) {
	if err := q.Ops.SetStatus(context.Background(), model.DeletePending, nil); err != nil {
		return res, errors.Join(ctx.Err(), err)
	}
	return res, ctx.Err()
}

func (q *Queue) fail(ctx context.Context, res Result, cause error) (Result, error) {
	msg := cause.Error()
	if err := q.Ops.SetStatus(context.Background(), model.DeleteFailed, &msg); err != nil {
		return res, errors.Join(cause, err)
	}
	log := logger.FromContext(ctx)
	log.Error().Err(cause).Msg("delete failed")
	op, _ := q.Ops.Get(context.Background())
	userID := ""
	if op != nil {
		userID = op.UserID
	}
	q.notify(ctx, "Delete failed", "Your transactions could not be deleted. We'll try again later.", userID)
	return res, cause
}

func (q *Queue) notify(ctx context.Context, title, body, userID string) {
	if q.Notifier == nil {
		return
	}
	if err := q.Notifier.Post(ctx, scheduler.Notification{
		Title: title,
		Body:  body,
		Data:  map[string]string{"kind": "delete", "user_id": userID},
	}); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("post delete notification")
	}
}

// Status returns the recorded operation, or nil.
func (q *Queue) Status(ctx context.Context) (*model.DeleteOperation, error) {
	return q.Ops.Get(ctx)
}

// Recover returns an operation whose runner stopped writing progress to
// pending. A live run in another process is left alone.
func (q *Queue) Recover(ctx context.Context) (bool, error) {
	return q.Ops.ResetInProgress(ctx, q.staleBefore())
}

// Retry re-queues a failed operation.
func (q *Queue) Retry(ctx context.Context) (bool, error) {
	op, err := q.Ops.Get(ctx)
	if err != nil || op == nil || op.Status != model.DeleteFailed {
		return false, err
	}
	if err := q.Ops.SetStatus(ctx, model.DeletePending, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Active reports whether userID has a pending or running delete.
func (q *Queue) Active(ctx context.Context, userID string) (bool, error) {
	op, err := q.Ops.Get(ctx)
	if err != nil {
		return false, err
	}
	return op.Blocking() && op.UserID == userID, nil
}

// keepAlive refreshes the operation's updated_at until the returned stop
// function is called.
func (q *Queue) keepAlive(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(q.leaseTimeout() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.Ops.Touch(ctx); err != nil && ctx.Err() == nil {
					log := logger.FromContext(ctx)
					log.Warn().Err(err).Msg("delete heartbeat")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (q *Queue) staleBefore() time.Time {
	return q.now().Add(-q.leaseTimeout())
}

func (q *Queue) leaseTimeout() time.Duration {
	if q.Config.LeaseTimeout <= 0 {
		return DefaultConfig().LeaseTimeout
	}
	return q.Config.LeaseTimeout
}

func (q *Queue) batchSize() int {
	if q.Config.BatchSize <= 0 {
		return DefaultConfig().BatchSize
	}
	return q.Config.BatchSize
}

func (q *Queue) pollInterval() time.Duration {
	if q.Config.PollInterval <= 0 {
		return DefaultConfig().PollInterval
	}
	return q.Config.PollInterval
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
