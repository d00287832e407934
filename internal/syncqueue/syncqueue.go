// Package syncqueue uploads locally queued transactions to the remote store.
package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jask/budgetcore/internal/database"
	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/metrics"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
	"github.com/jask/budgetcore/internal/scheduler"
)

// StateName is the persisted run flag shared with the delete queue.
const StateName = "sync"

// Config tunes pacing and retries.
type Config struct {
	BatchSize        int
	BatchDelay       time.Duration
	MaxAttempts      int
	RateLimitBackoff time.Duration
	PurgeAfter       time.Duration
	// LeaseTimeout is how long the run flag survives without a heartbeat
	// before another process may take it over.
	LeaseTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:        2,
		BatchDelay:       2 * time.Second,
		MaxAttempts:      5,
		RateLimitBackoff: 10 * time.Second,
		PurgeAfter:       10 * time.Second,
		LeaseTimeout:     2 * time.Minute,
	}
}

// Result summarises one run. Requeued items went back to pending without
// counting as failures.
type Result struct {
	Succeeded int
	Failed    int
	Requeued  int
}

// Progress is reported after each committed batch.
type Progress struct {
	UserID    string
	Processed int
	Total     int
	Result
}

type ProgressFunc func(Progress)

// Notifier posts notification-center entries.
type Notifier interface {
	Post(ctx context.Context, n scheduler.Notification) error
}

// DeleteGuard exposes the recorded delete operation.
type DeleteGuard interface {
	Get(ctx context.Context) (*model.DeleteOperation, error)
}

// Stats counts queue items per status.
type Stats struct {
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s Stats) Total() int { return s.Pending + s.Syncing + s.Completed + s.Failed }

// Queue is the persistent sync queue.
type Queue struct {
	Items     *repository.QueueRepo
	State     *repository.QueueStateRepo
	Deletes   DeleteGuard
	Remote    remote.TransactionWriter
	Notifier  Notifier
	Scheduler scheduler.Scheduler
	Config    Config

	owner string
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New wires a queue over the local database.
func New(db *sql.DB, rem remote.TransactionWriter, cfg Config) *Queue {
	return &Queue{
		Items:   repository.NewQueueRepo(db),
		State:   repository.NewQueueStateRepo(db),
		Deletes: repository.NewDeleteOperationRepo(db),
		Remote:  rem,
		Config:  cfg,
		owner:   uuid.NewString(),
		sleep:   sleepCtx,
		now:     database.Now,
	}
}

// Enqueue adds transactions as pending. Already queued IDs are ignored.
func (q *Queue) Enqueue(ctx context.Context, txs ...model.Transaction) (int, error) {
	n, err := q.Items.Insert(ctx, txs...)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	q.publishDepth(ctx)
	return n, nil
}

// Recover puts items stranded in syncing by a dead run back to pending. It
// does nothing while a run in any process still heartbeats the flag.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)
	ok, err := q.State.TryAcquire(ctx, StateName, q.owner, q.staleBefore())
	if err != nil {
		return 0, fmt.Errorf("acquire sync flag: %w", err)
	}
	if !ok {
		log.Debug().Msg("sync run alive, skipping recovery")
		return 0, nil
	}
	defer func() {
		if err := q.State.Release(context.Background(), StateName, q.owner); err != nil {
			log.Error().Err(err).Msg("release sync flag")
		}
	}()
	n, err := q.Items.RevertSyncing(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("revert syncing items: %w", err)
	}
	if n > 0 {
		log.Info().Int("reverted", n).Msg("recovered sync queue")
	}
	return n, nil
}

// Active reports whether a live sync run holds the flag.
func (q *Queue) Active(ctx context.Context) (bool, error) {
	return q.State.IsActive(ctx, StateName, q.staleBefore())
}

// Start runs the queue once. It returns a zero Result when another run is active.
func (q *Queue) Start(ctx context.Context, onProgress ProgressFunc) (Result, error) {
	log := logger.FromContext(ctx)

	ok, err := q.State.TryAcquire(ctx, StateName, q.owner, q.staleBefore())
	if err != nil {
		return Result{}, fmt.Errorf("acquire sync flag: %w", err)
	}
	if !ok {
		log.Debug().Msg("sync already running")
		return Result{}, nil
	}
	start := time.Now()
	stopHeartbeat := q.keepAlive(ctx)
	defer func() {
		stopHeartbeat()
		if err := q.State.Release(context.Background(), StateName, q.owner); err != nil {
			log.Error().Err(err).Msg("release sync flag")
		}
		metrics.RunDuration.WithLabelValues("sync").Observe(time.Since(start).Seconds())
		q.publishDepth(context.Background())
	}()

	if q.Config.PurgeAfter > 0 {
		if n, err := q.Items.PurgeCompleted(ctx, q.now().Add(-q.Config.PurgeAfter)); err != nil {
			log.Warn().Err(err).Msg("purge completed items")
		} else if n > 0 {
			log.Debug().Int("purged", n).Msg("purged completed items")
		}
	}

	// Holding the flag means anything still syncing belongs to a dead run.
	if n, err := q.Items.RevertSyncing(ctx, nil); err != nil {
		return Result{}, fmt.Errorf("revert stranded items: %w", err)
	} else if n > 0 {
		log.Info().Int("reverted", n).Msg("took over stranded sync items")
	}

	items, err := q.Items.ListRunnable(ctx, q.maxAttempts())
	if err != nil {
		return Result{}, fmt.Errorf("list runnable items: %w", err)
	}

	users, byUser := groupByUser(items)
	var runnable []string
	total := 0
	for _, userID := range users {
		blocked, err := q.deleteActive(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		if blocked {
			log.Info().Str("user", userID).Int("items", len(byUser[userID])).Msg("delete pending for user, skipping sync")
			continue
		}
		runnable = append(runnable, userID)
		total += len(byUser[userID])
	}

	var (
		res      Result
		terminal []repository.QueueItem
		backoff  time.Duration
		batches  int
	)
	for _, userID := range runnable {
		userItems := byUser[userID]
		for offset := 0; offset < len(userItems); offset += q.batchSize() {
			batch := userItems[offset:min(offset+q.batchSize(), len(userItems))]

			if batches > 0 {
				wait := q.Config.BatchDelay
				if backoff > wait {
					wait = backoff
				}
				if err := q.sleep(ctx, wait); err != nil {
					return res, q.abort(err)
				}
			}
			batches++
			backoff = 0

			if stop, err := q.cancelled(ctx, userID); err != nil || stop {
				if err != nil {
					return res, q.abort(err)
				}
				log.Info().Str("user", userID).Msg("delete started, stopping sync for user")
				break
			}

			ids := itemIDs(batch)
			if err := q.Items.MarkSyncing(ctx, ids); err != nil {
				return res, fmt.Errorf("mark batch syncing: %w", err)
			}

			errs := q.upload(ctx, batch)

			if stop, err := q.cancelled(ctx, userID); err != nil || stop {
				if _, revertErr := q.Items.RevertSyncing(context.Background(), ids); revertErr != nil {
					log.Error().Err(revertErr).Msg("revert cancelled batch")
				}
				if err != nil {
					return res, q.abort(err)
				}
				log.Info().Str("user", userID).Msg("delete started, stopping sync for user")
				break
			}

			outcomes := make([]repository.Outcome, 0, len(batch))
			var batchRes Result
			for i, item := range batch {
				o, hard := q.outcome(item, errs[i])
				if hard != nil {
					if _, revertErr := q.Items.RevertSyncing(context.Background(), ids); revertErr != nil {
						log.Error().Err(revertErr).Msg("revert batch after hard failure")
					}
					return res, hard
				}
				switch {
				case o.Status == repository.StatusCompleted:
					batchRes.Succeeded++
				case o.Status == repository.StatusFailed:
					batchRes.Failed++
					if item.Attempts+1 >= q.maxAttempts() {
						terminal = append(terminal, item)
					}
				default:
					batchRes.Requeued++
					if remote.IsRateLimited(errs[i]) {
						backoff = q.Config.RateLimitBackoff
					}
				}
				if errs[i] != nil && o.Status != repository.StatusCompleted {
					log.Warn().Err(errs[i]).Str("item", item.ID).Str("user", userID).
						Int("attempts", item.Attempts).Str("status", o.Status).Msg("upload failed")
				}
				outcomes = append(outcomes, o)
			}
			if err := q.Items.ApplyOutcomes(ctx, outcomes); err != nil {
				return res, fmt.Errorf("commit batch: %w", err)
			}

			res.Succeeded += batchRes.Succeeded
			res.Failed += batchRes.Failed
			res.Requeued += batchRes.Requeued
			metrics.ObserveSync(metrics.OutcomeSucceeded, batchRes.Succeeded)
			metrics.ObserveSync(metrics.OutcomeFailed, batchRes.Failed)
			metrics.ObserveSync(metrics.OutcomeRequeued, batchRes.Requeued)

			if onProgress != nil {
				onProgress(Progress{
					UserID:    userID,
					Processed: res.Succeeded + res.Failed + res.Requeued,
					Total:     total,
					Result:    res,
				})
			}
		}
	}

	if len(terminal) > 0 {
		q.notifyTerminal(ctx, terminal)
	}
	log.Info().Int("succeeded", res.Succeeded).Int("failed", res.Failed).Int("requeued", res.Requeued).Msg("sync finished")
	return res, nil
}

// upload sends the batch concurrently and returns one error slot per item.
func (q *Queue) upload(ctx context.Context, batch []repository.QueueItem) []error {
	errs := make([]error, len(batch))
	var g errgroup.Group
	g.SetLimit(q.batchSize())
	for i := range batch {
		g.Go(func() error {
			errs[i] = remote.Classify(q.Remote.CreateTransaction(ctx, batch[i].Transaction))
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// outcome maps an upload error to the item's next state. A non-nil second
// return aborts the run.
func (q *Queue) outcome(item repository.QueueItem, err error) (repository.Outcome, error) {
	o := repository.Outcome{ID: item.ID}
	switch {
	case err == nil, errors.Is(err, remote.ErrDuplicateID):
		o.Status = repository.StatusCompleted
	case errors.Is(err, remote.ErrUnconfigured):
		return o, fmt.Errorf("sync %s: %w", item.ID, err)
	case errors.Is(err, remote.ErrNetwork):
		o.Status = repository.StatusPending
		o.Error = err.Error()
	case errors.Is(err, remote.ErrRateLimited):
		o.Status = repository.StatusPending
		if item.Attempts+1 >= q.maxAttempts() {
			o.Status = repository.StatusFailed
		}
		o.IncrementAttempt = true
		o.Error = err.Error()
	default:
		o.Status = repository.StatusFailed
		o.IncrementAttempt = true
		o.Error = err.Error()
	}
	return o, nil
}

// cancelled reports a delete becoming active for userID. Context cancellation
// comes back as an error.
func (q *Queue) cancelled(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return q.deleteActive(ctx, userID)
}

func (q *Queue) deleteActive(ctx context.Context, userID string) (bool, error) {
	if q.Deletes == nil {
		return false, nil
	}
	op, err := q.Deletes.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("load delete operation: %w", err)
	}
	return op.Blocking() && op.UserID == userID, nil
}

// abort reverts everything still syncing and passes err through.
func (q *Queue) abort(err error) error {
	if _, revertErr := q.Items.RevertSyncing(context.Background(), nil); revertErr != nil {
		return errors.Join(err, fmt.Errorf("revert syncing items: %w", revertErr))
	}
	return err
}

func (q *Queue) notifyTerminal(ctx context.Context, items []repository.QueueItem) {
	if q.Notifier == nil {
		return
	}
	body := fmt.Sprintf("%d transactions could not be uploaded after %d attempts.", len(items), q.maxAttempts())
	if len(items) == 1 {
		body = fmt.Sprintf("%q could not be uploaded after %d attempts.", items[0].Transaction.Title, q.maxAttempts())
	}
	if err := q.Notifier.Post(ctx, scheduler.Notification{
		Title: "Sync failed",
		Body:  body,
		Data:  map[string]string{"kind": "sync_failed", "user_id": items[0].UserID},
	}); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("post sync failure notification")
	}
}

// NotifyBackgrounded tells the user an active run keeps going after the app
// leaves the foreground.
func (q *Queue) NotifyBackgrounded(ctx context.Context) error {
	active, err := q.Active(ctx)
	if err != nil || !active || q.Scheduler == nil {
		return err
	}
	body := "Your transactions will keep uploading in the background."
	if !q.Scheduler.IsBackgroundExecutionAvailable() {
		body = "Open the app again to finish uploading your transactions."
	}
	return q.Scheduler.ScheduleLocalNotification(ctx, scheduler.Notification{
		ID:    "sync-backgrounded",
		Title: "Sync in progress",
		Body:  body,
		Data:  map[string]string{"kind": "sync_backgrounded"},
	})
}

// Clear drops every queued item of a user.
func (q *Queue) Clear(ctx context.Context, userID string) (int, error) {
	n, err := q.Items.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear queue for %s: %w", userID, err)
	}
	q.publishDepth(ctx)
	return n, nil
}

// RemoveBatch drops the queued items of one import.
func (q *Queue) RemoveBatch(ctx context.Context, batchID string) (int, error) {
	n, err := q.Items.DeleteByBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("remove batch %s: %w", batchID, err)
	}
	q.publishDepth(ctx)
	return n, nil
}

// PurgeCompleted drops completed items older than olderThan.
func (q *Queue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	return q.Items.PurgeCompleted(ctx, q.now().Add(-olderThan))
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.Items.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:   counts[repository.StatusPending],
		Syncing:   counts[repository.StatusSyncing],
		Completed: counts[repository.StatusCompleted],
		Failed:    counts[repository.StatusFailed],
	}, nil
}

func (q *Queue) publishDepth(ctx context.Context) {
	counts, err := q.Items.CountByStatus(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueDepth(counts)
}

// keepAlive heartbeats the run flag until the returned stop function is called.
func (q *Queue) keepAlive(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(q.leaseTimeout() / 3)
		defer ticker.Stop()
		log := logger.FromContext(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := q.State.Heartbeat(ctx, StateName, q.owner)
				if err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("sync heartbeat")
				} else if err == nil && !held {
					log.Warn().Msg("sync flag taken over by another run")
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
		return 1
	}
	return q.Config.BatchSize
}

func (q *Queue) maxAttempts() int {
	if q.Config.MaxAttempts <= 0 {
		return DefaultConfig().MaxAttempts
	}
	return q.Config.MaxAttempts
}

func groupByUser(items []repository.QueueItem) ([]string, map[string][]repository.QueueItem) {
	var order []string
	by := map[string][]repository.QueueItem{}
	for _, it := range items {
		if _, ok := by[it.UserID]; !ok {
			order = append(order, it.UserID)
		}
		by[it.UserID] = append(by[it.UserID], it)
	}
	return order, by
}

func itemIDs(items []repository.QueueItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
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
