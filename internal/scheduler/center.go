package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/logger"
)

// NotificationStore persists notification-center entries.
type NotificationStore interface {
	Insert(ctx context.Context, n repository.Notification) error
	List(ctx context.Context, unreadOnly bool) ([]repository.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// Center records notifications in the local store and hands them to the
// platform scheduler for delivery.
type Center struct {
	Store     NotificationStore
	Scheduler Scheduler
}

func NewCenter(store NotificationStore, sched Scheduler) *Center {
	return &Center{Store: store, Scheduler: sched}
}

// Post stores n and schedules it. Storage failures are returned; delivery
// failures are only logged since the entry is already in the center.
func (c *Center) Post(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := c.Store.Insert(ctx, repository.Notification{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("store notification %s: %w", n.ID, err)
	}
	if c.Scheduler == nil {
		return nil
	}
	if err := c.Scheduler.ScheduleLocalNotification(ctx, n); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("notification", n.ID).Msg("schedule notification failed")
	}
	return nil
}

func (c *Center) List(ctx context.Context, unreadOnly bool) ([]repository.Notification, error) {
	return c.Store.List(ctx, unreadOnly)
}

func (c *Center) MarkRead(ctx context.Context, id string) error {
	return c.Store.MarkRead(ctx, id)
}
