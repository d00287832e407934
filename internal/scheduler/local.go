package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jask/budgetcore/internal/logger"
)

// TaskFunc is the work behind a periodic task.
type TaskFunc func(ctx context.Context) error

type localTask struct {
	interval time.Duration
	next     time.Time
}

// LocalScheduler keeps tasks and notifications in process. Run drives the
// registered tasks one at a time so they never overlap.
type LocalScheduler struct {
	// Tick is how often Run checks for due tasks.
	Tick       time.Duration
	Background bool
	// OnNotify, when set, receives each notification as it is scheduled.
	OnNotify func(Notification)

	mu            sync.Mutex
	tasks         map[string]*localTask
	handlers      map[string]TaskFunc
	notifications []Notification
	now           func() time.Time
}

// NewLocalScheduler returns a scheduler that ticks every second.
func NewLocalScheduler(background bool) *LocalScheduler {
	return &LocalScheduler{
		Tick:       time.Second,
		Background: background,
		tasks:      map[string]*localTask{},
		handlers:   map[string]TaskFunc{},
		now:        time.Now,
	}
}

var _ Scheduler = (*LocalScheduler)(nil)

func (s *LocalScheduler) ScheduleLocalNotification(ctx context.Context, n Notification) error {
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	notify := s.OnNotify
	s.mu.Unlock()

	log := logger.FromContext(ctx)
	log.Info().Str("notification", n.ID).Str("title", n.Title).Dur("delay", n.Delay).Msg(n.Body)
	if notify != nil {
		notify(n)
	}
	return nil
}

func (s *LocalScheduler) IsBackgroundExecutionAvailable() bool { return s.Background }

// RegisterPeriodicTask schedules taskID to run on the next tick and then every
// minInterval. Registering again only updates the interval.
func (s *LocalScheduler) RegisterPeriodicTask(_ context.Context, taskID string, minInterval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.interval = minInterval
		return nil
	}
	s.tasks[taskID] = &localTask{interval: minInterval, next: s.now()}
	return nil
}

// Handle binds fn to taskID.
func (s *LocalScheduler) Handle(taskID string, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskID] = fn
}

// Notifications returns what has been scheduled so far.
func (s *LocalScheduler) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

// Tasks returns the registered tasks and their intervals.
func (s *LocalScheduler) Tasks() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = t.interval
	}
	return out
}

// Run executes due tasks until ctx is done. Task errors are logged, not returned.
func (s *LocalScheduler) Run(ctx context.Context) error {
	tick := s.Tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		s.RunDue(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunDue runs every task whose time has come, in task ID order.
func (s *LocalScheduler) RunDue(ctx context.Context) {
	log := logger.FromContext(ctx)
	for _, id := range s.due() {
		s.mu.Lock()
		fn := s.handlers[id]
		s.mu.Unlock()
		if fn == nil {
			continue
		}
		start := time.Now()
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Str("task", id).Msg("periodic task failed")
			continue
		}
		log.Debug().Str("task", id).Dur("took", time.Since(start)).Msg("periodic task done")
	}
}

func (s *LocalScheduler) due() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var ids []string
	for id, t := range s.tasks {
		if !now.Before(t.next) {
			ids = append(ids, id)
			t.next = now.Add(t.interval)
		}
	}
	sort.Strings(ids)
	return ids
}
