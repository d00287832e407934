package repository

import (
	"time"

	"github.com/jask/budgetcore/internal/model"
)

// Queue item sync states.
const (
	StatusPending   = "pending"
	StatusSyncing   = "syncing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Import record states.
const (
	ImportImported = "imported"
	ImportUndone   = "undone"
)

// Category represents a category row.
type Category struct {
	ID        string
	Slug      string
	ParentID  *string
	Name      string
	Kind      string
	Icon      *string
	SortOrder int
}

// QueueItem is a transaction waiting to be uploaded.
type QueueItem struct {
	ID            string
	UserID        string
	ImportBatchID string
	Transaction   model.Transaction
	SyncStatus    string
	Attempts      int
	Error         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Outcome is the result of one upload, applied when a batch commits.
type Outcome struct {
	ID               string
	Status           string
	IncrementAttempt bool
	Error            string
}

// ImportRecord describes one CSV import batch.
type ImportRecord struct {
	BatchID   string
	UserID    string
	Provider  string
	Filename  string
	TotalRows int
	Parsed    int
	Skipped   int
	Queued    int
	Status    string
	CreatedAt time.Time
	UndoneAt  *time.Time
}

// Notification is a notification-center entry.
type Notification struct {
	ID        string
	Title     string
	Body      string
	Data      map[string]string
	CreatedAt time.Time
	ReadAt    *time.Time
}
