// Package scheduler relays notifications and background work to the host platform.
package scheduler

import (
	"context"
	"time"
)

// Task IDs registered by the queues.
const (
	TaskSyncTransactions   = "sync-transactions"
	TaskDeleteTransactions = "delete-transactions"
)

// Notification is a local notification. Delay postpones delivery; zero means now.
type Notification struct {
	ID    string            `json:"id"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Delay time.Duration     `json:"delay,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Scheduler is the host's notification and background execution facility.
type Scheduler interface {
	ScheduleLocalNotification(ctx context.Context, n Notification) error
	IsBackgroundExecutionAvailable() bool
	// RegisterPeriodicTask asks the host to invoke taskID at least every minInterval.
	RegisterPeriodicTask(ctx context.Context, taskID string, minInterval time.Duration) error
}
