package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the part of the SQS client the scheduler uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// maxSQSDelay is the longest delivery delay SQS accepts.
const maxSQSDelay = 15 * time.Minute

// Envelope kinds.
const (
	KindNotification = "notification"
	KindPeriodicTask = "periodic_task"
)

// Envelope is the JSON body sent to the push/worker queue.
type Envelope struct {
	Kind         string        `json:"kind"`
	Notification *Notification `json:"notification,omitempty"`
	TaskID       string        `json:"task_id,omitempty"`
	MinInterval  int64         `json:"min_interval_seconds,omitempty"`
	SentAt       time.Time     `json:"sent_at"`
}

// SQSScheduler implements the Scheduler interface using AWS SQS.
type SQSScheduler struct {
	Client     SQSAPI
	QueueURL   string
	Background bool
}

// NewSQSScheduler creates a new SQSScheduler.
func NewSQSScheduler(client SQSAPI, queueURL string, background bool) *SQSScheduler {
	return &SQSScheduler{
		Client:     client,
		QueueURL:   queueURL,
		Background: background,
	}
}

// Make sure we conform to the interface
var _ Scheduler = (*SQSScheduler)(nil)

// ScheduleLocalNotification sends the notification to the push queue, using
// the message delay for deferred delivery.
func (s *SQSScheduler) ScheduleLocalNotification(ctx context.Context, n Notification) error {
	delay := n.Delay
	if delay > maxSQSDelay {
		delay = maxSQSDelay
	}
	return s.send(ctx, Envelope{Kind: KindNotification, Notification: &n}, int32(delay/time.Second))
}

func (s *SQSScheduler) IsBackgroundExecutionAvailable() bool { return s.Background }

// RegisterPeriodicTask asks the worker fleet to run taskID periodically.
func (s *SQSScheduler) RegisterPeriodicTask(ctx context.Context, taskID string, minInterval time.Duration) error {
	return s.send(ctx, Envelope{Kind: KindPeriodicTask, TaskID: taskID, MinInterval: int64(minInterval / time.Second)}, 0)
}

func (s *SQSScheduler) send(ctx context.Context, env Envelope, delaySeconds int32) error {
	env.SentAt = time.Now().UTC()
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s for SQS: %w", env.Kind, err)
	}

	_, err = s.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(s.QueueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}
	return nil
}
