package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

type TaskType string

const (
	TaskTypeInvalidateSitemap TaskType = "invalidate_sitemap"
	TaskTypeIngestFeed        TaskType = "ingest_feed"
)

const DefaultMaxRetries = 3

// retryBudget is how often each task type may be retried after a failure.
// A failed invalidation is retried once; the next tick covers the rest.
var retryBudget = map[TaskType]int{
	TaskTypeInvalidateSitemap: 1,
	TaskTypeIngestFeed:        DefaultMaxRetries,
}

var taskSeq atomic.Uint64

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetName() string
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	Start()
	GetDuration() time.Duration
}

// Task carries the bookkeeping shared by all task types
type Task struct {
	ID         string
	Type       TaskType
	Name       string
	RetryCount int
	MaxRetries int
	StartedAt  *time.Time
}

func (t *Task) GetID() string { return t.ID }
func (t *Task) GetType() TaskType { return t.Type }
func (t *Task) GetName() string { return t.Name }
func (t *Task) GetRetryCount() int { return t.RetryCount }
func (t *Task) GetMaxRetries() int { return t.MaxRetries }
func (t *Task) IncrementRetryCount() { t.RetryCount++ }
func (t *Task) CanRetry() bool { return t.RetryCount < t.MaxRetries }

// Start stamps the current attempt. Retries restart the clock.
func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

// NewTask names the task "<type>-<seq>" so log lines of one run can be followed
func NewTask(taskType TaskType, name string) Task {
	maxRetries, ok := retryBudget[taskType]
	if !ok {
		maxRetries = DefaultMaxRetries
	}

	return Task{
		ID:         fmt.Sprintf("%s-%d", taskType, taskSeq.Add(1)),
		Type:       taskType,
		Name:       name,
		MaxRetries: maxRetries,
	}
}
