package tasks

import (
	"context"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/events"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Recurring registrations are idempotent by name.
// Example usage:
//
//	scheduler := NewScheduler(workerCount, queueSize)
//	scheduler.ScheduleIfAbsent("invalidate_sitemap", time.Hour, newTask)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	ScheduleIfAbsent(name string, interval time.Duration, newTask func() TaskInterface) bool
}

// Invalidator is the periodic cache invalidation hook
type Invalidator interface {
	Tick(ctx context.Context) error
}

// PostStore persists ingested posts
type PostStore interface {
	SavePost(ctx context.Context, post database.PostInput) (int64, error)
}

// TermStore resolves category names to term IDs
type TermStore interface {
	EnsureTerm(ctx context.Context, taxonomy, name string) (int64, error)
}

// Publisher fires save events for stored posts
type Publisher interface {
	Publish(ctx context.Context, ev events.SaveEvent)
}
