package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

// InvalidateSitemapTask marks every cached sitemap stale
type InvalidateSitemapTask struct {
	Task
	invalidator Invalidator
}

func NewInvalidateSitemapTask(invalidator Invalidator) *InvalidateSitemapTask {
	return &InvalidateSitemapTask{
		Task:        NewTask(TaskTypeInvalidateSitemap, "sitemap"),
		invalidator: invalidator,
	}
}

func (t *InvalidateSitemapTask) Execute(ctx context.Context) error {
	if err := t.invalidator.Tick(ctx); err != nil {
		return fmt.Errorf("failed to invalidate sitemap cache: %w", err)
	}

	slog.Debug("Task completed", "type", "InvalidateSitemap", "duration", t.GetDuration())
	return nil
}
