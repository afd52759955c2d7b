package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/events"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/metrics"
	"github.com/lysyi3m/news-comb/app/settings"
)

const fetchAttempts = 3

// IngestFeedTask pulls an upstream feed and stores its entries as published posts
type IngestFeedTask struct {
	Task
	Source     settings.Source
	httpClient *http.Client
	parser     *feed.Parser
	posts      PostStore
	terms      TermStore
	bus        Publisher
	userAgent  string
	siteID     string
	retryWait  time.Duration
}

func NewIngestFeedTask(source settings.Source, httpClient *http.Client, parser *feed.Parser,
	posts PostStore, terms TermStore, bus Publisher, userAgent, siteID string) *IngestFeedTask {
	return &IngestFeedTask{
		Task:       NewTask(TaskTypeIngestFeed, source.Name),
		Source:     source,
		httpClient: httpClient,
		parser:     parser,
		posts:      posts,
		terms:      terms,
		bus:        bus,
		userAgent:  userAgent,
		siteID:     siteID,
		retryWait:  500 * time.Millisecond,
	}
}

func (t *IngestFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.Source.IsEnabled() {
		slog.Debug("Source disabled, skipping", "source", t.Name)
		return nil
	}

	data, err := t.fetchWithRetry(ctx)
	if err != nil {
		metrics.RecordIngest(t.Name, "fetch_error", 1)
		return fmt.Errorf("failed to fetch feed: %w", err)
	}

	_, items, err := t.parser.Run(data)
	if err != nil {
		metrics.RecordIngest(t.Name, "parse_error", 1)
		return fmt.Errorf("failed to parse feed: %w", err)
	}

	storedCount := 0
	undatedCount := 0

	for _, item := range items {
		if item.PublishedAt == nil {
			undatedCount++
			continue
		}

		id, err := t.store(ctx, item)
		if err != nil {
			metrics.RecordIngest(t.Name, "stored", storedCount)
			return fmt.Errorf("failed to store item %s: %w", item.GUID, err)
		}
		storedCount++

		t.bus.Publish(ctx, events.SaveEvent{
			PostID:   id,
			PostType: t.Source.PostType,
			SiteID:   t.siteID,
		})
	}

	metrics.RecordIngest(t.Name, "stored", storedCount)
	metrics.RecordIngest(t.Name, "undated", undatedCount)

	slog.Info("Task completed",
		"type", "IngestFeed",
		"source", t.Name,
		"duration", t.GetDuration(),
		"total", len(items),
		"stored", storedCount,
		"undated", undatedCount)

	return nil
}

func (t *IngestFeedTask) store(ctx context.Context, item feed.Item) (int64, error) {
	var categories []int64
	for _, name := range item.Categories {
		termID, err := t.terms.EnsureTerm(ctx, "category", name)
		if err != nil {
			return 0, err
		}
		categories = append(categories, termID)
	}

	post := database.PostInput{
		GUID:         t.Name + ":" + item.GUID,
		ObjectType:   database.ObjectTypePost,
		PostType:     t.Source.PostType,
		Status:       database.StatusPublish,
		Permalink:    item.Link,
		Title:        item.Title,
		PublishedAt:  *item.PublishedAt,
		StockTickers: item.StockTickers,
	}
	if len(categories) > 0 {
		post.Terms = map[string][]int64{"category": categories}
	}

	return t.posts.SavePost(ctx, post)
}

func (t *IngestFeedTask) fetchWithRetry(ctx context.Context) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.retryWait
	policy.MaxInterval = 10 * time.Second

	var data []byte
	operation := func() error {
		var err error
		data, err = t.fetchFeed(ctx)
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("Feed fetch failed, retrying", "source", t.Name, "wait", wait.String(), "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, fetchAttempts-1), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return data, nil
}

func (t *IngestFeedTask) fetchFeed(ctx context.Context) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(t.Source.Timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", t.Source.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, backoff.Permanent(fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
