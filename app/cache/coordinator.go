package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/events"
	"github.com/lysyi3m/news-comb/app/metrics"
	"github.com/lysyi3m/news-comb/app/policy"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

const buildTimeout = 2 * time.Minute

// BuildFunc produces the artifact for a feed key
type BuildFunc func(ctx context.Context) ([]byte, error)

// PolicySource is the part of the policy resolver the coordinator needs
type PolicySource interface {
	IncludedTypes(ctx context.Context) (policy.Inclusion, error)
	Reset()
}

// Coordinator serves cached artifacts and rebuilds them lazily after invalidation
type Coordinator struct {
	store    Store
	policies PolicySource
	siteID   string

	mu       sync.RWMutex
	builders map[string]BuildFunc

	group singleflight.Group
	now   func() time.Time
}

func NewCoordinator(store Store, policies PolicySource, siteID string) *Coordinator {
	return &Coordinator{
		store:    store,
		policies: policies,
		siteID:   siteID,
		builders: make(map[string]BuildFunc),
		now:      time.Now,
	}
}

// Register attaches the build pipeline for key
func (c *Coordinator) Register(key string, build BuildFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builders[key] = build
}

func (c *Coordinator) registered() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.builders))
	for k := range c.builders {
		keys = append(keys, k)
	}
	return keys
}

// Get returns the cached artifact for key, building it when the cache is
// empty or invalid. Concurrent misses share one build.
func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	build, ok := c.builders[key]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, key)
	}

	entry, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached %s: %w", key, err)
	}
	if entry.State() == StateValid {
		metrics.RecordCacheRead(key, "hit")
		return entry.Body, nil
	}
	metrics.RecordCacheRead(key, string(entry.State()))

	// The shared build outlives any single reader; each reader only stops
	// waiting when its own context ends.
	ch := c.group.DoChan(key, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()
		return c.rebuild(buildCtx, key, build)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (c *Coordinator) rebuild(ctx context.Context, key string, build BuildFunc) ([]byte, error) {
	generation, err := c.store.Generation(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache generation for %s: %w", key, err)
	}

	start := time.Now()
	body, err := build(ctx)
	if err != nil {
		metrics.RecordBuild(key, "error", time.Since(start))
		slog.Error("Sitemap build failed", "feed", key, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrBuild, key, err)
	}
	metrics.RecordBuild(key, "success", time.Since(start))

	stored, err := c.store.Save(ctx, Entry{
		Key:        key,
		Body:       body,
		BuiltAt:    c.now(),
		Generation: generation,
	})
	if err != nil {
		slog.Warn("Failed to store built sitemap", "feed", key, "error", err)
	}

	slog.Debug("Sitemap built", "feed", key, "bytes", len(body), "stored", stored, "duration", time.Since(start))
	return body, nil
}

// State reports the cache state of key
func (c *Coordinator) State(ctx context.Context, key string) (State, error) {
	entry, err := c.store.Load(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to load cached %s: %w", key, err)
	}
	return entry.State(), nil
}

// Entry returns the stored entry for key without building it
func (c *Coordinator) Entry(ctx context.Context, key string) (*Entry, error) {
	return c.store.Load(ctx, key)
}

// Invalidate marks key stale. The next Get rebuilds it.
func (c *Coordinator) Invalidate(ctx context.Context, key, reason string) error {
	if _, err := c.store.MarkInvalid(ctx, key); err != nil {
		return err
	}
	metrics.RecordInvalidation(key, reason)
	slog.Debug("Sitemap invalidated", "feed", key, "reason", reason)
	return nil
}

// InvalidateAll marks every registered key stale, plus any key the store
// holds that another process sharing it built
func (c *Coordinator) InvalidateAll(ctx context.Context, reason string) error {
	var errs []error

	keys := c.registered()
	stored, err := c.store.Keys(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to list cached keys: %w", err))
	}
	keys = lo.Uniq(append(keys, stored...))

	for _, key := range keys {
		if err := c.Invalidate(ctx, key, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleSave applies the mutation filter to a save event. Revisions, saves
// for other sites, and post types outside the sitemap are ignored.
func (c *Coordinator) HandleSave(ctx context.Context, ev events.SaveEvent) {
	if ev.IsRevision {
		return
	}
	if ev.SiteID != c.siteID {
		return
	}

	included, err := c.policies.IncludedTypes(ctx)
	if err != nil {
		slog.Warn("Failed to resolve included post types, invalidating anyway", "post_id", ev.PostID, "error", err)
	} else if !included.Contains(ev.PostType) {
		return
	}

	if err := c.InvalidateAll(ctx, "save"); err != nil {
		slog.Error("Failed to invalidate sitemap cache", "post_id", ev.PostID, "error", err)
	}
}

// HandleSettingsChange drops the memoized policy and invalidates everything
func (c *Coordinator) HandleSettingsChange(ctx context.Context) {
	c.policies.Reset()
	if err := c.InvalidateAll(ctx, "settings"); err != nil {
		slog.Error("Failed to invalidate sitemap cache", "error", err)
	}
}

// Tick is the periodic unconditional invalidation
func (c *Coordinator) Tick(ctx context.Context) error {
	return c.InvalidateAll(ctx, "tick")
}
