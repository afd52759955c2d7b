package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/lysyi3m/news-comb/app/settings"
	"github.com/samber/lo"
)

type SettingsSource interface {
	Snapshot() settings.Settings
}

type TypeRegistry interface {
	PublicPostTypes(ctx context.Context) ([]string, error)
}

type TermSource interface {
	ExcludableTermIDs(ctx context.Context, postID int64, postType string) ([]int64, error)
	IsSuppressed(ctx context.Context, postID int64) (bool, error)
}

// Resolver turns stored settings into an effective Policy. The result is
// memoized until Reset.
type Resolver struct {
	settings SettingsSource
	registry TypeRegistry
	terms    TermSource

	mu       sync.Mutex
	resolved *Policy
}

func NewResolver(settings SettingsSource, registry TypeRegistry, terms TermSource) *Resolver {
	return &Resolver{
		settings: settings,
		registry: registry,
		terms:    terms,
	}
}

// Policy returns the memoized policy, resolving it on first use. A registry
// failure is returned and nothing is memoized.
func (r *Resolver) Policy(ctx context.Context) (Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		return *r.resolved, nil
	}

	public, err := r.registry.PublicPostTypes(ctx)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to get public post types: %w", err)
	}

	s := r.settings.Snapshot()

	included := Inclusion(lo.Filter(public, func(postType string, _ int) bool {
		return s.IncludePostTypes[postType] == settings.On
	}))
	if len(included) == 0 {
		included = Inclusion{DefaultPostType}
	}

	r.resolved = &Policy{
		Included: included,
		Excluded: ParseExclusion(s.ExcludeTerms),
	}
	return *r.resolved, nil
}

// IncludedTypes returns the post types eligible for the sitemap, never empty
func (r *Resolver) IncludedTypes(ctx context.Context) (Inclusion, error) {
	p, err := r.Policy(ctx)
	if err != nil {
		return nil, err
	}
	return p.Included, nil
}

func (r *Resolver) ExcludedTerms(ctx context.Context) (Exclusion, error) {
	p, err := r.Policy(ctx)
	if err != nil {
		return nil, err
	}
	return p.Excluded, nil
}

// IsExcluded is the per-post check for host callers such as the save API.
// Selection applies the same rules in SQL and does not call it. The per-post
// suppression flag wins over everything else.
func (r *Resolver) IsExcluded(ctx context.Context, postID int64, postType string) (bool, error) {
	suppressed, err := r.terms.IsSuppressed(ctx, postID)
	if err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	if suppressed {
		return true, nil
	}

	excluded, err := r.ExcludedTerms(ctx)
	if err != nil {
		return false, err
	}
	if len(excluded) == 0 {
		return false, nil
	}

	termIDs, err := r.terms.ExcludableTermIDs(ctx, postID, postType)
	if err != nil {
		return false, fmt.Errorf("failed to get post terms: %w", err)
	}

	return lo.SomeBy(termIDs, func(id int64) bool {
		return excluded.Excludes(id, postType)
	}), nil
}

// Reset drops the memoized policy so the next call re-reads settings
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = nil
}
