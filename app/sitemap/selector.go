package sitemap

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/policy"
)

// Repository is the content store the selector reads from
type Repository interface {
	FindEligible(ctx context.Context, q database.EligibleQuery) ([]database.Post, error)
	TermsForPosts(ctx context.Context, postIDs []int64) (map[int64]map[string][]int64, error)
}

// PolicySource resolves the current inclusion and exclusion policy
type PolicySource interface {
	Policy(ctx context.Context) (policy.Policy, error)
}

type Selector struct {
	repo     Repository
	policies PolicySource
	clock    Clock
}

func NewSelector(repo Repository, policies PolicySource) *Selector {
	return &Selector{
		repo:     repo,
		policies: policies,
		clock:    time.Now,
	}
}

// WithClock replaces the build time source
func (s *Selector) WithClock(clock Clock) *Selector {
	s.clock = clock
	return s
}

// Select returns the eligible items newest first, at most limit of them.
// Nothing is queried until the sequence is ranged over.
func (s *Selector) Select(ctx context.Context, limit int) Sequence {
	return func(yield func(Item, error) bool) {
		items, err := s.load(ctx, limit, true)
		if err != nil {
			yield(Item{}, err)
			return
		}
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect runs Select and gathers the result
func (s *Selector) Collect(ctx context.Context, limit int) ([]Item, error) {
	var items []Item
	for item, err := range s.Select(ctx, limit) {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Exists reports whether at least one item is eligible
func (s *Selector) Exists(ctx context.Context) (bool, error) {
	items, err := s.load(ctx, 1, false)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (s *Selector) load(ctx context.Context, limit int, withTerms bool) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	pol, err := s.policies.Policy(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	posts, err := s.repo.FindEligible(ctx, database.EligibleQuery{
		PostTypes:     pol.Included,
		ExcludedTerms: pol.Excluded.ByPostType(pol.Included),
		Since:         s.clock().Add(-Window),
		Limit:         limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}

	var terms map[int64]map[string][]int64
	if withTerms && len(posts) > 0 {
		ids := make([]int64, len(posts))
		for i, p := range posts {
			ids[i] = p.ID
		}
		terms, err = s.repo.TermsForPosts(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRepository, err)
		}
	}

	items := make([]Item, len(posts))
	for i, p := range posts {
		items[i] = Item{
			ID:           p.ID,
			URL:          p.Permalink,
			Title:        p.Title,
			PublishedAt:  p.PublishedAt,
			PostType:     p.PostType,
			StockTickers: p.StockTickers,
			Terms:        terms[p.ID],
		}
	}
	return items, nil
}
