package sitemap

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/policy"
	"github.com/lysyi3m/news-comb/app/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSettings struct {
	s settings.Settings
}

func (f *staticSettings) Snapshot() settings.Settings { return f.s }

type countingRepo struct {
	Repository
	finds int
	err   error
}

func (r *countingRepo) FindEligible(ctx context.Context, q database.EligibleQuery) ([]database.Post, error) {
	r.finds++
	if r.err != nil {
		return nil, r.err
	}
	return r.Repository.FindEligible(ctx, q)
}

type testEnv struct {
	repo     *database.PostRepository
	settings *staticSettings
	resolver *policy.Resolver
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "news.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	repo := database.NewPostRepository(db)
	src := &staticSettings{}

	return &testEnv{
		repo:     repo,
		settings: src,
		resolver: policy.NewResolver(src, repo, repo),
		now:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (e *testEnv) selector() *Selector {
	return NewSelector(e.repo, e.resolver).WithClock(func() time.Time { return e.now })
}

func (e *testEnv) save(t *testing.T, in database.PostInput) {
	t.Helper()
	if in.PostType == "" {
		in.PostType = "post"
	}
	if in.Permalink == "" {
		in.Permalink = "https://example.com/?p=" + strconv.FormatInt(in.ID, 10)
	}
	_, err := e.repo.SavePost(context.Background(), in)
	require.NoError(t, err)
}

func itemIDs(items []Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestSelectExcludedTermExample(t *testing.T) {
	env := newTestEnv(t)
	env.settings.s = settings.Settings{
		IncludePostTypes: map[string]string{"post": "on"},
		ExcludeTerms:     map[string]string{"5_for_post": "on"},
	}

	env.save(t, database.PostInput{ID: 1, PublishedAt: env.now.Add(-time.Hour), Terms: map[string][]int64{"category": {5}}})
	env.save(t, database.PostInput{ID: 2, PublishedAt: env.now.Add(-2 * time.Hour)})

	items, err := env.selector().Collect(context.Background(), DefaultLimit)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, itemIDs(items))
}

func TestSelectWindowBoundaryIsInclusive(t *testing.T) {
	env := newTestEnv(t)

	env.save(t, database.PostInput{ID: 1, PublishedAt: env.now.Add(-Window)})
	env.save(t, database.PostInput{ID: 2, PublishedAt: env.now.Add(-Window - time.Second)})
	env.save(t, database.PostInput{ID: 3, PublishedAt: env.now.Add(-Window + time.Second)})

	items, err := env.selector().Collect(context.Background(), DefaultLimit)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, itemIDs(items))
}

func TestSelectWindowWithSubSecondClock(t *testing.T) {
	env := newTestEnv(t)
	env.now = time.Date(2026, 5, 1, 10, 0, 0, 700_000_000, time.UTC)

	// stored as 10:00:00, so 48h0.7s old at build time
	env.save(t, database.PostInput{ID: 1, PublishedAt: time.Date(2026, 4, 29, 10, 0, 0, 200_000_000, time.UTC)})
	// stored as 10:00:01, 47h59m59.7s old
	env.save(t, database.PostInput{ID: 2, PublishedAt: time.Date(2026, 4, 29, 10, 0, 1, 0, time.UTC)})

	items, err := env.selector().Collect(context.Background(), DefaultLimit)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, itemIDs(items))

	for _, item := range items {
		assert.LessOrEqual(t, env.now.Sub(item.PublishedAt), Window)
	}
}

func TestSelectExcludedTermWinsOverOtherTerms(t *testing.T) {
	env := newTestEnv(t)
	env.settings.s = settings.Settings{ExcludeTerms: map[string]string{"5_for_post": "on"}}

	env.save(t, database.PostInput{ID: 1, PublishedAt: env.now.Add(-time.Hour), Terms: map[string][]int64{"category": {1, 2, 5}, "post_tag": {9}}})
	env.save(t, database.PostInput{ID: 2, PublishedAt: env.now.Add(-time.Hour), Terms: map[string][]int64{"post_tag": {5}}})
	env.save(t, database.PostInput{ID: 3, PublishedAt: env.now.Add(-time.Hour), Terms: map[string][]int64{"category": {1}}})

	items, err := env.selector().Collect(context.Background(), DefaultLimit)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, itemIDs(items))
	assert.Equal(t, map[string][]int64{"category": {1}}, items[0].Terms)
}

func TestSelectDefaultsToPostType(t *testing.T) {
	env := newTestEnv(t)
	env.settings.s = settings.Settings{IncludePostTypes: map[string]string{"unknown": "on"}}

	env.save(t, database.PostInput{ID: 1, PublishedAt: env.now.Add(-time.Hour)})
	env.save(t, database.PostInput{ID: 2, PostType: "page", PublishedAt: env.now.Add(-time.Hour)})
	env.save(t, database.PostInput{ID: 3, PostType: "attachment", ObjectType: "attachment", PublishedAt: env.now.Add(-time.Hour)})

	items, err := env.selector().Collect(context.Background(), DefaultLimit)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, itemIDs(items))
}

func TestSelectSequenceRequeriesOnEachRange(t *testing.T) {
	env := newTestEnv(t)
	env.save(t, database.PostInput{ID: 1, PublishedAt: env.now.Add(-time.Hour)})

	repo := &countingRepo{Repository: env.repo}
	seq := NewSelector(repo, env.resolver).WithClock(func() time.Time { return env.now }).Select(context.Background(), DefaultLimit)
	assert.Equal(t, 0, repo.finds)

	for range seq {
	}
	env.save(t, database.PostInput{ID: 2, PublishedAt: env.now.Add(-30 * time.Minute)})

	var ids []int64
	for item, err := range seq {
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}

	assert.Equal(t, 2, repo.finds)
	assert.Equal(t, []int64{2, 1}, ids)
}

func TestSelectRepositoryError(t *testing.T) {
	env := newTestEnv(t)
	repo := &countingRepo{Repository: env.repo, err: errors.New("disk I/O error")}
	selector := NewSelector(repo, env.resolver)

	_, err := selector.Collect(context.Background(), DefaultLimit)
	require.ErrorIs(t, err, ErrRepository)

	_, err = selector.Exists(context.Background())
	require.ErrorIs(t, err, ErrRepository)
}

func TestExists(t *testing.T) {
	env := newTestEnv(t)
	selector := env.selector()

	exists, err := selector.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)

	env.save(t, database.PostInput{ID: 1, PublishedAt: env.now.Add(-time.Hour)})

	exists, err = selector.Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
}
