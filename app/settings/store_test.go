package settings

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
news_sitemap_name: Example Times
news_version: "12.4"
news_sitemap_include_post_types:
  post: "on"
  page: "off"
news_sitemap_exclude_terms:
  5_for_post: "on"
  6_for_post: ""
sources:
  - name: wire
    url: https://wire.example.com/rss
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStoreLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "news.yml")
	writeFile(t, path, sampleYAML)

	store := NewStore(path)
	require.NoError(t, store.Load())

	s := store.Snapshot()
	assert.Equal(t, "Example Times", s.Name)
	assert.Equal(t, "12.4", s.Version)
	assert.Equal(t, map[string]string{"post": On}, s.IncludePostTypes)
	assert.Equal(t, map[string]string{"5_for_post": On}, s.ExcludeTerms)

	require.Len(t, s.Sources, 1)
	assert.Equal(t, "post", s.Sources[0].PostType)
	assert.Equal(t, 3600, s.Sources[0].RefreshInterval)
	assert.Equal(t, 30, s.Sources[0].Timeout)
	assert.True(t, s.Sources[0].IsEnabled())
}

func TestStoreMissingFileUsesDefaults(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, store.Load())

	s := store.Snapshot()
	assert.Empty(t, s.Name)
	assert.Empty(t, s.IncludePostTypes)
	assert.Empty(t, s.ExcludeTerms)
}

func TestStoreRejectsInvalidSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "news.yml")
	writeFile(t, path, "sources:\n  - name: a\n")

	err := NewStore(path).Load()
	assert.ErrorContains(t, err, "source URL is required")
}

func TestStoreReloadKeepsSnapshotOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "news.yml")
	writeFile(t, path, sampleYAML)

	store := NewStore(path)
	require.NoError(t, store.Load())

	var calls atomic.Int32
	store.Subscribe(func(Settings) { calls.Add(1) })

	writeFile(t, path, "news_sitemap_name: [unterminated")
	changed, err := store.Reload()
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, "Example Times", store.Snapshot().Name)

	writeFile(t, path, sampleYAML)
	changed, err = store.Reload()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, int32(0), calls.Load())

	writeFile(t, path, "news_sitemap_name: Other Times\n")
	changed, err = store.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStoreWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "news.yml")
	writeFile(t, path, sampleYAML)

	store := NewStore(path)
	require.NoError(t, store.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))

	writeFile(t, path, "news_sitemap_name: Watched Times\n")

	require.Eventually(t, func() bool {
		return store.Snapshot().Name == "Watched Times"
	}, 5*time.Second, 20*time.Millisecond)
}
