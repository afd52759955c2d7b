package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "site-1")
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  newRedisStore(t),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			builtAt := time.Unix(1767225600, 0)

			entry, err := store.Load(ctx, "news")
			require.NoError(t, err)
			assert.Equal(t, StateEmpty, entry.State())

			gen, err := store.Generation(ctx, "news")
			require.NoError(t, err)
			assert.Equal(t, uint64(0), gen)

			saved, err := store.Save(ctx, Entry{Key: "news", Body: []byte("<urlset/>"), BuiltAt: builtAt, Generation: gen})
			require.NoError(t, err)
			assert.True(t, saved)

			entry, err = store.Load(ctx, "news")
			require.NoError(t, err)
			assert.Equal(t, StateValid, entry.State())
			assert.Equal(t, []byte("<urlset/>"), entry.Body)
			assert.True(t, entry.BuiltAt.Equal(builtAt))

			next, err := store.MarkInvalid(ctx, "news")
			require.NoError(t, err)
			assert.Equal(t, uint64(1), next)

			entry, err = store.Load(ctx, "news")
			require.NoError(t, err)
			assert.Equal(t, StateInvalid, entry.State())
			assert.Equal(t, []byte("<urlset/>"), entry.Body)

			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"news"}, keys)
		})
	}
}

func TestStoreRejectsStaleGeneration(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			gen, err := store.Generation(ctx, "news")
			require.NoError(t, err)

			// invalidation lands while the build is running
			_, err = store.MarkInvalid(ctx, "news")
			require.NoError(t, err)

			saved, err := store.Save(ctx, Entry{Key: "news", Body: []byte("stale"), BuiltAt: time.Now(), Generation: gen})
			require.NoError(t, err)
			assert.False(t, saved)

			entry, err := store.Load(ctx, "news")
			require.NoError(t, err)
			assert.Equal(t, StateEmpty, entry.State())
		})
	}
}
