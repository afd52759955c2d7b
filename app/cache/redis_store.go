package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// saveScript stores the entry only when its generation is still current
var saveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[2], 'body', ARGV[2], 'built_at', ARGV[3], 'generation', ARGV[1])
redis.call('SADD', KEYS[3], ARGV[4])
return 1
`)

// RedisStore shares cached sitemaps between processes
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)
	return client, nil
}

// NewRedisStore uses prefix to scope keys, typically per site
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) generationKey(key string) string {
	return fmt.Sprintf("%s:gen:%s", s.prefix, key)
}

func (s *RedisStore) entryKey(key string) string {
	return fmt.Sprintf("%s:entry:%s", s.prefix, key)
}

func (s *RedisStore) keysKey() string {
	return s.prefix + ":keys"
}

func (s *RedisStore) Load(ctx context.Context, key string) (*Entry, error) {
	var genCmd *redis.StringCmd
	var entryCmd *redis.MapStringStringCmd

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		genCmd = pipe.Get(ctx, s.generationKey(key))
		entryCmd = pipe.HGetAll(ctx, s.entryKey(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load cache entry %s: %w", key, err)
	}

	fields := entryCmd.Val()
	if len(fields) == 0 {
		return nil, nil
	}

	current, err := parseGeneration(genCmd)
	if err != nil {
		return nil, err
	}

	generation, err := strconv.ParseUint(fields["generation"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entry generation %s: %w", key, err)
	}
	builtAt, err := strconv.ParseInt(fields["built_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entry build time %s: %w", key, err)
	}

	return &Entry{
		Key:        key,
		Body:       []byte(fields["body"]),
		BuiltAt:    time.Unix(0, builtAt),
		Generation: generation,
		Valid:      generation == current,
	}, nil
}

func (s *RedisStore) Save(ctx context.Context, entry Entry) (bool, error) {
	res, err := saveScript.Run(ctx, s.client,
		[]string{s.generationKey(entry.Key), s.entryKey(entry.Key), s.keysKey()},
		entry.Generation, entry.Body, entry.BuiltAt.UnixNano(), entry.Key,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to save cache entry %s: %w", entry.Key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) MarkInvalid(ctx context.Context, key string) (uint64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.generationKey(key))
		pipe.SAdd(ctx, s.keysKey(), key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache entry %s: %w", key, err)
	}
	return uint64(incr.Val()), nil
}

func (s *RedisStore) Generation(ctx context.Context, key string) (uint64, error) {
	return parseGeneration(s.client.Get(ctx, s.generationKey(key)))
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.keysKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func parseGeneration(cmd *redis.StringCmd) (uint64, error) {
	val, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cache generation: %w", err)
	}
	gen, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse cache generation: %w", err)
	}
	return gen, nil
}
