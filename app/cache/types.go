package cache

import (
	"context"
	"errors"
	"time"
)

// InvalidationInterval bounds how stale a cached sitemap can get when
// mutation events are missed
const InvalidationInterval = time.Hour

var (
	ErrBuild       = errors.New("sitemap build failed")
	ErrUnknownFeed = errors.New("unknown feed")
)

// State of one cached artifact
type State string

const (
	StateEmpty   State = "empty"
	StateValid   State = "valid"
	StateInvalid State = "invalid"
)

// Entry is a cached artifact. It is valid only while Generation matches the
// store's current generation for Key.
type Entry struct {
	Key        string
	Body       []byte
	BuiltAt    time.Time
	Generation uint64
	Valid      bool
}

func (e *Entry) State() State {
	switch {
	case e == nil:
		return StateEmpty
	case e.Valid:
		return StateValid
	default:
		return StateInvalid
	}
}

// Store keeps artifacts per feed key. Invalidation bumps the key's
// generation; Save only stores an entry built for the current generation.
type Store interface {
	// Load returns the stored entry or nil when nothing was built yet
	Load(ctx context.Context, key string) (*Entry, error)
	// Save stores entry if entry.Generation is still current
	Save(ctx context.Context, entry Entry) (bool, error)
	// MarkInvalid bumps the generation and returns the new value
	MarkInvalid(ctx context.Context, key string) (uint64, error)
	Generation(ctx context.Context, key string) (uint64, error)
	Keys(ctx context.Context) ([]string, error)
}
