package events

import (
	"context"
	"sync"
)

// SaveEvent is fired after a post or revision is stored
type SaveEvent struct {
	PostID     int64
	PostType   string
	IsRevision bool
	SiteID     string
}

type Handler func(ctx context.Context, ev SaveEvent)

type subscription struct {
	id int
	fn Handler
}

// Bus delivers save events synchronously to subscribers in registration order
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Publish(ctx context.Context, ev SaveEvent) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ctx, ev)
	}
}
