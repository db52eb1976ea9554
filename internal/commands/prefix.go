package commands

import (
	"context"
	"errors"
	"sync"
	"time"

	"schedbot/internal/model"
	"schedbot/internal/storage"
)

// CalendarReader is the store lookup behind PrefixCache.
type CalendarReader interface {
	GetCalendar(ctx context.Context, id int64) (model.Calendar, error)
}

type prefixEntry struct {
	prefix  string
	expires time.Time
}

// PrefixCache implements router.Prefixes. Every chat message consults it, so
// lookups are cached for ttl and dropped on change.
type PrefixCache struct {
	mu    sync.Mutex
	store CalendarReader
	ttl   time.Duration
	m     map[int64]prefixEntry
	now   func() time.Time
}

func NewPrefixCache(store CalendarReader, ttl time.Duration) *PrefixCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PrefixCache{store: store, ttl: ttl, m: map[int64]prefixEntry{}, now: time.Now}
}

// Prefix returns the custom prefix of chatID, or "" when the chat has none or
// the lookup fails.
func (c *PrefixCache) Prefix(ctx context.Context, chatID int64) string {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.m[chatID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.prefix
	}
	c.mu.Unlock()

	cal, err := c.store.GetCalendar(ctx, chatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cal.Prefix = ""
	case err != nil:
		return ""
	}
	c.mu.Lock()
	c.m[chatID] = prefixEntry{prefix: cal.Prefix, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return cal.Prefix
}

func (c *PrefixCache) Invalidate(chatID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.m, chatID)
	c.mu.Unlock()
}
