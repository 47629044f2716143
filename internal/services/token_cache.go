package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const tokenRefreshLeeway = 5 * time.Minute

// TokenKey identifies a cached POS access token.
type TokenKey struct {
	ClientID       string
	RestaurantGUID string
}

func (k TokenKey) String() string {
	return k.ClientID + "|" + k.RestaurantGUID
}

// AccessToken is a freshly issued POS token.
type AccessToken struct {
	Value     string
	ExpiresIn time.Duration
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache shares POS access tokens between clients of the same
// credentials. Entries are only ever overwritten or invalidated.
type TokenCache struct {
	mu      sync.RWMutex
	entries map[TokenKey]cachedToken
	group   singleflight.Group
	now     func() time.Time
}

// TokenCacheOption configures a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithClock replaces the cache's time source.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// NewTokenCache returns an empty cache.
func NewTokenCache(opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		entries: make(map[TokenKey]cachedToken),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a cached token for key, calling fetch when the entry is
// missing or expires within the refresh leeway. Concurrent misses for the
// same key share a single fetch.
func (c *TokenCache) Token(ctx context.Context, key TokenKey, fetch func(context.Context) (*AccessToken, error)) (string, error) {
	if token, ok := c.cached(key); ok {
		return token, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// Another caller may have refreshed while we waited on the group.
		if token, ok := c.cached(key); ok {
			return token, nil
		}

		issued, err := fetch(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.entries[key] = cachedToken{
			value:     issued.Value,
			expiresAt: c.now().Add(issued.ExpiresIn),
		}
		c.mu.Unlock()

		return issued.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the entry for key so the next Token call re-authenticates.
func (c *TokenCache) Invalidate(key TokenKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TokenCache) cached(key TokenKey) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || entry.value == "" {
		return "", false
	}
	if !c.now().Add(tokenRefreshLeeway).Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}
