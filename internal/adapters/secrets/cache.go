package secrets

import (
	"sync"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/adapters/ports"
)

// secretCache keeps the latest version of each secret for ttl. It is per
// process; a rotated secret is picked up once the entry expires. A ttl of
// zero disables it.
type secretCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cached
}

type cached struct {
	secret  *ports.Secret
	expires time.Time
}

func newSecretCache(ttl time.Duration) *secretCache {
	return &secretCache{ttl: ttl, now: time.Now, entries: make(map[string]cached)}
}

// load returns the cached secret for key, calling fetch on a miss. Errors
// are never cached.
func (c *secretCache) load(key string, fetch func() (*ports.Secret, error)) (*ports.Secret, error) {
	if c.ttl <= 0 {
		return fetch()
	}

	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.secret, nil
	}
	delete(c.entries, key)
	c.mu.Unlock()

	secret, err := fetch()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cached{secret: secret, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return secret, nil
}
