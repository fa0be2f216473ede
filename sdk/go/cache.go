package cvforgeauth

import (
	"sync"
	"time"
)

// tokenCache holds verified identities keyed by access token. Expired entries
// are dropped on access and whenever the map is written.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	id        *Identity
	expiresAt time.Time
}

func newTokenCache() *tokenCache {
	return &tokenCache{entries: make(map[string]cacheEntry)}
}

func (tc *tokenCache) get(token string, now time.Time) (*Identity, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	entry, ok := tc.entries[token]
	if !ok || !now.Before(entry.expiresAt) {
		return nil, false
	}
	return entry.id, true
}

func (tc *tokenCache) set(token string, id *Identity, until, now time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for k, v := range tc.entries {
		if !now.Before(v.expiresAt) {
			delete(tc.entries, k)
		}
	}
	tc.entries[token] = cacheEntry{id: id, expiresAt: until}
}

func (tc *tokenCache) delete(token string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.entries, token)
}

func (tc *tokenCache) deleteUser(userID string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	n := 0
	for k, v := range tc.entries {
		if v.id.UserID == userID {
			delete(tc.entries, k)
			n++
		}
	}
	return n
}

func (tc *tokenCache) len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.entries)
}
