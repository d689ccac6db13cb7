package httpserver

import (
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"switchboard/go-daemon/pkg/dispatch"
)

const (
	idempotencyHeader = "X-Switchboard-Idempotency-Key"
	replayTTL         = 10 * time.Minute
	replayMaxEntries  = 1024
)

type replayEntry struct {
	requestHash string
	body        []byte
	proto       dispatch.Protocol
	createdAt   time.Time
}

type replayCache struct {
	mu      sync.Mutex
	entries map[string]replayEntry
}

func newReplayCache() *replayCache {
	return &replayCache{entries: make(map[string]replayEntry)}
}

// get returns the stored response for cacheKey. The second return reports a
// hit; the third reports the key being reused with a different request body.
func (c *replayCache) get(cacheKey, requestHash string, now time.Time) (replayEntry, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(now)
	entry, ok := c.entries[cacheKey]
	if !ok {
		return replayEntry{}, false, false
	}
	if entry.requestHash != requestHash {
		return replayEntry{}, false, true
	}
	return entry, true, false
}

func (c *replayCache) set(cacheKey string, entry replayEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(entry.createdAt)
	c.entries[cacheKey] = entry
	if len(c.entries) <= replayMaxEntries {
		return
	}
	// Bounded memory: drop the oldest entry when over limit.
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range c.entries {
		if first || e.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.createdAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *replayCache) prune(now time.Time) {
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) > replayTTL {
			delete(c.entries, key)
		}
	}
}

// replayKey scopes an idempotency key to the presenting token so callers
// cannot read each other's cached responses.
func replayKey(raw, token string) string {
	key := strings.TrimSpace(raw)
	if key == "" {
		return ""
	}
	return token + "|" + key
}

func requestDigest(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}
