package moderation

import (
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

type dedupeKey struct {
	chatID int64
	msgID  int
}

// Dedupe is a time and size bounded set of seen (chat, message) pairs, used
// to drop duplicate deliveries before they reach the worker pool.
type Dedupe struct {
	seen cache.Cache[dedupeKey, struct{}]
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedupe makes a dedupe set keeping keys for ttl, at most maxKeys entries.
func NewDedupe(ttl time.Duration, maxKeys int) *Dedupe {
	return &Dedupe{
		seen: cache.NewCache[dedupeKey, struct{}]().WithTTL(ttl).WithMaxKeys(maxKeys),
		ttl:  ttl,
	}
}

// AddIfNew records the pair and returns true if it was not seen inside the
// ttl window. Safe for concurrent use, at most one caller gets true per key
// per window.
func (d *Dedupe) AddIfNew(chatID int64, msgID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := dedupeKey{chatID: chatID, msgID: msgID}
	if _, ok := d.seen.Get(key); ok {
		return false
	}
	d.seen.Set(key, struct{}{}, d.ttl)
	return true
}

// Len returns the number of tracked pairs, expired entries included until
// evicted.
func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen.Keys())
}
