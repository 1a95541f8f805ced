// Package dedup discards QoS1 redeliveries. The broker guarantees
// at-least-once delivery, so identical payloads can arrive more than once;
// callers hash the payload and ask ShouldProcess before acting on it.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	cap  int
	seen map[string]time.Time // key -> expiry
}

func New(ttl time.Duration, cap int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if cap <= 0 {
		cap = 10000
	}
	return &Deduper{ttl: ttl, cap: cap, seen: make(map[string]time.Time, cap)}
}

// Key derives a stable dedup key from a raw payload.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ShouldProcess reports whether this key is new within the TTL window and
// records it. Duplicate keys inside the window return false.
func (d *Deduper) ShouldProcess(key string) bool {
	if key == "" {
		return true
	}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.seen[key] = now.Add(d.ttl)

	if len(d.seen) > d.cap {
		d.evictExpired(now)
	}
	return true
}

func (d *Deduper) evictExpired(now time.Time) {
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
		if len(d.seen) <= d.cap {
			return
		}
	}
}
