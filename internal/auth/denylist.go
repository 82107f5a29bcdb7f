package auth

import (
	"sync"
	"time"
)

// Denylist remembers revoked token ids until the tokens would have expired anyway.
// It lives in memory only; a restart forgets every entry.
type Denylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewDenylist returns an empty denylist; a nil now means time.Now.
func NewDenylist(now func() time.Time) *Denylist {
	if now == nil {
		now = time.Now
	}
	return &Denylist{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Add denies id until the given time and drops entries that have already lapsed.
func (d *Denylist) Add(id string, until time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, key)
		}
	}
	if now.Before(until) {
		d.entries[id] = until
	}
}

// Contains reports whether id is denied right now.
func (d *Denylist) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.entries[id]
	return ok && d.now().Before(exp)
}

// Len counts the entries still held, lapsed ones included until the next Add.
func (d *Denylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
