package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/adsnap/internal/ads"
)

type memoEntry struct {
	snap    ads.Snapshot
	expires time.Time
}

// Memo is an in-process snapshot memo with a fixed TTL.
type Memo struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoEntry
	now     func() time.Time

	// Expired entries are swept on the first Set after nextSweep.
	nextSweep time.Time
}

// NewMemo builds a Memo. A non-positive ttl keeps entries forever.
func NewMemo(ttl time.Duration) *Memo {
	return &Memo{
		ttl:     ttl,
		entries: make(map[string]memoEntry),
		now:     time.Now,
	}
}

// Get returns the live entry for key.
func (m *Memo) Get(_ context.Context, key string) (ads.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return ads.Snapshot{}, false, nil
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		delete(m.entries, key)
		return ads.Snapshot{}, false, nil
	}
	return entry.snap.Clone(), true, nil
}

// Set stores snap under key. At most once per TTL it also drops every expired entry, so keys
// that are written and never read again do not accumulate.
func (m *Memo) Set(_ context.Context, key string, snap ads.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoEntry{snap: snap.Clone()}
	if m.ttl > 0 {
		now := m.now()
		if !now.Before(m.nextSweep) {
			m.sweep(now)
			m.nextSweep = now.Add(m.ttl)
		}
		entry.expires = now.Add(m.ttl)
	}
	m.entries[key] = entry
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memo) sweep(now time.Time) {
	for key, entry := range m.entries {
		if !entry.expires.IsZero() && !now.Before(entry.expires) {
			delete(m.entries, key)
		}
	}
}
