// Package cache stores decoded PCM keyed by synthesis inputs, letting
// repeated utterances bypass inference entirely. Entries are keyed by text,
// voice, and quality steps; the rate factor is excluded because it is
// applied downstream of the cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fastfinge/supertonic-nvda/internal/ttypes"
)

var (
	// ErrEntryTooLarge is returned when a single entry exceeds the byte budget.
	ErrEntryTooLarge = errors.New("audio entry exceeds cache byte budget")
)

// DefaultMaxEntries bounds the entry count when the caller passes zero.
const DefaultMaxEntries = 256

// DefaultMaxBytes bounds total PCM bytes when the caller passes zero (32 MiB).
const DefaultMaxBytes = 32 << 20

// Key computes the cache key for a unit's synthesis inputs.
func Key(text string, voice ttypes.Voice, steps int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", text, voice, steps)))
	return hex.EncodeToString(sum[:])
}

// Manager is an in-memory LRU audio cache bounded by both entry count and
// total byte size. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, []byte]
	maxBytes int64
	bytes    int64

	hits      int64
	misses    int64
	evictions int64
	purging   bool
}

// NewManager creates a cache holding at most maxEntries entries and maxBytes
// total PCM. Zero values select the defaults.
func NewManager(maxEntries int, maxBytes int64) (*Manager, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	m := &Manager{maxBytes: maxBytes}

	entries, err := lru.NewWithEvict[string, []byte](maxEntries, m.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	m.entries = entries

	return m, nil
}

// onEvict runs with mu held: the lru cache is only mutated under the lock.
func (m *Manager) onEvict(_ string, pcm []byte) {
	m.bytes -= int64(len(pcm))
	// Entries dropped by an explicit Clear are not capacity evictions.
	if !m.purging {
		m.evictions++
	}
}

// Get retrieves cached PCM for the given key.
func (m *Manager) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pcm, ok := m.entries.Get(key)
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return pcm, ok
}

// Put stores PCM under the given key, evicting old entries until the byte
// budget holds.
func (m *Manager) Put(key string, pcm []byte) error {
	size := int64(len(pcm))
	if size > m.maxBytes {
		return ErrEntryTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Replacing an existing entry releases its bytes through onEvict only
	// on eviction, so account for it explicitly.
	if old, ok := m.entries.Peek(key); ok {
		m.bytes -= int64(len(old))
	}

	m.entries.Add(key, pcm)
	m.bytes += size

	for m.bytes > m.maxBytes {
		if _, _, ok := m.entries.RemoveOldest(); !ok {
			break
		}
	}

	return nil
}

// Clear removes all cached entries.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purging = true
	m.entries.Purge()
	m.purging = false
}

// Stats returns cache performance counters.
func (m *Manager) Stats() ttypes.CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ttypes.CacheStats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   m.entries.Len(),
		Bytes:     m.bytes,
	}
}
