// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"sync"
	"time"
)

// CacheEntry represents a cached value with expiration
type CacheEntry[T any] struct {
	Value      T
	ExpiresAt  time.Time
	LastUpdate time.Time
}

// IsExpired checks if the cache entry has expired
func (e *CacheEntry[T]) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TTLCache is a thread-safe key/value memoizer with per-entry TTL.
// When maxEntries is positive, inserting into a full cache evicts expired
// entries first and then the entry closest to expiry.
type TTLCache[V any] struct {
	entries    map[string]*CacheEntry[V]
	defaultTTL time.Duration
	maxEntries int
	mu         sync.RWMutex
	statsMu    sync.Mutex
	stats      CacheStats
}

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	LastEviction time.Time
}

// NewTTLCache creates a cache whose Set falls back to defaultTTL when given a
// non-positive ttl. maxEntries <= 0 means unbounded.
func NewTTLCache[V any](defaultTTL time.Duration, maxEntries int) *TTLCache[V] {
	if defaultTTL <= 0 {
		defaultTTL = DefaultDiscoveryTTL
	}
	return &TTLCache[V]{
		entries:    make(map[string]*CacheEntry[V]),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
	}
}

// Get returns the value for key if present and not expired
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.IsExpired() {
		c.recordMiss()
		var zero V
		return zero, false
	}

	c.recordHit()
	return entry.Value, true
}

// Set stores value under key for ttl, overwriting any previous entry
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}

	now := time.Now()
	c.entries[key] = &CacheEntry[V]{
		Value:      value,
		ExpiresAt:  now.Add(ttl),
		LastUpdate: now,
	}
}

// Delete removes key from the cache
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		return
	}
	delete(c.entries, key)
	c.recordEvictions(1)
}

// Len returns the number of stored entries, expired ones included
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// InvalidateAll clears the cache
func (c *TTLCache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*CacheEntry[V])
	if n > 0 {
		c.recordEvictions(n)
	}
}

// Cleanup removes expired entries from the cache
// Should be called periodically (e.g., every minute)
func (c *TTLCache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, entry := range c.entries {
		if entry.IsExpired() {
			delete(c.entries, key)
			evicted++
		}
	}

	if evicted > 0 {
		c.recordEvictions(evicted)
	}
	return evicted
}

// evictLocked makes room for one entry. Caller holds c.mu.
func (c *TTLCache[V]) evictLocked() {
	evicted := 0
	var soonestKey string
	var soonest time.Time
	for key, entry := range c.entries {
		if entry.IsExpired() {
			delete(c.entries, key)
			evicted++
			continue
		}
		if soonestKey == "" || entry.ExpiresAt.Before(soonest) {
			soonestKey = key
			soonest = entry.ExpiresAt
		}
	}

	if evicted == 0 && soonestKey != "" {
		delete(c.entries, soonestKey)
		evicted++
	}
	if evicted > 0 {
		c.recordEvictions(evicted)
	}
}

// GetStats returns cache performance statistics
func (c *TTLCache[V]) GetStats() CacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// HitRate returns the cache hit rate as a percentage (0-100)
func (c *TTLCache[V]) HitRate() float64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total) * 100
}

func (c *TTLCache[V]) recordHit() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
}

func (c *TTLCache[V]) recordMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}

func (c *TTLCache[V]) recordEvictions(n int) {
	c.statsMu.Lock()
	c.stats.Evictions += int64(n)
	c.stats.LastEviction = time.Now()
	c.statsMu.Unlock()
}
