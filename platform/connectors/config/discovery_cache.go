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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultDiscoveryTTL is how long a discovered database list is reused
const DefaultDiscoveryTTL = 300 * time.Second

// DiscoveryKey derives the cache key for a server configuration id
func DiscoveryKey(serverConfigID int64) string {
	return "discovery:" + strconv.FormatInt(serverConfigID, 10)
}

// DiscoveryCache memoizes discovered database name lists.
// Implementations must be safe for concurrent use.
type DiscoveryCache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Set(ctx context.Context, key string, names []string, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// MemoryDiscoveryCache is the in-process DiscoveryCache
type MemoryDiscoveryCache struct {
	cache *TTLCache[[]string]
}

// NewMemoryDiscoveryCache creates an in-process cache. maxEntries <= 0 is unbounded.
func NewMemoryDiscoveryCache(ttl time.Duration, maxEntries int) *MemoryDiscoveryCache {
	return &MemoryDiscoveryCache{cache: NewTTLCache[[]string](ttl, maxEntries)}
}

// Get returns a copy of the cached list so callers cannot mutate the entry
func (m *MemoryDiscoveryCache) Get(ctx context.Context, key string) ([]string, bool) {
	names, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	return append([]string(nil), names...), true
}

func (m *MemoryDiscoveryCache) Set(ctx context.Context, key string, names []string, ttl time.Duration) {
	m.cache.Set(key, append([]string{}, names...), ttl)
}

func (m *MemoryDiscoveryCache) Delete(ctx context.Context, key string) {
	m.cache.Delete(key)
}

// Stats exposes the underlying cache statistics
func (m *MemoryDiscoveryCache) Stats() CacheStats {
	return m.cache.GetStats()
}

// StartPeriodicCleanup starts a background goroutine that drops expired entries
func (m *MemoryDiscoveryCache) StartPeriodicCleanup(ctx context.Context, interval time.Duration, logger *log.Logger) {
	if logger == nil {
		logger = log.New(os.Stdout, "[DISCOVERY_CACHE] ", log.LstdFlags)
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Println("Stopping periodic cache cleanup")
				return
			case <-ticker.C:
				if evicted := m.cache.Cleanup(); evicted > 0 {
					logger.Printf("Cleaned up %d expired cache entries", evicted)
				}
			}
		}
	}()
}

// RedisDiscoveryCache shares discovery results between replicas. Redis
// failures degrade to a cache miss: discovery is always safe to repeat.
type RedisDiscoveryCache struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	logger     *log.Logger
}

// NewRedisDiscoveryCache connects to redisURL (redis://host:port/db) and verifies it with PING
func NewRedisDiscoveryCache(ctx context.Context, redisURL, keyPrefix string, defaultTTL time.Duration) (*RedisDiscoveryCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDiscoveryCacheWithClient(client, keyPrefix, defaultTTL), nil
}

// NewRedisDiscoveryCacheWithClient wraps an existing client
func NewRedisDiscoveryCacheWithClient(client *redis.Client, keyPrefix string, defaultTTL time.Duration) *RedisDiscoveryCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultDiscoveryTTL
	}
	if keyPrefix == "" {
		keyPrefix = "catalogsync:"
	}
	return &RedisDiscoveryCache{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		logger:     log.New(os.Stdout, "[DISCOVERY_CACHE_REDIS] ", log.LstdFlags),
	}
}

func (r *RedisDiscoveryCache) Get(ctx context.Context, key string) ([]string, bool) {
	data, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.logger.Printf("Warning: cache read failed for %s: %v (treating as miss)", key, err)
		return nil, false
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		r.logger.Printf("Warning: discarding corrupt cache entry %s: %v", key, err)
		r.Delete(ctx, key)
		return nil, false
	}
	return names, true
}

func (r *RedisDiscoveryCache) Set(ctx context.Context, key string, names []string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if names == nil {
		names = []string{}
	}

	data, err := json.Marshal(names)
	if err != nil {
		r.logger.Printf("Warning: failed to encode cache entry %s: %v", key, err)
		return
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err(); err != nil {
		r.logger.Printf("Warning: cache write failed for %s: %v", key, err)
	}
}

func (r *RedisDiscoveryCache) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		r.logger.Printf("Warning: cache delete failed for %s: %v", key, err)
	}
}

// Close releases the Redis connection pool
func (r *RedisDiscoveryCache) Close() error {
	return r.client.Close()
}
