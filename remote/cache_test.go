package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCacheEvictsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	cache := newQueryCache(3, time.Minute)
	cache.set("a", "EventSets", json.RawMessage(`1`))
	cache.set("b", "EventSets", json.RawMessage(`2`))
	cache.set("c", "EventSets", json.RawMessage(`3`))
	require.Equal(t, 3, cache.len())

	cache.set("d", "EventSets", json.RawMessage(`4`))

	assert.Equal(t, 3, cache.len())
	_, ok := cache.get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	for _, key := range []string{"b", "c", "d"} {
		_, ok := cache.get(key)
		assert.True(t, ok, "entry %s should survive eviction", key)
	}
}

func TestQueryCacheEvictionIsInsertionOrderedNotLRU(t *testing.T) {
	t.Parallel()

	cache := newQueryCache(2, time.Minute)
	cache.set("a", "EventSets", json.RawMessage(`1`))
	cache.set("b", "EventSets", json.RawMessage(`2`))

	// Touching "a" must not save it: eviction follows insertion order.
	_, ok := cache.get("a")
	require.True(t, ok)
	cache.set("a", "EventSets", json.RawMessage(`1x`))

	cache.set("c", "EventSets", json.RawMessage(`3`))

	_, ok = cache.get("a")
	assert.False(t, ok, "oldest inserted entry goes first even if recently used")
	_, ok = cache.get("b")
	assert.True(t, ok)
}

func TestQueryCacheTTLExpiry(t *testing.T) {
	t.Parallel()

	cache := newQueryCache(10, 20*time.Millisecond)
	cache.set("a", "EventSets", json.RawMessage(`1`))

	_, ok := cache.get("a")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, ok = cache.get("a")
	assert.False(t, ok, "entry should expire after its TTL")
	assert.Equal(t, 0, cache.len())
}

func TestQueryCacheInvalidateOperations(t *testing.T) {
	t.Parallel()

	cache := newQueryCache(10, time.Minute)
	cache.set("sets:1", "EventSets", json.RawMessage(`1`))
	cache.set("sets:2", "EventSets", json.RawMessage(`2`))
	cache.set("entrants:1", "EventEntrants", json.RawMessage(`3`))

	cache.invalidateOperations([]string{"EventSets"})

	_, ok := cache.get("sets:1")
	assert.False(t, ok)
	_, ok = cache.get("sets:2")
	assert.False(t, ok)
	_, ok = cache.get("entrants:1")
	assert.True(t, ok, "other query families must survive invalidation")
}
