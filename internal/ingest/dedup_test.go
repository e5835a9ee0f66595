package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupLRU_SeenOrRemember(t *testing.T) {
	d := newDedupLRU(2)

	assert.False(t, d.SeenOrRemember("a"), "first observation must not be seen")
	assert.True(t, d.SeenOrRemember("a"), "replaying the same id must be seen")
}

func TestDedupLRU_EvictsOldestWhenFull(t *testing.T) {
	d := newDedupLRU(2)

	d.SeenOrRemember("a")
	d.SeenOrRemember("b")
	d.SeenOrRemember("c") // evicts "a", the least recently used

	assert.True(t, d.SeenOrRemember("b"), "b was touched more recently than a and must survive eviction")
	assert.False(t, d.SeenOrRemember("a"), "evicted id must be treated as new again")
}

func TestDedupLRU_TouchRefreshesRecency(t *testing.T) {
	d := newDedupLRU(2)

	d.SeenOrRemember("a")
	d.SeenOrRemember("b")
	d.SeenOrRemember("a") // touches a, making b the least recently used
	d.SeenOrRemember("c") // evicts b, not a

	assert.True(t, d.SeenOrRemember("a"))
	assert.False(t, d.SeenOrRemember("b"))
}

func TestDedupLRU_CapacityFloor(t *testing.T) {
	d := newDedupLRU(0)
	assert.Equal(t, 1, d.capacity, "capacity must never be configured below 1")
}
