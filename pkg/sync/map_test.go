package sync_test

import (
	"sort"
	"testing"

	"github.com/hbomb79/Lyre/pkg/sync"
	"github.com/stretchr/testify/assert"
)

func TestTypedSyncMap_StoreLoadDelete(t *testing.T) {
	m := sync.TypedSyncMap[string, int]{}

	_, ok := m.Load("missing")
	assert.False(t, ok)

	m.Store("a", 1)
	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	_, ok = m.Load("a")
	assert.False(t, ok)
}

func TestTypedSyncMap_LoadOrStore(t *testing.T) {
	m := sync.TypedSyncMap[string, int]{}

	v, loaded := m.LoadOrStore("a", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = m.LoadOrStore("a", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, v, "existing value must be returned")
}

func TestTypedSyncMap_RangeAndValues(t *testing.T) {
	m := sync.TypedSyncMap[string, int]{}
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("c", 3)

	values := m.Values()
	sort.Ints(values)
	assert.Equal(t, []int{1, 2, 3}, values)

	seen := 0
	m.Range(func(_ string, _ int) bool {
		seen++
		return false
	})
	assert.Equal(t, 1, seen, "range must stop when callback returns false")
}
