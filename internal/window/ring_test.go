package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushWithinCapacity(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 3; i++ {
		_, evicted := r.Push(i)
		assert.False(t, evicted)
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{1, 2, 3}, r.Slice())
}

func TestRing_EvictsOldestFirst(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 3; i++ {
		r.Push(i)
	}

	old, evicted := r.Push(4)
	require.True(t, evicted)
	assert.Equal(t, 1, old)

	old, evicted = r.Push(5)
	require.True(t, evicted)
	assert.Equal(t, 2, old)

	assert.Equal(t, 3, r.Len(), "length never exceeds capacity")
	assert.Equal(t, []int{3, 4, 5}, r.Slice())
	assert.Equal(t, 3, r.At(0))

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestRing_ManyWraps(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 1000; i++ {
		r.Push(i)
		assert.LessOrEqual(t, r.Len(), r.Cap())
	}
	assert.Equal(t, []int{996, 997, 998, 999}, r.Slice())
}

func TestRing_Empty(t *testing.T) {
	r := New[float64](0)
	assert.Equal(t, 1, r.Cap())
	_, ok := r.Last()
	assert.False(t, ok)
	assert.Empty(t, r.Slice())
	assert.Panics(t, func() { r.At(0) })
}
