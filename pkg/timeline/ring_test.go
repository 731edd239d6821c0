package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_EvictsOldest(t *testing.T) {
	r := newRing[int](3)

	for i := 1; i <= 3; i++ {
		_, evicted := r.push(i)
		assert.False(t, evicted)
	}
	assert.Equal(t, []int{1, 2, 3}, r.items())

	old, evicted := r.push(4)
	assert.True(t, evicted)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, r.items())
	assert.Equal(t, 3, r.len())

	var seen []int
	r.each(func(v int) bool {
		seen = append(seen, v)
		return v < 3
	})
	assert.Equal(t, []int{2, 3}, seen)
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := newRing[string](0)
	r.push("a")
	r.push("b")
	assert.Equal(t, []string{"b"}, r.items())
}
