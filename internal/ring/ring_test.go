package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferKeepsInsertionOrder(t *testing.T) {
	b := New[int](3)
	assert.False(t, b.Push(1))
	assert.False(t, b.Push(2))
	assert.Equal(t, []int{1, 2}, b.Items())
	assert.Equal(t, 2, b.Len())
}

func TestBufferEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 3; i++ {
		b.Push(i)
	}
	assert.True(t, b.Push(4))
	assert.True(t, b.Push(5))
	assert.Equal(t, []int{3, 4, 5}, b.Items())
	assert.Equal(t, 3, b.Len())

	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestBufferItemsIsCopy(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	items := b.Items()
	items[0] = 42
	assert.Equal(t, []int{1}, b.Items())
}

func TestBufferZeroCapacity(t *testing.T) {
	b := New[string](0)
	assert.Equal(t, 1, b.Cap())
	b.Push("a")
	b.Push("b")
	assert.Equal(t, []string{"b"}, b.Items())

	empty := New[string](4)
	_, ok := empty.Last()
	assert.False(t, ok)
}
