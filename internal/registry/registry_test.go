package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct{ n int }

func TestAppendFind(t *testing.T) {
	r := New[*item]("owner")
	a, b, c := &item{1}, &item{2}, &item{3}
	r.Append(a)
	r.Append(b)
	r.Append(c)

	assert.Equal(t, "owner", r.Owner())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 0, r.Find(a))
	assert.Equal(t, 2, r.Find(c))
	// identity, not value equality
	assert.Equal(t, -1, r.Find(&item{2}))
	assert.Equal(t, -1, r.Find(nil))
}

func TestAppendIgnoresNil(t *testing.T) {
	r := New[*item](nil)
	r.Append(nil)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Cap())
}

func TestRemoveLeavesHole(t *testing.T) {
	r := New[*item](nil)
	a, b, c := &item{1}, &item{2}, &item{3}
	r.Append(a)
	r.Append(b)
	r.Append(c)

	require.True(t, r.Remove(b))
	assert.False(t, r.Remove(b))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Nil(t, r.At(1))
	// c keeps its index until compaction
	assert.Equal(t, 2, r.Find(c))
}

func TestCompactPreservesOrder(t *testing.T) {
	r := New[*item](nil)
	items := make([]*item, 6)
	for i := range items {
		items[i] = &item{i}
		r.Append(items[i])
	}
	r.Remove(items[0])
	r.Remove(items[3])
	r.Remove(items[5])
	r.Compact()

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []*item{items[1], items[2], items[4]}, r.Snapshot())
}

func TestRemoveDuringEach(t *testing.T) {
	r := New[*item](nil)
	items := make([]*item, 5)
	for i := range items {
		items[i] = &item{i}
		r.Append(items[i])
	}

	var visited []int
	r.Each(func(i int, v *item) bool {
		visited = append(visited, v.n)
		// removing the current and the next entry must not skip or repeat
		r.Remove(v)
		if v.n == 1 {
			r.Remove(items[2])
		}
		return true
	})
	assert.Equal(t, []int{0, 1, 3, 4}, visited)
	assert.Equal(t, 0, r.Len())
}

func TestEachStops(t *testing.T) {
	r := New[*item](nil)
	for i := 0; i < 4; i++ {
		r.Append(&item{i})
	}
	count := 0
	r.Each(func(int, *item) bool {
		count++
		return count < 2
	})
	assert.Equal(t, 2, count)
}

func TestDestroy(t *testing.T) {
	r := New[*item](nil)
	a := &item{1}
	r.Append(a)
	r.Destroy()

	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Snapshot())
	assert.False(t, r.Remove(a))

	r.Append(a)
	assert.Equal(t, 0, r.Len(), "append after destroy is ignored")
}

func TestNilRegistry(t *testing.T) {
	var r *Registry[*item]
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, -1, r.Find(&item{}))
	assert.Nil(t, r.Snapshot())
	r.Destroy()
}
