package adjacency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_AddRemoveAreIdempotent(t *testing.T) {
	s := NewSet()
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"))
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Equal(t, 0, s.Len())
}

func TestSet_Algebra(t *testing.T) {
	a := NewSet("x", "y", "z")
	b := NewSet("y", "z", "w")

	assert.Equal(t, []string{"y", "z"}, a.Intersect(b).Sorted())
	assert.Equal(t, []string{"y", "z"}, b.Intersect(a).Sorted())
	assert.Equal(t, []string{"x"}, a.Difference(b).Sorted())
	assert.Equal(t, []string{"w"}, b.Difference(a).Sorted())
	assert.Empty(t, a.Difference(a).Sorted())

	assert.True(t, NewSet("y", "z").Equal(a.Intersect(b)))
	assert.False(t, a.Equal(b))
	assert.True(t, NewSet().Equal(NewSet()))
}

func TestNewSet_DropsDuplicates(t *testing.T) {
	s := NewSet("a", "a", "b")
	assert.Equal(t, []string{"a", "b"}, s.Sorted())
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has("c"))
}
