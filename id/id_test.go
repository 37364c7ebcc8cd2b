package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsMonotonic(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	g := NewGenerator(func() time.Time { return fixed })

	prev := g.Next()
	for i := 0; i < 100; i++ {
		next := g.Next()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestWithPrefixAndTime(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	g := NewGenerator(func() time.Time { return fixed })

	s := g.WithPrefix("ord")
	require.True(t, strings.HasPrefix(s, "ord-"))

	ts, ok := Time(s)
	require.True(t, ok)
	assert.True(t, ts.Equal(fixed))

	_, ok = Time("not-an-id")
	assert.False(t, ok)
}

func TestOrderUnique(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		o := Order()
		assert.False(t, seen[o])
		seen[o] = true
	}
}
