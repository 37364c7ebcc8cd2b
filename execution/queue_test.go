package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderQueue_PriorityThenFIFO(t *testing.T) {
	t.Parallel()
	var q orderQueue
	in := []struct {
		id string
		p  Priority
	}{
		{"a", Low}, {"b", Normal}, {"c", High}, {"d", Normal}, {"e", Emergency}, {"f", Low},
	}
	for i, x := range in {
		q.push(&item{req: OrderRequest{ID: x.id, Priority: x.p}, seq: uint64(i)})
	}

	var got []string
	for {
		it, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, it.req.ID)
	}
	assert.Equal(t, []string{"e", "c", "b", "d", "a", "f"}, got)
}

func TestOrderQueue_Remove(t *testing.T) {
	t.Parallel()
	var q orderQueue
	items := make([]*item, 4)
	for i := range items {
		items[i] = &item{req: OrderRequest{ID: string(rune('a' + i))}, seq: uint64(i)}
		q.push(items[i])
	}
	q.remove(items[1])
	q.remove(items[1])
	assert.Equal(t, 3, q.Len())

	it, _ := q.pop()
	assert.Equal(t, "a", it.req.ID)
	it, _ = q.pop()
	assert.Equal(t, "c", it.req.ID)
}

func TestParsePriority(t *testing.T) {
	t.Parallel()
	for _, p := range []Priority{Low, Normal, High, Emergency} {
		got, err := ParsePriority(p.String())
		assert.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParsePriority("")
	assert.NoError(t, err)
	assert.Equal(t, Normal, got)
	_, err = ParsePriority("urgent")
	assert.Error(t, err)
}
