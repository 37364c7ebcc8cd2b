package execution

import "container/heap"

type item struct {
	req   OrderRequest
	seq   uint64
	index int
}

// orderQueue orders by priority, highest first, then by submission.
type orderQueue []*item

func (q orderQueue) Len() int { return len(q) }

func (q orderQueue) Less(i, j int) bool {
	if q[i].req.Priority != q[j].req.Priority {
		return q[i].req.Priority > q[j].req.Priority
	}
	return q[i].seq < q[j].seq
}

func (q orderQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *orderQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *orderQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

func (q *orderQueue) push(it *item) { heap.Push(q, it) }

func (q *orderQueue) pop() (*item, bool) {
	if q.Len() == 0 {
		return nil, false
	}
	return heap.Pop(q).(*item), true
}

func (q *orderQueue) remove(it *item) {
	if it.index >= 0 && it.index < q.Len() {
		heap.Remove(q, it.index)
	}
}
