package core

import (
	"container/heap"
	"sync"
)

type queueItem struct {
	id       string
	priority Priority
	seq      int64
	index    int
}

type queueHeap []*queueItem

func (h queueHeap) Len() int { return len(h) }

func (h queueHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h queueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *queueHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is the ready set: task IDs ordered by priority, then by
// submission sequence.
type Queue struct {
	items queueHeap
	index map[string]*queueItem
	mutex sync.RWMutex
}

func NewQueue() *Queue {
	return &Queue{
		index: make(map[string]*queueItem),
	}
}

// Add inserts id, or repositions it if already present.
func (q *Queue) Add(id string, priority Priority, seq int64) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if item, ok := q.index[id]; ok {
		item.priority = priority
		item.seq = seq
		heap.Fix(&q.items, item.index)
		return
	}

	item := &queueItem{id: id, priority: priority, seq: seq}
	heap.Push(&q.items, item)
	q.index[id] = item
}

// Next removes and returns the highest-ranked id.
func (q *Queue) Next() (string, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.items) == 0 {
		return "", false
	}
	item := heap.Pop(&q.items).(*queueItem)
	delete(q.index, item.id)
	return item.id, true
}

// Remove drops id and reports whether it was queued.
func (q *Queue) Remove(id string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	item, ok := q.index[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.index, id)
	return true
}

// SetPriority repositions a queued id.
func (q *Queue) SetPriority(id string, priority Priority) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	item, ok := q.index[id]
	if !ok {
		return false
	}
	item.priority = priority
	heap.Fix(&q.items, item.index)
	return true
}

func (q *Queue) Contains(id string) bool {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	_, ok := q.index[id]
	return ok
}

func (q *Queue) Len() int {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	return len(q.items)
}

// GetAll returns the queued ids in dispatch order.
func (q *Queue) GetAll() []string {
	q.mutex.RLock()
	snapshot := make(queueHeap, len(q.items))
	for i, item := range q.items {
		c := *item
		snapshot[i] = &c
	}
	q.mutex.RUnlock()

	result := make([]string, 0, len(snapshot))
	for snapshot.Len() > 0 {
		result = append(result, heap.Pop(&snapshot).(*queueItem).id)
	}
	return result
}
