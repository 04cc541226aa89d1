package queue

import "container/heap"

// qItem wraps a Message with the index container/heap needs to support
// heap.Remove from the middle of the heap — the same index-tracking shape
// as the standard library's own PriorityQueue example, used here so the
// backpressure trim (spec §4.4) can evict specific stale ice-candidate
// entries without rebuilding the whole heap.
type qItem struct {
	msg   *Message
	index int
}

// priorityHeap orders items by (priority asc, enqueuedAt asc) — spec §3
// "Ordering: by (priority asc, enqueuedAt asc); ... ties within a priority
// class are FIFO."
type priorityHeap []*qItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority < h[j].msg.Priority
	}
	return h[i].msg.EnqueuedAt.Before(h[j].msg.EnqueuedAt)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*qItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityHeap)(nil)
