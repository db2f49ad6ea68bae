package reactor

import "container/heap"

// heapItem is anything orderable and identifiable that can live in a
// minHeap: Less defines heap order, and the heap maintains an index→
// position map keyed by the item itself so Delete can locate it in
// O(log n) instead of scanning.
type heapItem interface {
	// heapLess reports whether this item sorts before other.
	heapLess(other heapItem) bool
}

// minHeap is a binary min-heap over heapItem, following the same
// container/heap shape the reactor's timer queue (scheduler.go) uses,
// generalized with an identity→position index so arbitrary elements can
// be deleted in O(log n) rather than only popped from the root.
//
// Duplicates (by pointer identity) are rejected on Push to keep the
// index map well-defined, matching spec.md §4.4; timers are always
// unique records so this never rejects a legitimate timer.
type minHeap struct {
	items []heapItem
	index map[heapItem]int
}

func newMinHeap() *minHeap {
	return &minHeap{index: make(map[heapItem]int)}
}

func (h *minHeap) Len() int { return len(h.items) }

func (h *minHeap) Less(i, j int) bool { return h.items[i].heapLess(h.items[j]) }

func (h *minHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i]] = i
	h.index[h.items[j]] = j
}

func (h *minHeap) Push(x any) {
	item := x.(heapItem)
	h.index[item] = len(h.items)
	h.items = append(h.items, item)
}

func (h *minHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	delete(h.index, item)
	return item
}

// pushItem inserts item, ignoring it if an identical (by pointer
// identity) item is already present. Reports whether item was inserted.
func (h *minHeap) pushItem(item heapItem) bool {
	if _, exists := h.index[item]; exists {
		return false
	}
	heap.Push(h, item)
	return true
}

// peek returns the minimum item without removing it, or nil if empty.
func (h *minHeap) peek() heapItem {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// popItem removes and returns the minimum item, or nil if empty.
func (h *minHeap) popItem() heapItem {
	if len(h.items) == 0 {
		return nil
	}
	return heap.Pop(h).(heapItem)
}

// deleteItem removes item from the heap in O(log n) using the
// identity→position index, restoring heap order. Reports whether item
// was present.
func (h *minHeap) deleteItem(item heapItem) bool {
	idx, ok := h.index[item]
	if !ok {
		return false
	}
	heap.Remove(h, idx)
	return true
}

// length reports the number of items currently in the heap.
func (h *minHeap) length() int {
	return len(h.items)
}
