// Package util
//
// This file provides a keyed min-heap used to schedule entity expiry.
//
// The heap orders string keys by a uint64 deadline (a block number for the entity store) and
// keeps a map from key to heap slot, so a deadline can be moved or dropped in O(log n) when an
// entity is extended, updated or deleted before it lapses.
//
//   - O(log n) for Push, Pop, AddItem (insert or move) and RemoveByKey
//   - O(1) for Contains, GetByKey and Peek
//
// The heap is not thread-safe; owners guard it with their own lock.
//
// Example usage:
//
//	expiry := NewMapHeap()
//	expiry.AddItem("0xabc", 1200)
//	expiry.AddItem("0xdef", 900)
//
//	// collect everything due at block 1000
//	for _, key := range expiry.PopDue(1000) {
//	    delete(entities, key)
//	}
package util

import (
	"container/heap"
	"strconv"
)

// item is a single scheduled key
type item struct {
	Key      string // entity key
	Priority uint64 // deadline, smaller is due earlier
	index    int    // slot in the heap, maintained by container/heap
}

func (i *item) String() string {
	return "{Key: " + i.Key + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// MapHeap is a min-heap of keys ordered by priority with key-based access
type MapHeap struct {
	items    []*item
	itemsMap map[string]*item
}

// NewMapHeap creates an empty, initialised heap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items:    make([]*item, 0),
		itemsMap: make(map[string]*item),
	}
}

// Len returns the number of scheduled keys (part of heap.Interface)
func (mh *MapHeap) Len() int { return len(mh.items) }

// Less orders by deadline (part of heap.Interface)
func (mh *MapHeap) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface, use AddItem instead)
func (mh *MapHeap) Push(x any) {
	it := x.(*item)
	it.index = len(mh.items)
	mh.items = append(mh.items, it)
	mh.itemsMap[it.Key] = it
}

// Pop removes and returns the last item (part of heap.Interface, use heap.Pop or PopDue)
func (mh *MapHeap) Pop() any {
	old := mh.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, it.Key)
	return it
}

// AddItem schedules key at priority, or moves it if it is already scheduled
func (mh *MapHeap) AddItem(key string, priority uint64) {
	if it, exists := mh.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(mh, it.index)
		return
	}
	heap.Push(mh, &item{Key: key, Priority: priority})
}

// RemoveByKey unschedules key and returns its priority
func (mh *MapHeap) RemoveByKey(key string) (uint64, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, it.index)
	return it.Priority, true
}

// Peek returns the earliest item without removing it
func (mh *MapHeap) Peek() (*item, bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// PopDue removes and returns every key whose priority is <= limit, earliest first
func (mh *MapHeap) PopDue(limit uint64) []string {
	var due []string
	for len(mh.items) > 0 && mh.items[0].Priority <= limit {
		it := heap.Pop(mh).(*item)
		due = append(due, it.Key)
	}
	return due
}

// Contains checks if a key is scheduled
func (mh *MapHeap) Contains(key string) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (mh *MapHeap) GetByKey(key string) (*item, bool) {
	it, exists := mh.itemsMap[key]
	return it, exists
}
