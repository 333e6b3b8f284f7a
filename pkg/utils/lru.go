package utils

import (
	"container/list"
	"sync"
)

// An item in the LRU cache.
type LRUItem[K comparable] interface {
	// Unique key of the item.
	Key() K

	// The size of the item in bytes.
	Size() int64
}

// EvictFunc is called when an item is selected for eviction.
// Return false to keep the item, for example because it is still in use.
type EvictFunc[E any] func(item E) bool

// LRU is a size bounded least recently used cache.
// A maximum size of zero or less disables eviction.
type LRU[K comparable, E LRUItem[K]] struct {
	mu      sync.Mutex
	maxSize int64
	size    int64
	order   *list.List // most recently used first
	items   map[K]*list.Element
	onEvict EvictFunc[E]
}

func NewLRU[K comparable, E LRUItem[K]](maxSize int64, onEvict EvictFunc[E]) *LRU[K, E] {
	return &LRU[K, E]{
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[K]*list.Element),
		onEvict: onEvict,
	}
}

// Add an item, replacing any item with the same key.
// Items are then evicted, oldest first, until the cache fits within its
// size limit or no more items agree to be evicted.
func (lru *LRU[K, E]) Add(item E) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, ok := lru.items[item.Key()]; ok {
		lru.order.MoveToFront(ele)
		lru.size += item.Size() - ele.Value.(E).Size()
		ele.Value = item
	} else {
		lru.items[item.Key()] = lru.order.PushFront(item)
		lru.size += item.Size()
	}

	lru.evict()
}

// Evict runs eviction, for example after items became evictable.
func (lru *LRU[K, E]) Evict() {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	lru.evict()
}

func (lru *LRU[K, E]) evict() {
	if lru.maxSize <= 0 {
		return
	}
	for ele := lru.order.Back(); ele != nil && lru.size > lru.maxSize; {
		prev := ele.Prev()
		if lru.onEvict == nil || lru.onEvict(ele.Value.(E)) {
			lru.remove(ele)
		}
		ele = prev
	}
}

// Get an item and mark it as recently used.
func (lru *LRU[K, E]) Get(key K) (item E, ok bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, hit := lru.items[key]; hit {
		lru.order.MoveToFront(ele)
		return ele.Value.(E), true
	}
	return
}

// Peek at an item without marking it as used.
func (lru *LRU[K, E]) Peek(key K) (item E, ok bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, hit := lru.items[key]; hit {
		return ele.Value.(E), true
	}
	return
}

func (lru *LRU[K, E]) remove(ele *list.Element) {
	lru.order.Remove(ele)
	item := ele.Value.(E)
	delete(lru.items, item.Key())
	lru.size -= item.Size()
}

// Remove an item without calling the eviction function.
func (lru *LRU[K, E]) Remove(key K) (item E, ok bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if ele, hit := lru.items[key]; hit {
		lru.remove(ele)
		return ele.Value.(E), true
	}
	return
}

// Number of items in the cache.
func (lru *LRU[K, E]) Count() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.order.Len()
}

// Total size of all items in the cache.
func (lru *LRU[K, E]) Size() int64 {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.size
}
