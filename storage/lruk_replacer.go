package storage

import (
	"container/list"
	"fmt"
	"sync"
)

// lrukEntry is one tracked frame's access history.
type lrukEntry struct {
	frameID     uint32
	accessCount int
}

// LRUKReplacer implements the LRU-K replacement policy: frames with
// fewer than k recorded accesses live in a history list and are
// evicted ahead of "hot" frames with k or more accesses, which live
// in a cache list. Within each list, ties break by recency — the
// tail of each list is its most recently touched frame.
//
// Built on a container/list + map LRU replacer, split into the two
// ordered lists the K-distance policy needs.
type LRUKReplacer struct {
	mu sync.Mutex

	k         int
	numFrames uint32

	historyList *list.List
	historyMap  map[uint32]*list.Element

	cacheList *list.List
	cacheMap  map[uint32]*list.Element

	evictable map[uint32]bool
	size      int
}

// NewLRUKReplacer creates a replacer tracking up to numFrames distinct
// frame ids, evicting by k-th-last access.
func NewLRUKReplacer(numFrames uint32, k int) *LRUKReplacer {
	if k < 1 {
		k = 1
	}
	return &LRUKReplacer{
		k:           k,
		numFrames:   numFrames,
		historyList: list.New(),
		historyMap:  make(map[uint32]*list.Element),
		cacheList:   list.New(),
		cacheMap:    make(map[uint32]*list.Element),
		evictable:   make(map[uint32]bool),
	}
}

func (r *LRUKReplacer) checkBounds(frameID uint32) {
	if frameID >= r.numFrames {
		panic(fmt.Sprintf("LRUKReplacer: frame id %d out of range [0, %d)", frameID, r.numFrames))
	}
}

// RecordAccess implements the placement rule: below k accesses a
// frame lives in the history list (re-inserted at the tail on every
// touch); at exactly k it graduates to the cache list; above k it
// just moves to the cache list's tail.
func (r *LRUKReplacer) RecordAccess(frameID uint32) {
	r.checkBounds(frameID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.cacheMap[frameID]; ok {
		entry := elem.Value.(*lrukEntry)
		entry.accessCount++
		r.cacheList.MoveToBack(elem)
		return
	}

	if elem, ok := r.historyMap[frameID]; ok {
		entry := elem.Value.(*lrukEntry)
		entry.accessCount++
		if entry.accessCount < r.k {
			r.historyList.MoveToBack(elem)
			return
		}
		// Graduates: move from history to the tail of cache.
		r.historyList.Remove(elem)
		delete(r.historyMap, frameID)
		newElem := r.cacheList.PushBack(entry)
		r.cacheMap[frameID] = newElem
		return
	}

	// First-ever access.
	entry := &lrukEntry{frameID: frameID, accessCount: 1}
	if r.k <= 1 {
		r.cacheMap[frameID] = r.cacheList.PushBack(entry)
		return
	}
	r.historyMap[frameID] = r.historyList.PushBack(entry)
}

// SetEvictable toggles whether frameID may be returned by Evict.
func (r *LRUKReplacer) SetEvictable(frameID uint32, evictable bool) {
	r.checkBounds(frameID)

	r.mu.Lock()
	defer r.mu.Unlock()

	_, inHistory := r.historyMap[frameID]
	_, inCache := r.cacheMap[frameID]
	if !inHistory && !inCache {
		return
	}

	cur := r.evictable[frameID]
	if cur == evictable {
		return
	}
	r.evictable[frameID] = evictable
	if evictable {
		r.size++
	} else {
		r.size--
	}
}

// Evict scans the history list head-to-tail first, then the cache
// list, returning the first evictable frame found.
func (r *LRUKReplacer) Evict() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for elem := r.historyList.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*lrukEntry)
		if r.evictable[entry.frameID] {
			r.historyList.Remove(elem)
			delete(r.historyMap, entry.frameID)
			delete(r.evictable, entry.frameID)
			r.size--
			return entry.frameID, true
		}
	}

	for elem := r.cacheList.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*lrukEntry)
		if r.evictable[entry.frameID] {
			r.cacheList.Remove(elem)
			delete(r.cacheMap, entry.frameID)
			delete(r.evictable, entry.frameID)
			r.size--
			return entry.frameID, true
		}
	}

	return 0, false
}

// Remove forcibly drops a tracked frame's history. It is a no-op for
// an untracked frame, but panics if the frame is tracked and not
// evictable.
func (r *LRUKReplacer) Remove(frameID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	historyElem, inHistory := r.historyMap[frameID]
	cacheElem, inCache := r.cacheMap[frameID]
	if !inHistory && !inCache {
		return
	}

	if !r.evictable[frameID] {
		panic(fmt.Sprintf("LRUKReplacer: cannot remove non-evictable frame %d", frameID))
	}

	if inHistory {
		r.historyList.Remove(historyElem)
		delete(r.historyMap, frameID)
	} else {
		r.cacheList.Remove(cacheElem)
		delete(r.cacheMap, frameID)
	}
	delete(r.evictable, frameID)
	r.size--
}

// Size returns the number of tracked frames currently evictable.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
