package storage

import (
	"fmt"
	"sync"
	"time"
)

// BufferPoolManager owns a fixed array of frames and arbitrates which
// disk page occupies each one. It is the one component clients talk
// to directly; the extendible hash index and the replacer are its
// internal collaborators.
//
// A single latch protects all pool state — frame metadata, the free
// list, the page table, and replacer consultation — for the lifetime
// of every public operation. The index and replacer hold their own
// internal latches too, so they stay correct if driven directly.
type BufferPoolManager struct {
	mu sync.Mutex

	poolSize    uint32
	frames      []*Page
	freeList    []uint32
	pageTable   *ExtendibleHashIndex
	replacer    Replacer
	diskManager DiskManager
	metrics     *Metrics
}

// NewBufferPoolManager constructs a pool of poolSize frames backed by
// diskManager. k is the LRU-K replacer parameter; bucketSize bounds
// the page table's bucket capacity before it splits. metrics may be
// nil, in which case a fresh Metrics is created.
func NewBufferPoolManager(poolSize uint32, diskManager DiskManager, k int, bucketSize int, metrics *Metrics) (*BufferPoolManager, error) {
	if poolSize == 0 {
		return nil, fmt.Errorf("buffer pool size must be greater than 0")
	}
	if diskManager == nil {
		return nil, fmt.Errorf("disk manager must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	frames := make([]*Page, poolSize)
	freeList := make([]uint32, poolSize)
	for i := range frames {
		frames[i] = NewPage()
		freeList[i] = uint32(i)
	}

	return &BufferPoolManager{
		poolSize:    poolSize,
		frames:      frames,
		freeList:    freeList,
		pageTable:   NewExtendibleHashIndex(bucketSize),
		replacer:    NewReplacer(poolSize, k),
		diskManager: diskManager,
		metrics:     metrics,
	}, nil
}

// PoolSize returns the number of frames the pool was constructed with.
func (bpm *BufferPoolManager) PoolSize() uint32 {
	return bpm.poolSize
}

// Metrics returns the pool's metrics tracker.
func (bpm *BufferPoolManager) Metrics() *Metrics {
	return bpm.metrics
}

// acquireFrame implements steps 1-4 of the shared miss-handling
// algorithm: take a free frame if one exists, else evict a victim
// chosen by the replacer (writing its dirty bytes back first and
// dropping its page-table entry). Returns ok=false if nothing is free
// and nothing is evictable — the caller's cue to report absence, not
// an error.
//
// A write-back failure aborts the eviction: the victim frame is
// pinned in place (so it is not picked again by a retry racing the
// same broken disk) rather than handed back half-reclaimed, and the
// disk error is returned to the caller.
func (bpm *BufferPoolManager) acquireFrame() (frameID uint32, ok bool, err error) {
	if len(bpm.freeList) > 0 {
		frameID = bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
		return frameID, true, nil
	}

	victim, evicted := bpm.replacer.Evict()
	if !evicted {
		return 0, false, nil
	}

	frame := bpm.frames[victim]
	oldPageID := frame.PageID()

	if frame.IsDirty() {
		if werr := bpm.diskManager.WritePage(oldPageID, frame.Data()); werr != nil {
			frame.pin()
			return 0, false, ErrDiskWrite("acquireFrame", oldPageID, werr)
		}
		frame.clearDirty()
		bpm.metrics.RecordDirtyPageFlush()
	}

	bpm.pageTable.Remove(oldPageID)
	bpm.metrics.RecordPageEviction()
	return victim, true, nil
}

// NewPage allocates a fresh page id and brings up an empty, pinned
// frame holding it, marked dirty since its bytes have never been
// written to disk. Returns (nil, nil) if no frame is free and no
// frame is evictable.
func (bpm *BufferPoolManager) NewPage() (*Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok, err := bpm.acquireFrame()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	pageID := bpm.diskManager.AllocatePage()
	frame := bpm.frames[frameID]
	frame.reset(pageID)
	frame.pin()
	frame.markDirty(true)

	bpm.pageTable.Insert(pageID, frameID)
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	return frame, nil
}

// FetchPage returns the frame holding pageID, reading it in from disk
// if it isn't already resident. Pin count is incremented either way.
// Returns (nil, nil) if no frame is free and no frame is evictable.
func (bpm *BufferPoolManager) FetchPage(pageID int32) (*Page, error) {
	start := time.Now()
	defer func() {
		bpm.metrics.RecordPageFetchLatency(time.Since(start))
	}()

	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable.Find(pageID); ok {
		bpm.metrics.RecordCacheHit()
		frame := bpm.frames[frameID]
		frame.pin()
		bpm.replacer.RecordAccess(frameID)
		bpm.replacer.SetEvictable(frameID, false)
		return frame, nil
	}

	bpm.metrics.RecordCacheMiss()

	frameID, ok, err := bpm.acquireFrame()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	data, rerr := bpm.diskManager.ReadPage(pageID)
	if rerr != nil {
		bpm.frames[frameID].reset(InvalidPageID)
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, ErrDiskRead("FetchPage", pageID, rerr)
	}

	frame := bpm.frames[frameID]
	frame.reset(pageID)
	copy(frame.Data(), data)
	frame.pin()

	bpm.pageTable.Insert(pageID, frameID)
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	return frame, nil
}

// UnpinPage decrements pageID's pin count and, if isDirty, marks its
// frame dirty (sticky-OR: a later UnpinPage(id, false) never clears a
// dirty bit set by an earlier call). Returns false if pageID is not
// resident or its pin count is already zero. When the pin count
// reaches zero the frame becomes evictable.
func (bpm *BufferPoolManager) UnpinPage(pageID int32, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}

	frame := bpm.frames[frameID]
	reachedZero, unpinned := frame.unpin()
	if !unpinned {
		return false
	}
	frame.markDirty(isDirty)

	if reachedZero {
		bpm.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes pageID's frame to disk and clears its dirty bit.
// Returns false if pageID is not resident.
func (bpm *BufferPoolManager) FlushPage(pageID int32) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false, nil
	}

	frame := bpm.frames[frameID]

	start := time.Now()
	err := bpm.diskManager.WritePage(pageID, frame.Data())
	bpm.metrics.RecordPageFlushLatency(time.Since(start))
	if err != nil {
		return false, ErrDiskWrite("FlushPage", pageID, err)
	}

	frame.clearDirty()
	return true, nil
}

// FlushAllPages writes every resident frame's bytes to disk as one
// batch, amortizing the disk collaborator's durability barrier across
// all of them. Frames holding InvalidPageID are skipped.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	type resident struct {
		frame    *Page
		wasDirty bool
	}

	residents := make([]resident, 0, bpm.poolSize)
	writes := make([]PageWrite, 0, bpm.poolSize)
	for _, frame := range bpm.frames {
		pageID := frame.PageID()
		if pageID == InvalidPageID {
			continue
		}
		data := make([]byte, PageSize)
		copy(data, frame.Data())
		writes = append(writes, PageWrite{PageID: pageID, Data: data})
		residents = append(residents, resident{frame: frame, wasDirty: frame.IsDirty()})
	}

	if len(writes) == 0 {
		return nil
	}

	start := time.Now()
	err := bpm.diskManager.WritePagesV(writes)
	bpm.metrics.RecordPageFlushLatency(time.Since(start))
	if err != nil {
		return fmt.Errorf("flush all pages: %w", err)
	}

	for _, r := range residents {
		r.frame.clearDirty()
		if r.wasDirty {
			bpm.metrics.RecordDirtyPageFlush()
		}
	}
	return nil
}

// DeletePage removes pageID from the pool and releases its id back to
// the disk collaborator. Returns true if pageID was already absent.
// Returns false, leaving the page untouched, if it is still pinned.
// On success the frame's dirty bit is cleared without writing back,
// its metadata resets to InvalidPageID, it returns to the free list,
// and the replacer stops tracking it.
func (bpm *BufferPoolManager) DeletePage(pageID int32) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return true, nil
	}

	frame := bpm.frames[frameID]
	if frame.PinCount() > 0 {
		return false, nil
	}

	bpm.replacer.Remove(frameID)
	bpm.pageTable.Remove(pageID)
	frame.reset(InvalidPageID)
	bpm.freeList = append(bpm.freeList, frameID)

	if err := bpm.diskManager.DeallocatePage(pageID); err != nil {
		return true, fmt.Errorf("deallocate page %d: %w", pageID, err)
	}
	return true, nil
}
