package storage

import (
	"sync"
)

// PageSize is the fixed size, in bytes, of every page the buffer pool
// manages. It is a compile-time constant; the core has no notion of
// variable-size pages.
const PageSize = 4096

// InvalidPageID is the sentinel page id meaning "no page resident."
const InvalidPageID int32 = -1

// Page is one frame's worth of in-memory state: a fixed byte buffer
// plus the metadata the buffer pool needs to arbitrate access to it.
// The byte buffer is opaque to this package — what a page's bytes mean
// is a concern of whatever sits above the buffer pool.
type Page struct {
	mu       sync.RWMutex
	pageID   int32
	pinCount int32
	isDirty  bool
	data     [PageSize]byte
}

// NewPage returns a page slot initialized to hold no page.
func NewPage() *Page {
	return &Page{pageID: InvalidPageID}
}

// PageID returns the id of the page currently resident in this frame.
func (p *Page) PageID() int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pageID
}

// PinCount returns the number of outstanding pins on this frame.
func (p *Page) PinCount() int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pinCount
}

// IsDirty reports whether the frame's bytes differ from what's on disk.
func (p *Page) IsDirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isDirty
}

// Data returns the frame's byte buffer. Callers holding a pin may read
// and write through the returned slice; synchronizing concurrent
// writers above the pin is the caller's responsibility.
func (p *Page) Data() []byte {
	return p.data[:]
}

// reset clears a frame's metadata and bytes ahead of reassignment to a
// new page id. Callers must hold the buffer pool's latch.
func (p *Page) reset(pageID int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageID = pageID
	p.pinCount = 0
	p.isDirty = false
	for i := range p.data {
		p.data[i] = 0
	}
}

func (p *Page) pin() {
	p.mu.Lock()
	p.pinCount++
	p.mu.Unlock()
}

// unpin decrements the pin count and reports whether it reaches zero.
// Returns false (and leaves the count alone) if already at zero.
func (p *Page) unpin() (reachedZero bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pinCount == 0 {
		return false, false
	}
	p.pinCount--
	return p.pinCount == 0, true
}

// markDirty applies sticky-OR semantics: once dirty, a page stays
// dirty until it is flushed, regardless of later unpin arguments.
func (p *Page) markDirty(dirty bool) {
	if !dirty {
		return
	}
	p.mu.Lock()
	p.isDirty = true
	p.mu.Unlock()
}

func (p *Page) clearDirty() {
	p.mu.Lock()
	p.isDirty = false
	p.mu.Unlock()
}
