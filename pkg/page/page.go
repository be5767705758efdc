// Package page implements the fixed-size page and buffer-pool abstractions
// that the hash index is built on top of.
package page

import (
	"sync"
	"sync/atomic"
)

// InvalidPageID is the sentinel page id meaning "no page".
const InvalidPageID int64 = -1

// Page caches one fixed-size page from disk and carries its pin/latch state.
type Page struct {
	pager    *Pager       // the pager this page belongs to
	pageID   int64        // unique identifier, also its offset (in pages) within the backing file
	pinCount atomic.Int64 // number of active references to this page
	dirty    bool         // whether the page's data has changed and needs to be written to disk
	rwlock   sync.RWMutex // reader/writer latch on the page itself
	data     []byte       // the page's raw bytes
}

// Pager returns the pager this page belongs to.
func (p *Page) Pager() *Pager {
	return p.pager
}

// ID returns the page's id.
func (p *Page) ID() int64 {
	return p.pageID
}

// IsDirty reports whether the page's data needs to be flushed to disk.
func (p *Page) IsDirty() bool {
	return p.dirty
}

// SetDirty changes the dirty status of a page.
func (p *Page) SetDirty(dirty bool) {
	p.dirty = dirty
}

// Data returns the page's raw byte buffer.
func (p *Page) Data() []byte {
	return p.data
}

// pin increments the pin count, indicating another caller is using this page.
func (p *Page) pin() {
	p.pinCount.Add(1)
}

// unpin decrements the pin count, returning the count after the decrement.
func (p *Page) unpin() int64 {
	return p.pinCount.Add(-1)
}

// Update overwrites `size` bytes of the page's data at the given offset and marks it dirty.
func (p *Page) Update(data []byte, offset int64, size int64) {
	p.dirty = true
	copy(p.data[offset:offset+size], data)
}

// WLatch acquires the page's writer latch.
func (p *Page) WLatch() {
	p.rwlock.Lock()
}

// WUnlatch releases the page's writer latch.
func (p *Page) WUnlatch() {
	p.rwlock.Unlock()
}

// RLatch acquires the page's reader latch.
func (p *Page) RLatch() {
	p.rwlock.RLock()
}

// RUnlatch releases the page's reader latch.
func (p *Page) RUnlatch() {
	p.rwlock.RUnlock()
}
