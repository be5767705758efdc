// Package page implements the page and pager abstractions used for efficient io operations in the index.
package page

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"xhash/pkg/config"
	"xhash/pkg/list"

	"github.com/ncw/directio"
)

// PageSize is the number of bytes held by an individual page. Defaults to 4KiB.
const PageSize int64 = config.PageSize

// ErrRanOutOfPages is returned when there are no free/unpinned frames to page into.
var ErrRanOutOfPages = errors.New("no available pages")

// ErrPagePinned is returned by DeletePage when the page is still pinned.
var ErrPagePinned = errors.New("page is still pinned")

// Pager manages the fixed-size pages of a single file, backed by direct IO.
type Pager struct {
	file         *os.File   // file descriptor backing this pager on disk
	numPages     int64      // number of pages ever allocated (including freed ones, to keep offsets stable)
	freePageIDs  []int64    // ids of deleted pages available for reuse
	freeList     *list.List // pre-allocated, as yet unused frames
	unpinnedList *list.List // in-memory pages that have yet to be evicted, but are not currently pinned
	pinnedList   *list.List // in-memory pages currently pinned by a caller
	// pageTable maps page ids to the link holding them, wherever that link currently lives.
	pageTable map[int64]*list.Link
	ptMtx     sync.Mutex // protects the page table and the three lists above
}

// New constructs a new Pager, backing it with a database file at the specified filePath.
func New(filePath string) (pager *Pager, err error) {
	pager = &Pager{}
	pager.pageTable = make(map[int64]*list.Link)
	pager.freeList = list.NewList()
	pager.unpinnedList = list.NewList()
	pager.pinnedList = list.NewList()
	frames := directio.AlignedBlock(int(PageSize * config.MaxPagesInBuffer))
	for i := 0; i < config.MaxPagesInBuffer; i++ {
		frame := frames[i*int(PageSize) : (i+1)*int(PageSize)]
		p := Page{
			pager:  pager,
			pageID: InvalidPageID,
			dirty:  false,
			data:   frame,
		}
		pager.freeList.PushTail(&p)
	}

	err = pager.Open(filePath)
	if err != nil {
		pager = nil
	}
	return
}

// FileName returns the file name/path used to open the pager's backing file.
func (pager *Pager) FileName() string {
	return pager.file.Name()
}

// NumPages returns the number of page ids ever allocated by this pager.
func (pager *Pager) NumPages() int64 {
	return pager.numPages
}

// Open (re-)initializes the pager with a database file at the specified filePath,
// creating it if it doesn't already exist.
func (pager *Pager) Open(filePath string) (err error) {
	if idx := strings.LastIndex(filePath, "/"); idx != -1 {
		err = os.MkdirAll(filePath[:idx], 0775)
		if err != nil {
			return err
		}
	}
	pager.file, err = directio.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return err
	}
	var info os.FileInfo
	var length int64
	if info, err = pager.file.Stat(); err == nil {
		length = info.Size()
		if length%PageSize != 0 {
			return errors.New("page store file has been corrupted")
		}
	}
	pager.numPages = length / PageSize
	return nil
}

// Close flushes all dirty pages to disk and closes the backing file.
func (pager *Pager) Close() error {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	if pager.pinnedList.PeekHead() != nil {
		return errors.New("pages are still pinned on close")
	}
	pager.flushAllPages()
	return pager.file.Close()
}

// fillPageFromDisk populates a page's data field from what's currently on disk.
func (pager *Pager) fillPageFromDisk(p *Page) error {
	if _, err := pager.file.Seek(p.pageID*PageSize, 0); err != nil {
		return err
	}
	if _, err := pager.file.Read(p.data); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// claimFrame returns a currently unused Page frame from the free or unpinned list,
// or ErrRanOutOfPages if none is available. ptMtx must be held on entry.
func (pager *Pager) claimFrame(pageID int64) (frame *Page, err error) {
	if freeLink := pager.freeList.PeekHead(); freeLink != nil {
		freeLink.PopSelf()
		frame = freeLink.GetValue().(*Page)
	} else if unpinLink := pager.unpinnedList.PeekHead(); unpinLink != nil {
		unpinLink.PopSelf()
		frame = unpinLink.GetValue().(*Page)
		pager.flushPage(frame)
		delete(pager.pageTable, frame.pageID)
	} else {
		return nil, ErrRanOutOfPages
	}
	frame.pageID = pageID
	frame.dirty = false
	frame.pinCount.Store(1)
	return frame, nil
}

// nextPageID returns the id to hand out to the next new page, reusing a deleted
// page's id if one is available.
func (pager *Pager) nextPageID() int64 {
	if n := len(pager.freePageIDs); n > 0 {
		id := pager.freePageIDs[n-1]
		pager.freePageIDs = pager.freePageIDs[:n-1]
		return id
	}
	return pager.numPages
}

// NewPage allocates, pins, and returns a new zeroed page.
func (pager *Pager) NewPage() (p *Page, err error) {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	pageID := pager.nextPageID()
	p, err = pager.claimFrame(pageID)
	if err != nil {
		return nil, err
	}
	for i := range p.data {
		p.data[i] = 0
	}
	p.dirty = true
	newLink := pager.pinnedList.PushTail(p)
	pager.pageTable[pageID] = newLink
	if pageID == pager.numPages {
		pager.numPages++
	}
	return p, nil
}

// FetchPage pins and returns the existing page with the given id.
func (pager *Pager) FetchPage(pageID int64) (p *Page, err error) {
	var newLink *list.Link
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	if pageID < 0 || pageID >= pager.numPages {
		return nil, errors.New("invalid page id")
	}
	link, ok := pager.pageTable[pageID]
	if ok {
		p = link.GetValue().(*Page)
		if link.GetList() == pager.unpinnedList {
			link.PopSelf()
			newLink = pager.pinnedList.PushTail(p)
			pager.pageTable[pageID] = newLink
		}
		p.pin()
		return p, nil
	}

	p, err = pager.claimFrame(pageID)
	if err != nil {
		return nil, err
	}

	p.dirty = false
	if err = pager.fillPageFromDisk(p); err != nil {
		pager.freeList.PushTail(p)
		return nil, err
	}

	newLink = pager.pinnedList.PushTail(p)
	pager.pageTable[pageID] = newLink
	return p, nil
}

// UnpinPage decrements the page's pin count, moving it to the unpinned list once
// the count reaches zero. The caller asserts whether the page is dirty.
func (pager *Pager) UnpinPage(pageID int64, isDirty bool) error {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	link, ok := pager.pageTable[pageID]
	if !ok {
		return errors.New("unpin of unknown page id")
	}
	p := link.GetValue().(*Page)
	if isDirty {
		p.dirty = true
	}
	ret := p.unpin()
	if ret == 0 {
		link.PopSelf()
		newLink := pager.unpinnedList.PushTail(p)
		pager.pageTable[pageID] = newLink
	}
	if ret < 0 {
		return errors.New("pin count for page is negative")
	}
	return nil
}

// DeletePage frees an unpinned page's id for reuse and evicts its frame.
// Returns ErrPagePinned if the page is still pinned by some caller.
func (pager *Pager) DeletePage(pageID int64) error {
	pager.ptMtx.Lock()
	defer pager.ptMtx.Unlock()
	link, ok := pager.pageTable[pageID]
	if !ok {
		pager.freePageIDs = append(pager.freePageIDs, pageID)
		return nil
	}
	p := link.GetValue().(*Page)
	if p.pinCount.Load() > 0 {
		return ErrPagePinned
	}
	link.PopSelf()
	delete(pager.pageTable, pageID)
	p.dirty = false
	p.pageID = InvalidPageID
	pager.freeList.PushTail(p)
	pager.freePageIDs = append(pager.freePageIDs, pageID)
	return nil
}

// flushPage flushes a page's data to disk if it is dirty.
func (pager *Pager) flushPage(p *Page) {
	if p.IsDirty() {
		pager.file.WriteAt(p.data, p.pageID*PageSize)
		p.SetDirty(false)
	}
}

// flushAllPages flushes every dirty page to disk.
func (pager *Pager) flushAllPages() {
	writer := func(link *list.Link) {
		pager.flushPage(link.GetValue().(*Page))
	}
	pager.pinnedList.Map(writer)
	pager.unpinnedList.Map(writer)
}
