package hash

import (
	"encoding/binary"
	"fmt"
	"io"

	"xhash/pkg/config"
	"xhash/pkg/page"
)

const (
	directoryArraySize = int64(config.DirectoryArraySize)
	maxDepth            = int64(config.MaxDepth)
)

const (
	dirLsnOffset         = int64(0)
	dirPageIDOffset      = dirLsnOffset + 4
	dirGlobalDepthOffset = dirPageIDOffset + 4
	dirLocalDepthsOffset = dirGlobalDepthOffset + 4
	dirBucketIDsOffset   = dirLocalDepthsOffset + directoryArraySize
)

// invalidDirPageID is how InvalidPageID is represented in the fixed-width
// uint32 directory layout spec.md §6 specifies.
const invalidDirPageID uint32 = 0xFFFFFFFF

// DirectoryPage maps directory slot -> bucket page id, plus per-slot local
// depth and a global depth. Grounded on spec.md §3/§4.2; the teacher's
// HashTable kept this information in plain Go slices with a bespoke
// side-channel .meta pager (ReadHashTable/WriteHashTable) instead of a
// first-class page, which this generalizes away.
type DirectoryPage struct {
	page *page.Page
}

// newDirectoryPage allocates a brand new, empty directory page.
// The returned page is pinned; the caller must unpin it.
func newDirectoryPage(pager *page.Pager) (*DirectoryPage, error) {
	p, err := pager.NewPage()
	if err != nil {
		return nil, err
	}
	d := &DirectoryPage{page: p}
	d.setPageID(p.ID())
	d.setGlobalDepthRaw(0)
	for i := int64(0); i < directoryArraySize; i++ {
		d.setBucketPageIDRaw(i, page.InvalidPageID)
	}
	return d, nil
}

// pageToDirectory reconstructs a DirectoryPage view from raw page bytes.
func pageToDirectory(p *page.Page) *DirectoryPage {
	return &DirectoryPage{page: p}
}

// Page returns the underlying page backing this directory.
func (d *DirectoryPage) Page() *page.Page {
	return d.page
}

// PageID returns the directory's own (self-referential) page id.
func (d *DirectoryPage) PageID() int64 {
	return int64(binary.LittleEndian.Uint32(d.page.Data()[dirPageIDOffset : dirPageIDOffset+4]))
}

func (d *DirectoryPage) setPageID(id int64) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(id))
	d.page.Update(buf, dirPageIDOffset, 4)
}

// Lsn returns the directory page's opaque log sequence number.
func (d *DirectoryPage) Lsn() uint32 {
	return binary.LittleEndian.Uint32(d.page.Data()[dirLsnOffset : dirLsnOffset+4])
}

// SetLsn overwrites the directory page's log sequence number.
func (d *DirectoryPage) SetLsn(lsn uint32) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, lsn)
	d.page.Update(buf, dirLsnOffset, 4)
}

// GetGlobalDepth returns the number of low-order hash bits the directory uses.
func (d *DirectoryPage) GetGlobalDepth() int64 {
	return int64(binary.LittleEndian.Uint32(d.page.Data()[dirGlobalDepthOffset : dirGlobalDepthOffset+4]))
}

func (d *DirectoryPage) setGlobalDepthRaw(depth int64) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(depth))
	d.page.Update(buf, dirGlobalDepthOffset, 4)
}

// IncrGlobalDepth doubles the directory by incrementing the global depth,
// copying each live slot's bucket id/local depth into its newly-exposed
// mirror slot, per spec.md §4.2.
func (d *DirectoryPage) IncrGlobalDepth() {
	oldSize := d.Size()
	d.setGlobalDepthRaw(d.GetGlobalDepth() + 1)
	newSize := d.Size()
	for i := oldSize; i < newSize; i++ {
		d.setBucketPageIDRaw(i, d.GetBucketPageID(i-oldSize))
		d.setLocalDepthRaw(i, d.GetLocalDepth(i-oldSize))
	}
}

// DecrGlobalDepth halves the directory by decrementing the global depth and
// zeroing the slots that fall out of range.
func (d *DirectoryPage) DecrGlobalDepth() {
	oldSize := d.Size()
	d.setGlobalDepthRaw(d.GetGlobalDepth() - 1)
	newSize := d.Size()
	for i := newSize; i < oldSize; i++ {
		d.setBucketPageIDRaw(i, page.InvalidPageID)
		d.setLocalDepthRaw(i, 0)
	}
}

// GlobalDepthMask returns (1 << global_depth) - 1.
func (d *DirectoryPage) GlobalDepthMask() uint32 {
	return uint32(d.Size() - 1)
}

// LocalDepthMask returns (1 << local_depths[i]) - 1.
func (d *DirectoryPage) LocalDepthMask(i int64) uint32 {
	return uint32(int64(1)<<d.GetLocalDepth(i)) - 1
}

// Size returns 1 << global_depth, the number of live slots.
func (d *DirectoryPage) Size() int64 {
	return int64(1) << d.GetGlobalDepth()
}

// GetBucketPageID returns the page id that directory slot i points to.
func (d *DirectoryPage) GetBucketPageID(i int64) int64 {
	off := dirBucketIDsOffset + i*4
	raw := binary.LittleEndian.Uint32(d.page.Data()[off : off+4])
	if raw == invalidDirPageID {
		return page.InvalidPageID
	}
	return int64(raw)
}

// SetBucketPageID points directory slot i at the given bucket page id.
func (d *DirectoryPage) SetBucketPageID(i int64, pageID int64) {
	d.setBucketPageIDRaw(i, pageID)
}

func (d *DirectoryPage) setBucketPageIDRaw(i int64, pageID int64) {
	var raw uint32
	if pageID == page.InvalidPageID {
		raw = invalidDirPageID
	} else {
		raw = uint32(pageID)
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, raw)
	d.page.Update(buf, dirBucketIDsOffset+i*4, 4)
}

// GetLocalDepth returns the local depth of directory slot i.
func (d *DirectoryPage) GetLocalDepth(i int64) int64 {
	return int64(d.page.Data()[dirLocalDepthsOffset+i])
}

// SetLocalDepth sets the local depth of directory slot i.
func (d *DirectoryPage) SetLocalDepth(i int64, depth int64) {
	d.setLocalDepthRaw(i, depth)
}

func (d *DirectoryPage) setLocalDepthRaw(i int64, depth int64) {
	d.page.Update([]byte{byte(depth)}, dirLocalDepthsOffset+i, 1)
}

// IncrLocalDepth increments the local depth of directory slot i.
func (d *DirectoryPage) IncrLocalDepth(i int64) {
	d.SetLocalDepth(i, d.GetLocalDepth(i)+1)
}

// DecrLocalDepth decrements the local depth of directory slot i.
func (d *DirectoryPage) DecrLocalDepth(i int64) {
	d.SetLocalDepth(i, d.GetLocalDepth(i)-1)
}

// SplitImageIndex returns the slot that shares all but the highest
// local-depth bit with i: i XOR (1 << (local_depth(i) - 1)).
func (d *DirectoryPage) SplitImageIndex(i int64) int64 {
	depth := d.GetLocalDepth(i)
	if depth == 0 {
		return i
	}
	return i ^ (int64(1) << (depth - 1))
}

// CanShrink reports whether every live slot has local depth strictly less
// than the global depth, i.e. the directory can be halved.
func (d *DirectoryPage) CanShrink() bool {
	size := d.Size()
	globalDepth := d.GetGlobalDepth()
	for i := int64(0); i < size; i++ {
		if d.GetLocalDepth(i) >= globalDepth {
			return false
		}
	}
	return true
}

// VerifyIntegrity checks invariants I1-I5 from spec.md §3, returning the
// first violation found, or nil if the directory is consistent.
func (d *DirectoryPage) VerifyIntegrity() error {
	size := d.Size()
	globalDepth := d.GetGlobalDepth()
	pointerCounts := make(map[int64]int64)
	depthOf := make(map[int64]int64)
	for i := int64(0); i < size; i++ {
		localDepth := d.GetLocalDepth(i)
		bucketID := d.GetBucketPageID(i)
		if localDepth < 0 || localDepth > globalDepth { // I1
			return fmt.Errorf("slot %d: local depth %d out of range [0, %d]", i, localDepth, globalDepth)
		}
		if bucketID == page.InvalidPageID { // I2
			return fmt.Errorf("slot %d: invalid bucket page id", i)
		}
		if prevDepth, ok := depthOf[bucketID]; ok && prevDepth != localDepth {
			return fmt.Errorf("bucket %d: inconsistent local depth %d vs %d", bucketID, prevDepth, localDepth)
		}
		depthOf[bucketID] = localDepth
		pointerCounts[bucketID]++
	}
	for bucketID, count := range pointerCounts { // I5
		expected := int64(1) << (globalDepth - depthOf[bucketID])
		if count != expected {
			return fmt.Errorf("bucket %d: expected %d directory pointers, found %d", bucketID, expected, count)
		}
	}
	firstSlot := make(map[int64]int64)
	for i := int64(0); i < size; i++ { // I3/I4
		bucketID := d.GetBucketPageID(i)
		first, ok := firstSlot[bucketID]
		if !ok {
			firstSlot[bucketID] = i
			continue
		}
		mask := (int64(1) << depthOf[bucketID]) - 1
		if (first^i)&mask != 0 {
			return fmt.Errorf("bucket %d: slots %d and %d differ in their low %d bits", bucketID, first, i, depthOf[bucketID])
		}
	}
	return nil
}

// Print writes a human-readable dump of the directory to w.
func (d *DirectoryPage) Print(w io.Writer) {
	fmt.Fprintf(w, "directory page id: %d, global depth: %d\n", d.PageID(), d.GetGlobalDepth())
	for i := int64(0); i < d.Size(); i++ {
		fmt.Fprintf(w, "  slot %d: bucket %d, local depth %d\n", i, d.GetBucketPageID(i), d.GetLocalDepth(i))
	}
}
