package hash

import (
	"encoding/binary"
	"fmt"
	"io"

	"xhash/pkg/kv"
	"xhash/pkg/page"

	"github.com/bits-and-blooms/bitset"
)

// BucketPage is the physical layout and operations for a single hash bucket
// occupying one page. Grounded on pkg/hash/bucket.go's HashBucket, generalized
// to carry the occupied/readable tombstone bits spec.md requires.
type BucketPage struct {
	localDepth  int64
	numReadable int64
	occupied    *bitset.BitSet
	readable    *bitset.BitSet
	page        *page.Page
}

// newBucketPage allocates a brand new, empty bucket page at the given local depth.
// The returned page is pinned; the caller must unpin it.
func newBucketPage(pager *page.Pager, depth int64) (*BucketPage, error) {
	p, err := pager.NewPage()
	if err != nil {
		return nil, err
	}
	b := &BucketPage{
		localDepth:  depth,
		numReadable: 0,
		occupied:    bitset.New(uint(BucketArraySize)),
		readable:    bitset.New(uint(BucketArraySize)),
		page:        p,
	}
	b.writeHeader()
	return b, nil
}

// pageToBucket reconstructs a BucketPage's in-memory view from its raw page bytes.
func pageToBucket(p *page.Page) *BucketPage {
	data := p.Data()
	depth, _ := binary.Varint(data[bucketLocalDepthOffset : bucketLocalDepthOffset+varintSize])
	numReadable, _ := binary.Varint(data[bucketNumReadableOffset : bucketNumReadableOffset+varintSize])
	occupied := bytesToBitset(data[bucketOccupiedOffset : bucketOccupiedOffset+bucketBitmapBytes])
	readable := bytesToBitset(data[bucketReadableOffset : bucketReadableOffset+bucketBitmapBytes])
	return &BucketPage{
		localDepth:  depth,
		numReadable: numReadable,
		occupied:    occupied,
		readable:    readable,
		page:        p,
	}
}

func bytesToBitset(b []byte) *bitset.BitSet {
	words := make([]uint64, len(b)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(b[i*8 : i*8+8])
	}
	return bitset.From(words)
}

func bitsetToBytes(bs *bitset.BitSet, out []byte) {
	words := bs.Bytes()
	for i, w := range words {
		binary.LittleEndian.PutUint64(out[i*8:i*8+8], w)
	}
}

// Page returns the underlying page backing this bucket.
func (b *BucketPage) Page() *page.Page {
	return b.page
}

// LocalDepth returns the bucket's local depth.
func (b *BucketPage) LocalDepth() int64 {
	return b.localDepth
}

// SetLocalDepth updates the bucket's local depth and persists it.
func (b *BucketPage) SetLocalDepth(depth int64) {
	b.localDepth = depth
	buf := make([]byte, varintSize)
	binary.PutVarint(buf, depth)
	b.page.Update(buf, bucketLocalDepthOffset, varintSize)
}

// IncrLocalDepth increments the bucket's local depth by one.
func (b *BucketPage) IncrLocalDepth() {
	b.SetLocalDepth(b.localDepth + 1)
}

// NumReadable returns the number of live (readable) entries in this bucket.
func (b *BucketPage) NumReadable() int64 {
	return b.numReadable
}

// IsFull reports whether every slot is readable.
func (b *BucketPage) IsFull() bool {
	return b.numReadable >= BucketArraySize
}

// IsEmpty reports whether no slot is readable.
func (b *BucketPage) IsEmpty() bool {
	return b.numReadable == 0
}

// IsOccupied reports whether slot i has ever held an entry since the bucket was reset.
func (b *BucketPage) IsOccupied(i int64) bool {
	return b.occupied.Test(uint(i))
}

// IsReadable reports whether slot i currently holds a live entry.
func (b *BucketPage) IsReadable(i int64) bool {
	return b.readable.Test(uint(i))
}

// KeyAt returns the key stored at slot i.
func (b *BucketPage) KeyAt(i int64) int64 {
	return b.pairAt(i).Key
}

// ValueAt returns the value stored at slot i.
func (b *BucketPage) ValueAt(i int64) int64 {
	return b.pairAt(i).Value
}

func (b *BucketPage) pairAt(i int64) kv.Pair {
	off := bucketPairOffset(i)
	return kv.Unmarshal(b.page.Data()[off : off+kv.Size])
}

func (b *BucketPage) setPairAt(i int64, pair kv.Pair) {
	off := bucketPairOffset(i)
	b.page.Update(pair.Marshal(), off, kv.Size)
}

// GetValue returns every value associated with keys comparator-equal to key.
func (b *BucketPage) GetValue(key int64, cmp Comparator) []int64 {
	var results []int64
	for i := int64(0); i < BucketArraySize; i++ {
		if !b.IsReadable(i) {
			continue
		}
		if cmp(b.KeyAt(i), key) == Eq {
			results = append(results, b.ValueAt(i))
		}
	}
	return results
}

// Insert places (key, value) in the first available slot, rejecting an exact
// (key, value) duplicate. Returns false only when the pair already exists or
// the bucket has no free slot.
func (b *BucketPage) Insert(key, value int64, cmp Comparator) bool {
	freeSlot := int64(-1)
	for i := int64(0); i < BucketArraySize; i++ {
		if b.IsReadable(i) {
			if cmp(b.KeyAt(i), key) == Eq && b.ValueAt(i) == value {
				return false
			}
			continue
		}
		if freeSlot == -1 {
			freeSlot = i
		}
	}
	if freeSlot == -1 {
		return false
	}
	b.setPairAt(freeSlot, kv.New(key, value))
	b.setOccupied(freeSlot)
	b.setReadable(freeSlot, true)
	return true
}

// Remove deletes the first slot matching (key, value) exactly, leaving behind
// an occupied-but-not-readable tombstone. Returns false if no such slot exists.
func (b *BucketPage) Remove(key, value int64, cmp Comparator) bool {
	for i := int64(0); i < BucketArraySize; i++ {
		if !b.IsReadable(i) {
			continue
		}
		if cmp(b.KeyAt(i), key) == Eq && b.ValueAt(i) == value {
			b.RemoveAt(i)
			return true
		}
	}
	return false
}

// RemoveAt clears slot i's readable bit, leaving its occupied bit set.
func (b *BucketPage) RemoveAt(i int64) {
	if !b.IsReadable(i) {
		return
	}
	b.setReadable(i, false)
}

func (b *BucketPage) setOccupied(i int64) {
	if b.occupied.Test(uint(i)) {
		return
	}
	b.occupied.Set(uint(i))
	buf := make([]byte, bucketBitmapBytes)
	bitsetToBytes(b.occupied, buf)
	b.page.Update(buf, bucketOccupiedOffset, bucketBitmapBytes)
}

func (b *BucketPage) setReadable(i int64, readable bool) {
	if readable {
		b.readable.Set(uint(i))
		b.numReadable++
	} else {
		b.readable.Clear(uint(i))
		b.numReadable--
	}
	buf := make([]byte, bucketBitmapBytes)
	bitsetToBytes(b.readable, buf)
	b.page.Update(buf, bucketReadableOffset, bucketBitmapBytes)
	b.writeNumReadable()
}

func (b *BucketPage) writeNumReadable() {
	buf := make([]byte, varintSize)
	binary.PutVarint(buf, b.numReadable)
	b.page.Update(buf, bucketNumReadableOffset, varintSize)
}

func (b *BucketPage) writeHeader() {
	b.SetLocalDepth(b.localDepth)
	b.writeNumReadable()
	occBuf := make([]byte, bucketBitmapBytes)
	bitsetToBytes(b.occupied, occBuf)
	b.page.Update(occBuf, bucketOccupiedOffset, bucketBitmapBytes)
	readBuf := make([]byte, bucketBitmapBytes)
	bitsetToBytes(b.readable, readBuf)
	b.page.Update(readBuf, bucketReadableOffset, bucketBitmapBytes)
}

// Print writes a human-readable dump of the bucket's live entries to w.
func (b *BucketPage) Print(w io.Writer) {
	fmt.Fprintf(w, "bucket depth: %d\n", b.localDepth)
	io.WriteString(w, "entries:")
	for i := int64(0); i < BucketArraySize; i++ {
		if b.IsReadable(i) {
			b.pairAt(i).Print(w)
			io.WriteString(w, ", ")
		}
	}
	io.WriteString(w, "\n")
}

// RLatch acquires the bucket page's reader latch.
func (b *BucketPage) RLatch() { b.page.RLatch() }

// RUnlatch releases the bucket page's reader latch.
func (b *BucketPage) RUnlatch() { b.page.RUnlatch() }

// WLatch acquires the bucket page's writer latch.
func (b *BucketPage) WLatch() { b.page.WLatch() }

// WUnlatch releases the bucket page's writer latch.
func (b *BucketPage) WUnlatch() { b.page.WUnlatch() }
