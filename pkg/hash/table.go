// Package hash implements a disk-backed extendible hash index: a directory
// page, bucket pages, and the ExtendibleHashTable coordinator that ties key
// hashing, latching, and the split/merge state machine together.
package hash

import (
	"fmt"
	"io"
	"sync"

	"xhash/pkg/page"

	"github.com/google/uuid"
)

// ExtendibleHashTable is a disk-backed, unordered, multi-value associative
// container built with Fagin's extendible hashing scheme. Grounded on
// pkg/hash/hashTable.go's latching/pinning idiom; the split/merge state
// machine itself follows spec.md §4.3 and
// original_source/src/container/hash/extendible_hash_table.cpp, which the
// teacher's own (non-merging, directory-less) split implementation departs
// from.
type ExtendibleHashTable struct {
	pager           *page.Pager
	directoryPageID int64
	hashFn          HashFunc
	cmp             Comparator
	tableLatch      sync.RWMutex
	instanceID      uuid.UUID
}

// New constructs a fresh ExtendibleHashTable backed by pager, with an
// initial directory at global_depth=1 and two buckets at local_depth=1,
// reaching global_depth=1 through IncrGlobalDepth rather than by hand
// (allocate directory, allocate two buckets, IncrGlobalDepth once, then
// wire slots 0 and 1).
func New(pager *page.Pager, hashFn HashFunc, cmp Comparator) (*ExtendibleHashTable, error) {
	dir, err := newDirectoryPage(pager)
	if err != nil {
		return nil, err
	}
	bucket0, err := newBucketPage(pager, 1)
	if err != nil {
		pager.UnpinPage(dir.PageID(), true)
		return nil, err
	}
	bucket1, err := newBucketPage(pager, 1)
	if err != nil {
		pager.UnpinPage(dir.PageID(), true)
		pager.UnpinPage(bucket0.Page().ID(), false)
		return nil, err
	}

	dir.IncrGlobalDepth()
	dir.SetBucketPageID(0, bucket0.Page().ID())
	dir.SetLocalDepth(0, 1)
	dir.SetBucketPageID(1, bucket1.Page().ID())
	dir.SetLocalDepth(1, 1)

	directoryPageID := dir.PageID()
	pager.UnpinPage(directoryPageID, true)
	pager.UnpinPage(bucket0.Page().ID(), false)
	pager.UnpinPage(bucket1.Page().ID(), false)

	return &ExtendibleHashTable{
		pager:           pager,
		directoryPageID: directoryPageID,
		hashFn:          hashFn,
		cmp:             cmp,
		instanceID:      uuid.New(),
	}, nil
}

// Open reconstructs an ExtendibleHashTable over a pager that already holds a
// directory page at the given page id (e.g. after reopening a page store
// that previously held an index built with New).
func Open(pager *page.Pager, directoryPageID int64, hashFn HashFunc, cmp Comparator) *ExtendibleHashTable {
	return &ExtendibleHashTable{
		pager:           pager,
		directoryPageID: directoryPageID,
		hashFn:          hashFn,
		cmp:             cmp,
		instanceID:      uuid.New(),
	}
}

// InstanceID returns the UUID stamped on this table instance, used to tag
// diagnostic output the way the teacher's Transaction tags log lines with a
// client id.
func (t *ExtendibleHashTable) InstanceID() uuid.UUID {
	return t.instanceID
}

// DirectoryPageID returns the page id of this table's directory page.
func (t *ExtendibleHashTable) DirectoryPageID() int64 {
	return t.directoryPageID
}

func (t *ExtendibleHashTable) keyToDirectoryIndex(key int64, dir *DirectoryPage) int64 {
	return int64(downcast(t.hashFn(key))) & int64(dir.GlobalDepthMask())
}

func (t *ExtendibleHashTable) fetchDirectory() (*DirectoryPage, error) {
	p, err := t.pager.FetchPage(t.directoryPageID)
	if err != nil {
		return nil, err
	}
	return pageToDirectory(p), nil
}

func (t *ExtendibleHashTable) fetchBucket(bucketPageID int64) (*BucketPage, error) {
	p, err := t.pager.FetchPage(bucketPageID)
	if err != nil {
		return nil, err
	}
	return pageToBucket(p), nil
}

// GetValue returns every value associated with key.
func (t *ExtendibleHashTable) GetValue(key int64) ([]int64, error) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dir, err := t.fetchDirectory()
	if err != nil {
		return nil, err
	}
	bucketIdx := t.keyToDirectoryIndex(key, dir)
	bucketPageID := dir.GetBucketPageID(bucketIdx)
	bucket, err := t.fetchBucket(bucketPageID)
	if err != nil {
		t.pager.UnpinPage(t.directoryPageID, false)
		return nil, err
	}

	bucket.RLatch()
	bucket = pageToBucket(bucket.Page())
	values := bucket.GetValue(key, t.cmp)
	bucket.RUnlatch()

	t.pager.UnpinPage(bucketPageID, false)
	t.pager.UnpinPage(t.directoryPageID, false)
	return values, nil
}

// Insert inserts the (key, value) pair, returning false only for an exact
// (key, value) duplicate or when the table is saturated at MaxDepth.
func (t *ExtendibleHashTable) Insert(key, value int64) (bool, error) {
	t.tableLatch.RLock()

	dir, err := t.fetchDirectory()
	if err != nil {
		t.tableLatch.RUnlock()
		return false, err
	}
	bucketIdx := t.keyToDirectoryIndex(key, dir)
	bucketPageID := dir.GetBucketPageID(bucketIdx)
	bucket, err := t.fetchBucket(bucketPageID)
	if err != nil {
		t.pager.UnpinPage(t.directoryPageID, false)
		t.tableLatch.RUnlock()
		return false, err
	}

	bucket.WLatch()
	bucket = pageToBucket(bucket.Page())
	if bucket.IsFull() {
		bucket.WUnlatch()
		t.pager.UnpinPage(bucketPageID, false)
		t.pager.UnpinPage(t.directoryPageID, false)
		t.tableLatch.RUnlock()
		return t.splitInsert(key, value)
	}

	ok := bucket.Insert(key, value, t.cmp)
	bucket.WUnlatch()

	t.pager.UnpinPage(bucketPageID, ok)
	t.pager.UnpinPage(t.directoryPageID, false)
	t.tableLatch.RUnlock()
	return ok, nil
}

// splitInsert handles the case where Insert found its target bucket full.
// It escalates to the table's exclusive latch and retries splitting until
// the target bucket has room, per spec.md §4.3.
func (t *ExtendibleHashTable) splitInsert(key, value int64) (bool, error) {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	dir, err := t.fetchDirectory()
	if err != nil {
		return false, err
	}
	dirDirty := false

	for {
		bucketIdx := t.keyToDirectoryIndex(key, dir)
		bucketPageID := dir.GetBucketPageID(bucketIdx)
		bucket, err := t.fetchBucket(bucketPageID)
		if err != nil {
			t.pager.UnpinPage(t.directoryPageID, dirDirty)
			return false, err
		}

		bucket.WLatch()
		if !bucket.IsFull() {
			ok := bucket.Insert(key, value, t.cmp)
			bucket.WUnlatch()
			t.pager.UnpinPage(bucketPageID, ok)
			t.pager.UnpinPage(t.directoryPageID, dirDirty)
			return ok, nil
		}

		oldGlobalDepth := dir.GetGlobalDepth()
		oldLocalDepth := dir.GetLocalDepth(bucketIdx)

		if oldLocalDepth == maxDepth && oldGlobalDepth == maxDepth {
			// Saturated: can't grow the directory any further.
			bucket.WUnlatch()
			t.pager.UnpinPage(bucketPageID, false)
			t.pager.UnpinPage(t.directoryPageID, dirDirty)
			return false, nil
		}

		// Compute the sibling slot and depth the split will need without
		// mutating the directory yet: if allocating the sibling page fails,
		// the index's state must be exactly as it was before this attempt,
		// per the OutOfPages contract.
		newLocalDepth := oldLocalDepth + 1
		growsDirectory := oldLocalDepth == oldGlobalDepth
		sibling := bucketIdx ^ (int64(1) << (newLocalDepth - 1))

		debugf("splitting bucket %d (page %d) at local depth %d -> %d", bucketIdx, bucketPageID, oldLocalDepth, newLocalDepth)

		siblingBucket, err := newBucketPage(t.pager, newLocalDepth)
		if err != nil {
			bucket.WUnlatch()
			t.pager.UnpinPage(bucketPageID, false)
			t.pager.UnpinPage(t.directoryPageID, dirDirty)
			return false, err
		}

		if growsDirectory {
			dir.IncrGlobalDepth()
		}
		// Every slot that pointed at the full bucket moves to the new local
		// depth; those sharing the sibling's low newLocalDepth bits are
		// pointed at the new page.
		localMask := (int64(1) << newLocalDepth) - 1
		for i := int64(0); i < dir.Size(); i++ {
			if dir.GetBucketPageID(i) != bucketPageID {
				continue
			}
			dir.SetLocalDepth(i, newLocalDepth)
			if i&localMask == sibling&localMask {
				dir.SetBucketPageID(i, siblingBucket.Page().ID())
			}
		}
		dirDirty = true

		for i := int64(0); i < BucketArraySize; i++ {
			if !bucket.IsReadable(i) {
				continue
			}
			k := bucket.KeyAt(i)
			target := int64(downcast(t.hashFn(k))) & localMask
			if target == sibling&localMask {
				v := bucket.ValueAt(i)
				siblingBucket.Insert(k, v, t.cmp)
				bucket.RemoveAt(i)
			}
		}

		// Re-establish I3/I4 across the newly-doubled half of the directory
		// (a no-op when this iteration didn't grow the directory, since then
		// 1<<oldGlobalDepth already equals dir.Size()). Mirrors
		// original_source's redirect loop in SplitInsert.
		for i := int64(1) << oldGlobalDepth; i < dir.Size(); i++ {
			if i == sibling {
				continue
			}
			redirect := i & ((int64(1) << oldGlobalDepth) - 1)
			dir.SetBucketPageID(i, dir.GetBucketPageID(redirect))
			dir.SetLocalDepth(i, dir.GetLocalDepth(redirect))
		}

		t.pager.UnpinPage(siblingBucket.Page().ID(), true)
		bucket.WUnlatch()
		t.pager.UnpinPage(bucketPageID, true)
		// loop again: the target bucket (or its sibling) may now have room.
	}
}

// Remove deletes the (key, value) pair, returning false only if it wasn't
// present. If the removal empties the bucket, Remove hands off to merge
// after releasing its latches, per spec.md §4.3 and the open question noted
// in spec.md §9: merge re-checks IsEmpty itself under the exclusive latch.
func (t *ExtendibleHashTable) Remove(key, value int64) (bool, error) {
	t.tableLatch.RLock()

	dir, err := t.fetchDirectory()
	if err != nil {
		t.tableLatch.RUnlock()
		return false, err
	}
	bucketIdx := t.keyToDirectoryIndex(key, dir)
	bucketPageID := dir.GetBucketPageID(bucketIdx)
	bucket, err := t.fetchBucket(bucketPageID)
	if err != nil {
		t.pager.UnpinPage(t.directoryPageID, false)
		t.tableLatch.RUnlock()
		return false, err
	}

	bucket.WLatch()
	bucket = pageToBucket(bucket.Page())
	ok := bucket.Remove(key, value, t.cmp)
	becameEmpty := bucket.IsEmpty()
	bucket.WUnlatch()

	t.pager.UnpinPage(bucketPageID, ok)
	t.pager.UnpinPage(t.directoryPageID, false)
	t.tableLatch.RUnlock()

	if becameEmpty {
		if mergeErr := t.merge(key); mergeErr != nil {
			return ok, mergeErr
		}
	}
	return ok, nil
}

// merge conservatively undoes at most one split level for the bucket that
// key hashes to, when that bucket is (still) empty, its local depth is
// nonzero, and its split image shares the same local depth. It does not
// cascade across a chain of empty buckets in a single call, per spec.md §9.
func (t *ExtendibleHashTable) merge(key int64) error {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	dir, err := t.fetchDirectory()
	if err != nil {
		return err
	}
	dirDirty := false
	defer func() { t.pager.UnpinPage(t.directoryPageID, dirDirty) }()

	bucketIdx := t.keyToDirectoryIndex(key, dir)
	bucketPageID := dir.GetBucketPageID(bucketIdx)
	bucket, err := t.fetchBucket(bucketPageID)
	if err != nil {
		return err
	}

	localDepth := dir.GetLocalDepth(bucketIdx)
	if !bucket.IsEmpty() || localDepth == 0 {
		t.pager.UnpinPage(bucketPageID, false)
		return nil
	}
	sibling := dir.SplitImageIndex(bucketIdx)
	if dir.GetLocalDepth(sibling) != localDepth {
		t.pager.UnpinPage(bucketPageID, false)
		return nil
	}

	survivorPageID := dir.GetBucketPageID(sibling)
	freedPageID := dir.GetBucketPageID(bucketIdx)

	debugf("merging bucket %d (page %d) into sibling %d (page %d) at local depth %d", bucketIdx, freedPageID, sibling, survivorPageID, localDepth)

	// Unpin the now-empty bucket before freeing its page: DeletePage refuses
	// to reclaim a page that's still pinned.
	t.pager.UnpinPage(bucketPageID, false)

	// Attempt the deletion before touching dir: if the page store refuses to
	// free freedPageID, the index's state must be exactly as it was before
	// this call, per the OutOfPages contract.
	if err := t.pager.DeletePage(freedPageID); err != nil {
		return err
	}

	dir.DecrLocalDepth(bucketIdx)
	dir.DecrLocalDepth(sibling)
	dir.SetBucketPageID(bucketIdx, survivorPageID)
	dirDirty = true

	for i := int64(0); i < dir.Size(); i++ {
		if i == bucketIdx || i == sibling {
			continue
		}
		id := dir.GetBucketPageID(i)
		if id == freedPageID || id == survivorPageID {
			dir.DecrLocalDepth(i)
			dir.SetBucketPageID(i, survivorPageID)
		}
	}

	for dir.CanShrink() {
		dir.DecrGlobalDepth()
	}
	return nil
}

// GetGlobalDepth returns the directory's current global depth.
func (t *ExtendibleHashTable) GetGlobalDepth() (int64, error) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dir, err := t.fetchDirectory()
	if err != nil {
		return 0, err
	}
	depth := dir.GetGlobalDepth()
	t.pager.UnpinPage(t.directoryPageID, false)
	return depth, nil
}

// VerifyIntegrity checks invariants I1-I5 across the whole table.
// Intended for tests and debug builds; a violation is considered fatal by
// the caller, per spec.md §7.
func (t *ExtendibleHashTable) VerifyIntegrity() error {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dir, err := t.fetchDirectory()
	if err != nil {
		return err
	}
	defer t.pager.UnpinPage(t.directoryPageID, false)

	if err := dir.VerifyIntegrity(); err != nil {
		return fmt.Errorf("table %s: %w", t.instanceID, err)
	}
	return nil
}

// Print writes a human-readable dump of the directory and every bucket to w.
func (t *ExtendibleHashTable) Print(w io.Writer) error {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dir, err := t.fetchDirectory()
	if err != nil {
		return err
	}
	defer t.pager.UnpinPage(t.directoryPageID, false)
	dir.Print(w)

	seen := make(map[int64]bool)
	for i := int64(0); i < dir.Size(); i++ {
		bucketPageID := dir.GetBucketPageID(i)
		if seen[bucketPageID] {
			continue
		}
		seen[bucketPageID] = true
		bucket, err := t.fetchBucket(bucketPageID)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "==== bucket page %d ====\n", bucketPageID)
		bucket.Print(w)
		t.pager.UnpinPage(bucketPageID, false)
	}
	return nil
}
