package hash

import "fmt"

// VerifyTable walks every distinct bucket reachable from the directory and
// checks invariants I1-I7 from spec.md §3: directory consistency (I1-I5,
// delegated to DirectoryPage.VerifyIntegrity), that every pair in a bucket
// hashes to a slot pointing at that bucket (I6), and that no bucket holds a
// duplicate (key, value) pair (I7).
//
// Grounded on pkg/hash/verify.go's IsHash and pkg/btree/verify.go's
// standalone IsBTree pattern: a free function usable from tests without
// needing to reach into the table's private state.
func VerifyTable(t *ExtendibleHashTable) error {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	dir, err := t.fetchDirectory()
	if err != nil {
		return err
	}
	defer t.pager.UnpinPage(t.directoryPageID, false)

	if err := dir.VerifyIntegrity(); err != nil {
		return err
	}

	seen := make(map[int64]bool)
	for slot := int64(0); slot < dir.Size(); slot++ {
		bucketPageID := dir.GetBucketPageID(slot)
		if seen[bucketPageID] {
			continue
		}
		seen[bucketPageID] = true

		bucket, err := t.fetchBucket(bucketPageID)
		if err != nil {
			return err
		}
		err = verifyBucketContents(t, dir, bucket, bucketPageID)
		t.pager.UnpinPage(bucketPageID, false)
		if err != nil {
			return err
		}
	}
	return nil
}

func verifyBucketContents(t *ExtendibleHashTable, dir *DirectoryPage, bucket *BucketPage, bucketPageID int64) error {
	type pair struct{ key, value int64 }
	seenPairs := make(map[pair]bool)

	for i := int64(0); i < BucketArraySize; i++ {
		if !bucket.IsReadable(i) {
			continue
		}
		key, value := bucket.KeyAt(i), bucket.ValueAt(i)

		p := pair{key, value}
		if seenPairs[p] { // I7
			return fmt.Errorf("bucket %d: duplicate pair (%d, %d)", bucketPageID, key, value)
		}
		seenPairs[p] = true

		slot := t.keyToDirectoryIndex(key, dir) // I6
		if dir.GetBucketPageID(slot) != bucketPageID {
			return fmt.Errorf("bucket %d: key %d hashes to slot %d, which points at bucket %d",
				bucketPageID, key, slot, dir.GetBucketPageID(slot))
		}
	}
	return nil
}
