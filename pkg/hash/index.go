package hash

import (
	"io"
	"path/filepath"

	"xhash/pkg/page"
)

// rootDirectoryPageID is the page id the directory always lives at: New
// allocates it first, before any bucket, so it is always page 0 of a fresh
// page store. Grounded on the teacher's ROOT_PN convention for its btree
// and (pre-generalization) hash table.
const rootDirectoryPageID = int64(0)

// Index bundles an ExtendibleHashTable with the Pager backing it, mirroring
// pkg/hash/hashIndex.go's thin wrapper around OpenTable/Close.
type Index struct {
	table *ExtendibleHashTable
	pager *page.Pager
}

// OpenIndex opens (or creates, if empty) a hash index backed by a page store
// file at filename, using hashFn/cmp as the injected hash and comparator
// capabilities.
func OpenIndex(filename string, hashFn HashFunc, cmp Comparator) (*Index, error) {
	pager, err := page.New(filename)
	if err != nil {
		return nil, err
	}
	var table *ExtendibleHashTable
	if pager.NumPages() == 0 {
		table, err = New(pager, hashFn, cmp)
	} else {
		table = Open(pager, rootDirectoryPageID, hashFn, cmp)
	}
	if err != nil {
		return nil, err
	}
	return &Index{table: table, pager: pager}, nil
}

// Name returns the base file name of the file backing this index's pager.
func (idx *Index) Name() string {
	return filepath.Base(idx.pager.FileName())
}

// Pager returns the pager backing this index.
func (idx *Index) Pager() *page.Pager {
	return idx.pager
}

// Table returns the underlying ExtendibleHashTable.
func (idx *Index) Table() *ExtendibleHashTable {
	return idx.table
}

// Close flushes every dirty page and closes the backing file.
func (idx *Index) Close() error {
	return idx.pager.Close()
}

// GetValue returns every value associated with key.
func (idx *Index) GetValue(key int64) ([]int64, error) {
	return idx.table.GetValue(key)
}

// Insert inserts (key, value), returning false for an exact duplicate.
func (idx *Index) Insert(key, value int64) (bool, error) {
	return idx.table.Insert(key, value)
}

// Remove deletes (key, value), returning false if it wasn't present.
func (idx *Index) Remove(key, value int64) (bool, error) {
	return idx.table.Remove(key, value)
}

// GetGlobalDepth returns the directory's current global depth.
func (idx *Index) GetGlobalDepth() (int64, error) {
	return idx.table.GetGlobalDepth()
}

// VerifyIntegrity checks invariants I1-I5 across the whole index.
func (idx *Index) VerifyIntegrity() error {
	return idx.table.VerifyIntegrity()
}

// Print writes a human-readable dump of the directory and every distinct
// bucket page it points at to w, for debugging a misbehaving index by hand.
func (idx *Index) Print(w io.Writer) error {
	return idx.table.Print(w)
}
