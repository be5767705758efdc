package hash

import (
	"os"
	"testing"

	"xhash/pkg/page"

	"github.com/stretchr/testify/require"
)

func newTestPager(t *testing.T) *page.Pager {
	f, err := os.CreateTemp("", "*.db")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { _ = os.Remove(f.Name()) })

	p, err := page.New(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newTestBucket(t *testing.T, depth int64) *BucketPage {
	p := newTestPager(t)
	b, err := newBucketPage(p, depth)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.UnpinPage(b.Page().ID(), false) })
	return b
}

func TestBucketInsertAndGetValue(t *testing.T) {
	b := newTestBucket(t, 1)

	require.True(t, b.Insert(1, 100, IntComparator))
	require.True(t, b.Insert(2, 200, IntComparator))
	require.True(t, b.Insert(1, 101, IntComparator)) // duplicate key, distinct value: allowed

	require.ElementsMatch(t, []int64{100, 101}, b.GetValue(1, IntComparator))
	require.ElementsMatch(t, []int64{200}, b.GetValue(2, IntComparator))
	require.Equal(t, int64(3), b.NumReadable())
}

func TestBucketInsertExactDuplicateRejected(t *testing.T) {
	b := newTestBucket(t, 1)

	require.True(t, b.Insert(1, 100, IntComparator))
	require.False(t, b.Insert(1, 100, IntComparator))
	require.Equal(t, int64(1), b.NumReadable())
}

func TestBucketRemoveLeavesTombstone(t *testing.T) {
	b := newTestBucket(t, 1)
	require.True(t, b.Insert(1, 100, IntComparator))

	require.True(t, b.IsOccupied(0))
	require.True(t, b.IsReadable(0))

	require.True(t, b.Remove(1, 100, IntComparator))
	require.True(t, b.IsOccupied(0), "occupied bit should survive removal")
	require.False(t, b.IsReadable(0), "readable bit should be cleared by removal")
	require.True(t, b.IsEmpty())

	require.False(t, b.Remove(1, 100, IntComparator), "removing an absent pair should report false")
}

func TestBucketIsFull(t *testing.T) {
	b := newTestBucket(t, 1)
	for i := int64(0); i < BucketArraySize; i++ {
		require.True(t, b.Insert(i, i, IntComparator))
	}
	require.True(t, b.IsFull())
	require.False(t, b.Insert(BucketArraySize, BucketArraySize, IntComparator))
}

func TestBucketPersistsAcrossPageReload(t *testing.T) {
	p := newTestPager(t)
	b, err := newBucketPage(p, 3)
	require.NoError(t, err)
	require.True(t, b.Insert(42, 99, IntComparator))
	pageID := b.Page().ID()
	require.NoError(t, p.UnpinPage(pageID, true))

	reloaded, err := p.FetchPage(pageID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.UnpinPage(pageID, false) })

	rb := pageToBucket(reloaded)
	require.Equal(t, int64(3), rb.LocalDepth())
	require.Equal(t, []int64{99}, rb.GetValue(42, IntComparator))
}
