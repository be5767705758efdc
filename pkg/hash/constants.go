package hash

import (
	"encoding/binary"

	"xhash/pkg/kv"
	"xhash/pkg/page"
)

// varintSize is the on-disk width of a single varint-encoded int64 header field.
const varintSize = int64(binary.MaxVarintLen64)

// bucketFixedHeaderSize is the byte width of a bucket page's fixed header
// (local depth, readable count) excluding the occupied/readable bit arrays,
// whose size depends on BucketArraySize and is computed below.
const bucketFixedHeaderSize = 2 * varintSize

// BucketArraySize is the number of (key, value) slots a bucket page can hold.
// spec.md's floor(4*PageSize / (4*sizeof(K,V) + 1)) formula assumes the
// occupied/readable bitmaps pack to the bit, the way the original bustub
// HASH_TABLE_BUCKET_TYPE lays them out; bitsetToBytes here rounds each
// bitmap up to a 64-bit word, so the same formula is adjusted to bound the
// worst-case word-rounding overhead (16 bytes) and stay within one page.
const BucketArraySize = (4 * (page.PageSize - bucketFixedHeaderSize - 16)) / (4*kv.Size + 1)

// bucketBitmapWords is the number of 64-bit words needed to hold BucketArraySize bits.
const bucketBitmapWords = (BucketArraySize + 63) / 64

// bucketBitmapBytes is the serialized size of one occupied or readable bitmap.
const bucketBitmapBytes = bucketBitmapWords * 8

// bucketHeaderSize is the total size of a bucket page's header: the fixed
// fields plus both bitmaps.
const bucketHeaderSize = bucketFixedHeaderSize + 2*bucketBitmapBytes

const (
	bucketLocalDepthOffset  = int64(0)
	bucketNumReadableOffset = bucketLocalDepthOffset + varintSize
	bucketOccupiedOffset    = bucketNumReadableOffset + varintSize
	bucketReadableOffset    = bucketOccupiedOffset + bucketBitmapBytes
	bucketPairsOffset       = bucketFixedHeaderSize + 2*bucketBitmapBytes // == bucketHeaderSize
)

func bucketPairOffset(i int64) int64 {
	return bucketPairsOffset + i*kv.Size
}
