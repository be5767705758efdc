package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// HashFunc computes a 64-bit hash of a key. The index downcasts the result to
// 32 bits before masking, per the hash function contract.
type HashFunc func(key int64) uint64

// hash64 marshals key and runs it through the given 64-bit hasher.
func hash64(hasher func(b []byte) uint64, key int64) uint64 {
	buf := make([]byte, binary.MaxVarintLen64)
	binary.PutVarint(buf, key)
	return hasher(buf)
}

// XxHash hashes a key with xxHash.
func XxHash(key int64) uint64 {
	return hash64(xxhash.Sum64, key)
}

// MurmurHash hashes a key with MurmurHash3, matching the hasher
// original_source's HashFunction<KeyType> abstraction is backed by.
func MurmurHash(key int64) uint64 {
	return hash64(murmur3.Sum64, key)
}

// FakeHash is the identity hash, used by deterministic tests that need
// precise control over which bucket a key lands in.
func FakeHash(key int64) uint64 {
	return uint64(key)
}

// downcast narrows a 64-bit hash to 32 bits, matching the original
// ExtendibleHashTable::Hash helper.
func downcast(hash uint64) uint32 {
	return uint32(hash)
}
