// Package kv defines the key/value pair stored inside a hash bucket slot.
package kv

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Size is the number of bytes a marshalled Pair occupies on a page.
const Size = binary.MaxVarintLen64 * 2

// Pair is a key-value pair stored in a bucket slot.
type Pair struct {
	Key   int64
	Value int64
}

// New constructs a Pair with the given key and value.
func New(key, value int64) Pair {
	return Pair{Key: key, Value: value}
}

// Marshal serializes the pair into a fixed-size byte slice.
func (p Pair) Marshal() []byte {
	buf := make([]byte, Size)
	binary.PutVarint(buf[:Size/2], p.Key)
	binary.PutVarint(buf[Size/2:], p.Value)
	return buf
}

// Unmarshal deserializes a byte slice produced by Marshal back into a Pair.
func Unmarshal(data []byte) Pair {
	k, _ := binary.Varint(data[:len(data)/2])
	v, _ := binary.Varint(data[len(data)/2:])
	return Pair{Key: k, Value: v}
}

// Print writes the pair to w in the form "(key, value)".
func (p Pair) Print(w io.Writer) {
	fmt.Fprintf(w, "(%d, %d)", p.Key, p.Value)
}
