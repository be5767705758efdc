package utils

import "math/rand"

// KeyValuePair is a pair of key and value int64s.
type KeyValuePair struct {
	Key int64
	Val int64
}

// GenerateRandomKeyValuePairs generates n random key-value pairs with unique
// keys, returning the pairs in insertion order alongside a map from key to
// expected value.
func GenerateRandomKeyValuePairs(n int64) ([]KeyValuePair, map[int64]int64) {
	pairs := make([]KeyValuePair, n)
	answerKey := make(map[int64]int64, n)
	for i := int64(0); i < n; i++ {
	genKey:
		key := rand.Int63()
		if _, ok := answerKey[key]; ok {
			goto genKey
		}
		val := rand.Int63()
		answerKey[key] = val
		pairs[i] = KeyValuePair{Key: key, Val: val}
	}
	return pairs, answerKey
}
