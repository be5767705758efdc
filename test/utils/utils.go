// Package utils holds test helpers shared across the page store and hash
// index test suites.
package utils

import (
	"math/rand"
	"os"
	"testing"

	"xhash/pkg/hash"
)

// Salt is mixed into test values to keep tests from accidentally depending
// on hardcoded numbers matching.
var Salt int64 = rand.Int63n(1000) + 1

// GetTempDbFile creates a randomly-named file in the OS's temp directory for
// a test to use as its backing page store, removing it when the test ends.
func GetTempDbFile(t *testing.T) string {
	tmpfile, err := os.CreateTemp("", "*.db")
	if err != nil {
		t.Fatal(err)
	}
	_ = tmpfile.Close()

	t.Cleanup(func() {
		_ = os.Remove(tmpfile.Name())
	})
	return tmpfile.Name()
}

// InsertPair inserts (key, val) into index, failing the test if the
// operation errors.
func InsertPair(t *testing.T, index *hash.Index, key, val int64) {
	if _, err := index.Insert(key, val); err != nil {
		t.Errorf("failed to insert (%d, %d) into the index: %s", key, val, err)
	}
}

// CheckGetValue verifies that expectedVal is among the values index has
// stored for key, failing the test otherwise.
func CheckGetValue(t *testing.T, index *hash.Index, key, expectedVal int64) {
	values, err := index.GetValue(key)
	if err != nil {
		t.Errorf("failed to get value for key %d: %s", key, err)
		return
	}
	for _, v := range values {
		if v == expectedVal {
			return
		}
	}
	t.Errorf("expected key %d to have value %d among %v, but it didn't", key, expectedVal, values)
}
