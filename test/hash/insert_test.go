package hash_test

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"xhash/pkg/hash"
	"xhash/test/utils"

	"golang.org/x/sync/errgroup"
)

// Mod vals by this value to prevent hardcoding tests
var hashSalt = utils.Salt

// setupHash creates and opens an empty Index backed by FakeHash, so tests can
// predict exactly which directory slot a key lands in.
func setupHash(t *testing.T) *hash.Index {
	t.Parallel()
	dbName := utils.GetTempDbFile(t)
	index, err := hash.OpenIndex(dbName, hash.FakeHash, hash.IntComparator)
	if err != nil {
		t.Fatal("failed to create hash index:", err)
	}
	return index
}

// closeAndReopen closes and reopens the specified Index, which should
// trigger writing/reading its data from disk.
func closeAndReopen(t *testing.T, index *hash.Index) *hash.Index {
	filename := index.Pager().FileName()
	if err := index.Close(); err != nil {
		t.Fatal("failed to close hash index:", err)
	}

	reopened, err := hash.OpenIndex(filename, hash.FakeHash, hash.IntComparator)
	if err != nil {
		t.Error("failed to reopen hash index:", err)
	}
	return reopened
}

// Maps subtest name to the InsertTestData to use
type InsertTestsMap map[string]InsertTestData

type InsertTestData struct {
	numInserts  int64 // how many insertions to execute
	writeToDisk bool  // whether to write to disk
}

func TestHashInsert(t *testing.T) {
	t.Run("Splitting", testHashSplitting)
	t.Run("Ascending", testInsertAscending)
	t.Run("Random", testInsertRandom)
}

// Inserts sequential keys under the identity hash, which spreads them evenly
// across directory slots, until the directory has grown past its initial
// depth. Continues inserting a bit further, then checks every inserted pair
// is still found and the resulting table is internally consistent.
func testHashSplitting(t *testing.T) {
	index := setupHash(t)
	targetDepth := int64(4)

	toFind := make(map[int64]int64)
	key := int64(0)
	for {
		depth, err := index.GetGlobalDepth()
		if err != nil {
			t.Fatal("failed to read global depth:", err)
		}
		if depth >= targetDepth {
			break
		}
		val := key % hashSalt
		utils.InsertPair(t, index, key, val)
		toFind[key] = val
		key++
		if key > 200_000 {
			t.Fatal("failed to reach target depth within a reasonable number of inserts")
		}
	}

	// Keep going a bit further so more than one bucket has split more than once.
	for i := 0; i < 500; i++ {
		val := key % hashSalt
		utils.InsertPair(t, index, key, val)
		toFind[key] = val
		key++
	}

	for k, v := range toFind {
		utils.CheckGetValue(t, index, k, v)
	}
	if err := index.VerifyIntegrity(); err != nil {
		t.Error("index failed integrity check after splitting:", err)
	}
	index.Close()
}

// Given InsertTestData, stages a testing function to insert ascending entries.
func stageInsertAscending(testData InsertTestData) func(t *testing.T) {
	return func(t *testing.T) {
		index := setupHash(t)
		secondSalt := rand.Int63n(1000) + 1

		for i := int64(0); i < testData.numInserts; i++ {
			utils.InsertPair(t, index, i, (i*secondSalt)%hashSalt)
		}
		if t.Failed() {
			t.FailNow()
		}

		if testData.writeToDisk {
			index = closeAndReopen(t, index)
		}

		for i := int64(0); i < testData.numInserts; i++ {
			utils.CheckGetValue(t, index, i, (i*secondSalt)%hashSalt)
		}
		index.Close()
	}
}

// Inserts a variable number of ascending keys and somewhat ascending values
// into an Index, checking that they can be found with and without
// closing/flushing the index's data to disk.
func testInsertAscending(t *testing.T) {
	insertAscendingTests := InsertTestsMap{
		"TenNoWrite":        {10, false},
		"TenWithWrite":      {10, true},
		"ThousandNoWrite":   {1000, false},
		"ThousandWithWrite": {1000, true},
	}
	for name, testData := range insertAscendingTests {
		t.Run(name, stageInsertAscending(testData))
	}
}

// Given InsertTestData, stages a testing function for inserting random entries.
func stageInsertRandom(testData InsertTestData) func(t *testing.T) {
	return func(t *testing.T) {
		index := setupHash(t)
		pairs, answerKey := utils.GenerateRandomKeyValuePairs(testData.numInserts)
		for _, pair := range pairs {
			utils.InsertPair(t, index, pair.Key, pair.Val)
		}
		if t.Failed() {
			t.FailNow()
		}

		if testData.writeToDisk {
			index = closeAndReopen(t, index)
		}

		for k, v := range answerKey {
			utils.CheckGetValue(t, index, k, v)
		}
		index.Close()
	}
}

// Inserts a variable number of random keys and values into an Index,
// checking that they can be found with and without closing/flushing the
// index's data to disk.
func testInsertRandom(t *testing.T) {
	tests := InsertTestsMap{
		"ThousandNoWrite":   {1000, false},
		"ThousandWithWrite": {1000, true},
	}
	for name, testData := range tests {
		t.Run(name, stageInsertRandom(testData))
	}
}

// Removing every key that was inserted should, over time, shrink the
// directory back down rather than leaving it permanently expanded.
func TestHashMergeShrinksDirectory(t *testing.T) {
	index := setupHash(t)
	const n = int64(3000)

	for i := int64(0); i < n; i++ {
		utils.InsertPair(t, index, i, i%hashSalt)
	}
	depthAfterInsert, err := index.GetGlobalDepth()
	if err != nil {
		t.Fatal(err)
	}
	if depthAfterInsert <= 1 {
		t.Fatalf("expected inserting %d keys to grow the directory past its initial depth, stayed at %d", n, depthAfterInsert)
	}

	for i := int64(0); i < n; i++ {
		ok, err := index.Remove(i, i%hashSalt)
		if err != nil {
			t.Errorf("failed to remove key %d: %s", i, err)
		}
		if !ok {
			t.Errorf("expected to remove key %d, but it was reported absent", i)
		}
	}

	depthAfterRemove, err := index.GetGlobalDepth()
	if err != nil {
		t.Fatal(err)
	}
	if depthAfterRemove >= depthAfterInsert {
		t.Errorf("expected removing every key to shrink the directory below depth %d, still at %d", depthAfterInsert, depthAfterRemove)
	}

	if err := index.VerifyIntegrity(); err != nil {
		t.Error("index failed integrity check after merging:", err)
	}
	for i := int64(0); i < 5; i++ {
		values, err := index.GetValue(i)
		if err != nil {
			t.Fatal(err)
		}
		if len(values) != 0 {
			t.Errorf("expected key %d to be gone after removal, found %v", i, values)
		}
	}
	index.Close()
}

// Duplicate keys with distinct values are allowed; an exact (key, value)
// duplicate is not.
func TestHashAllowsDuplicateKeysRejectsDuplicatePairs(t *testing.T) {
	index := setupHash(t)

	ok, err := index.Insert(1, 100)
	if err != nil || !ok {
		t.Fatalf("first insert of (1, 100) should succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = index.Insert(1, 200)
	if err != nil || !ok {
		t.Fatalf("inserting (1, 200) alongside (1, 100) should succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = index.Insert(1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected inserting the exact pair (1, 100) again to be rejected")
	}

	utils.CheckGetValue(t, index, 1, 100)
	utils.CheckGetValue(t, index, 1, 200)
	index.Close()
}

// Print should dump every directory slot and the buckets they point at after
// 20 sequential inserts under FakeHash (too few to split either initial
// bucket).
func TestHashPrint(t *testing.T) {
	index := setupHash(t)
	for i := int64(0); i < 20; i++ {
		utils.InsertPair(t, index, i, i%hashSalt)
	}

	var buf strings.Builder
	if err := index.Print(&buf); err != nil {
		t.Fatal("Print failed:", err)
	}
	out := buf.String()
	if !strings.Contains(out, "directory page id") {
		t.Errorf("expected Print output to describe the directory page, got: %s", out)
	}
	if !strings.Contains(out, "bucket page") {
		t.Errorf("expected Print output to describe at least one bucket page, got: %s", out)
	}
	index.Close()
}

// Concurrent inserters and readers hitting the same index shouldn't corrupt
// it or deadlock; the resulting table should still satisfy every invariant.
func TestHashConcurrentInsertAndGet(t *testing.T) {
	index := setupHash(t)
	const numWorkers = 8
	const insertsPerWorker = 500

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < numWorkers; w++ {
		worker := int64(w)
		g.Go(func() error {
			for i := int64(0); i < insertsPerWorker; i++ {
				key := worker*insertsPerWorker + i
				if _, err := index.Insert(key, key%hashSalt); err != nil {
					return err
				}
				if _, err := index.GetValue(key); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal("concurrent insert/get failed:", err)
	}

	for w := int64(0); w < numWorkers; w++ {
		for i := int64(0); i < insertsPerWorker; i++ {
			key := w*insertsPerWorker + i
			utils.CheckGetValue(t, index, key, key%hashSalt)
		}
	}
	if err := index.VerifyIntegrity(); err != nil {
		t.Error("index failed integrity check after concurrent access:", err)
	}
	index.Close()
}
