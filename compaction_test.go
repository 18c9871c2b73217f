package logkv

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cqkv/logkv/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysOnDisk(t *testing.T, db *DB) map[string]int {
	keys := make(map[string]int)
	for _, seg := range db.log.Segments() {
		scanner := segment.NewScanner(seg, db.codec)
		for scanner.Next() {
			keys[string(scanner.Record().Key)]++
		}
		require.NoError(t, scanner.Err())
	}
	return keys
}

func TestDB_Compact_WithNoData(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	assert.Nil(t, db.Compact())
	assert.Equal(t, 1, db.Stat().SegmentNum)
}

func TestDB_Compact_WithAllValidData(t *testing.T) {
	db := openTestDB(t, t.TempDir(), WithSegmentSize(512))

	for i := 0; i < 100; i++ {
		err := db.Put([]byte(fmt.Sprintf("key-%v", i)), []byte(fmt.Sprintf("value-%v", rand.Int())))
		assert.Nil(t, err)
	}
	size := db.Stat().DiskSize

	require.NoError(t, db.Compact())
	assert.Equal(t, 100, len(db.ListKeys()))
	assert.Equal(t, size, db.Stat().DiskSize)
	assert.Equal(t, int64(0), db.Stat().ReclaimableSize)

	for i := 0; i < 100; i++ {
		_, err := db.Get([]byte(fmt.Sprintf("key-%v", i)))
		require.NoError(t, err)
	}
}

func TestDB_Compact_KeepsNewestValue(t *testing.T) {
	// every record gets a segment of its own
	db := openTestDB(t, t.TempDir(), WithSegmentSize(1))

	for _, v := range []string{"v1", "v2", "v3"} {
		require.NoError(t, db.Put([]byte("K"), []byte(v)))
	}
	before := db.Stat()
	assert.Equal(t, 3, before.SegmentNum)
	assert.Equal(t, 3*recordSize("K", "v1"), before.DiskSize)

	require.NoError(t, db.Compact())

	value, err := db.Get([]byte("K"))
	require.NoError(t, err)
	assert.Equal(t, "v3", string(value))

	after := db.Stat()
	assert.Equal(t, recordSize("K", "v3"), after.DiskSize)
	assert.Less(t, after.DiskSize, before.DiskSize)
	// one compacted segment and the empty active one
	assert.Equal(t, 2, after.SegmentNum)
	assert.Equal(t, map[string]int{"K": 1}, keysOnDisk(t, db))

	db = reopen(t, db, WithSegmentSize(1))
	value, err = db.Get([]byte("K"))
	require.NoError(t, err)
	assert.Equal(t, "v3", string(value))
}

func TestDB_Compact_DropsTombstones(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Put([]byte("other"), []byte("v")))
	require.NoError(t, db.Delete([]byte("k")))

	require.NoError(t, db.Compact())

	_, err := db.Get([]byte("k"))
	assert.Equal(t, ErrKeyNotFound, err)
	onDisk := keysOnDisk(t, db)
	assert.NotContains(t, onDisk, "k")
	assert.Equal(t, 1, onDisk["other"])

	db = reopen(t, db)
	_, err = db.Get([]byte("k"))
	assert.Equal(t, ErrKeyNotFound, err)
}

func TestDB_Compact_WithSomeInvalidData(t *testing.T) {
	db := openTestDB(t, t.TempDir(), WithSegmentSize(256))

	for i := 0; i < 10; i++ {
		err := db.Put([]byte(fmt.Sprintf("key-%v", i)), []byte(fmt.Sprintf("value-%v", i)))
		assert.Nil(t, err)
	}
	// delete some keys
	for i := 0; i < 5; i++ {
		err := db.Delete([]byte(fmt.Sprintf("key-%v", i)))
		assert.Nil(t, err)
	}

	require.NoError(t, db.Compact())
	assert.Equal(t, int64(0), db.Stat().ReclaimableSize)

	db = reopen(t, db, WithSegmentSize(256))
	assert.Equal(t, 5, len(db.ListKeys()))
}

func TestDB_Compact_Twice(t *testing.T) {
	db := openTestDB(t, t.TempDir(), WithSegmentSize(64))

	for round := 0; round < 3; round++ {
		for i := 0; i < 20; i++ {
			require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%v", i)), []byte(fmt.Sprintf("value-%v-%v", round, i))))
		}
		require.NoError(t, db.Compact())
	}

	db = reopen(t, db, WithSegmentSize(64))
	for i := 0; i < 20; i++ {
		value, err := db.Get([]byte(fmt.Sprintf("key-%v", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value-2-%v", i), string(value))
	}
	for key, n := range keysOnDisk(t, db) {
		assert.Equal(t, 1, n, key)
	}
}

func TestDB_CompactAsync(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	require.NoError(t, db.Put([]byte("a"), []byte("2")))

	select {
	case err := <-db.CompactAsync():
		assert.Nil(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("compaction did not finish")
	}

	value, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(value))
}

func TestDB_Compact_Running(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	db.compactMu.Lock()
	assert.Equal(t, ErrCompactionRunning, db.Compact())
	db.compactMu.Unlock()
	assert.Nil(t, db.Compact())
}

func TestDB_Compact_SkipsSupersededRecords(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	require.NoError(t, db.Put([]byte("a"), []byte("old")))

	// the older record of "a" is no longer live
	pos := db.keydir.Get([]byte("a"))
	require.NoError(t, db.Put([]byte("a"), []byte("new")))
	assert.False(t, db.isLive([]byte("a"), pos))

	require.NoError(t, db.Compact())
	value, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(value))
}

func TestDB_Compact_KeyRewrittenBeforeRedirect(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	require.NoError(t, db.Put([]byte("a"), []byte("old")))
	require.NoError(t, db.Put([]byte("b"), []byte("kept")))

	db.afterCompactionCommit = func() {
		// the copy of "a" is durable but not yet published
		require.NoError(t, db.Put([]byte("a"), []byte("new")))
	}
	require.NoError(t, db.Compact())
	db.afterCompactionCommit = nil

	value, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(value))
	value, err = db.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "kept", string(value))

	// the migrated copy of "a" lost the race and is reclaimable
	output := segment.MakeID(0, 1)
	assert.Equal(t, output, db.keydir.Get([]byte("b")).Sid)
	assert.Equal(t, recordSize("a", "old"), db.garbage[output])
	assert.Equal(t, recordSize("a", "old"), db.Stat().ReclaimableSize)

	db = reopen(t, db)
	value, err = db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(value))
	assert.Equal(t, recordSize("a", "old"), db.Stat().ReclaimableSize)
}

func TestDB_Compact_ConcurrentReadersAndWriter(t *testing.T) {
	db := openTestDB(t, t.TempDir(), WithSegmentSize(256))

	const keys = 50
	for i := 0; i < keys; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("key-%v", i)), []byte("value-0")))
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var readErr error
	var errOnce sync.Once

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				key := fmt.Sprintf("key-%v", rand.Intn(keys))
				value, err := db.Get([]byte(key))
				if err == nil && !strings.HasPrefix(string(value), "value-") {
					err = fmt.Errorf("unexpected value %q", value)
				}
				if err != nil {
					errOnce.Do(func() { readErr = err })
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for round := 1; round <= 20; round++ {
			for i := 0; i < keys; i++ {
				if err := db.Put([]byte(fmt.Sprintf("key-%v", i)), []byte(fmt.Sprintf("value-%v", round))); err != nil {
					errOnce.Do(func() { readErr = err })
					return
				}
			}
		}
	}()

	for i := 0; i < 5; i++ {
		err := db.Compact()
		if err != nil && !errors.Is(err, ErrCompactionRunning) {
			t.Fatal(err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	require.NoError(t, readErr)

	require.NoError(t, db.Compact())
	db = reopen(t, db, WithSegmentSize(256))
	for i := 0; i < keys; i++ {
		value, err := db.Get([]byte(fmt.Sprintf("key-%v", i)))
		require.NoError(t, err)
		assert.Equal(t, "value-20", string(value))
	}
}

func TestDB_BackgroundCompaction(t *testing.T) {
	db := openTestDB(t, t.TempDir(),
		WithSegmentSize(64),
		WithCompactionInterval(10*time.Millisecond),
		WithCompactionRatio(0.5),
		WithCompactionMinSegments(2),
	)

	for i := 0; i < 40; i++ {
		require.NoError(t, db.Put([]byte("same"), []byte(fmt.Sprintf("value-%v", i))))
	}
	all := 40 * recordSize("same", "value-10")

	assert.Eventually(t, func() bool {
		return !db.needCompaction() && db.Stat().DiskSize < all/2
	}, 5*time.Second, 10*time.Millisecond)

	value, err := db.Get([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, "value-39", string(value))
}

func TestDB_NeedCompaction(t *testing.T) {
	db := openTestDB(t, t.TempDir(), WithSegmentSize(1), WithCompactionMinSegments(2), WithCompactionRatio(0.5))

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	assert.False(t, db.needCompaction())

	require.NoError(t, db.Put([]byte("a"), []byte("2")))
	// one sealed segment only
	assert.False(t, db.needCompaction())

	require.NoError(t, db.Put([]byte("a"), []byte("3")))
	// two of three records are garbage
	assert.True(t, db.needCompaction())
}
