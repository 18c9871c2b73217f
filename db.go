package logkv

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cqkv/logkv/checksum"
	"github.com/cqkv/logkv/codec"
	"github.com/cqkv/logkv/fio"
	"github.com/cqkv/logkv/keydir"
	"github.com/cqkv/logkv/model"
	"github.com/cqkv/logkv/segment"
)

// DB is a log structured key value store. Writes are serialized, reads run
// concurrently with writes and with compaction.
type DB struct {
	// writeMu serializes the single writer: Put, Delete, batch commit and rotation
	writeMu sync.Mutex
	// mu guards the keydir and the reclaimable byte counts. Readers hold it from
	// the keydir lookup until the record is read so a segment is never retired
	// under them.
	mu        sync.RWMutex
	compactMu sync.Mutex

	dirPath string
	flock   fio.FileLocker
	log     *segment.Log
	keydir  keydir.Keydir
	codec   codec.Codec
	logger  *slog.Logger

	// reclaimable bytes per segment: superseded records, tombstones and batch markers
	garbage map[uint64]int64
	closed  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	options *options

	// called between writing the compaction output and redirecting the keydir
	afterCompactionCommit func()
}

// Open opens or creates the store in dirPath and rebuilds the keydir from
// its segments. It fails if the directory is unusable, held by another
// process, or a sealed segment does not pass verification.
func Open(dirPath string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	sum, err := checksum.New(o.checksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	kd, err := keydir.New(o.keydirType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err = os.MkdirAll(dirPath, os.ModePerm); err != nil {
		return nil, ioError("create dir", err)
	}

	flock := fio.NewFlock(dirPath)
	locked, err := flock.TryLock()
	if err != nil {
		return nil, ioError("lock dir", err)
	}
	if !locked {
		return nil, ErrDirIsUsing
	}

	db := &DB{
		dirPath: dirPath,
		flock:   flock,
		keydir:  kd,
		codec:   codec.NewCodecImpl(sum),
		logger:  o.logger.With("db", dirPath),
		garbage: make(map[uint64]int64),
		stopCh:  make(chan struct{}),
		options: o,
	}

	if err = db.load(); err != nil {
		if db.log != nil {
			_ = db.log.Close()
		}
		_ = flock.Unlock()
		return nil, err
	}

	if o.compactionInterval > 0 {
		db.wg.Add(1)
		go db.runCompactionScheduler()
	}

	return db, nil
}

func (db *DB) load() error {
	var err error
	db.log, err = segment.Open(segment.Options{
		Dir:         db.dirPath,
		SegmentSize: db.options.segmentSize,
		IOCreator:   db.options.ioCreator,
		Logger:      db.logger,
	})
	if err != nil {
		return ioError("open segments", err)
	}

	validSize, err := db.loadKeydir(db.keydir, db.garbage)
	if err != nil {
		return err
	}
	if err = db.log.Activate(validSize); err != nil {
		return ioError("activate segment", err)
	}

	db.logger.Info("db opened",
		"segments", len(db.log.Segments()),
		"keys", db.keydir.Size(),
		"active", segment.FormatID(db.log.ActiveID()))
	return nil
}

func (db *DB) Put(key []byte, value []byte) error {
	if err := db.checkKeyValue(key, value); err != nil {
		return err
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.isClosed() {
		return ErrClosed
	}

	// append record in active segment
	pos, err := db.appendRecord(&model.Record{Key: key, Value: value})
	if err != nil {
		return err
	}

	// the record is durable, now it can be published
	db.mu.Lock()
	db.applyRecord(key, pos, false)
	db.mu.Unlock()
	return nil
}

func (db *DB) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}

	pos := db.keydir.Get(key)
	if pos == nil {
		return nil, ErrKeyNotFound
	}

	record, err := db.readRecord(pos)
	if err != nil {
		return nil, err
	}
	if record.IsDelete || !bytes.Equal(record.Key, key) {
		return nil, fmt.Errorf("%w: keydir entry for %q points at another record", ErrIntegrity, key)
	}
	return record.Value, nil
}

// Delete appends a tombstone for key. Deleting a missing key is a no-op.
func (db *DB) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.isClosed() {
		return ErrClosed
	}

	// if the key does not exist, there is nothing to shadow
	if db.keydir.Get(key) == nil {
		return nil
	}

	pos, err := db.appendRecord(&model.Record{Key: key, IsDelete: true})
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.applyRecord(key, pos, true)
	db.mu.Unlock()
	return nil
}

// Sync flushes the active segment
func (db *DB) Sync() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.isClosed() {
		return ErrClosed
	}
	return ioError("sync", db.log.Sync())
}

// Close stops background compaction, flushes and closes every segment and
// releases the directory lock. Calling it again is a no-op.
func (db *DB) Close() error {
	db.stopOnce.Do(func() {
		close(db.stopCh)
	})
	db.wg.Wait()

	db.compactMu.Lock()
	defer db.compactMu.Unlock()
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	var errs []error
	if err := db.log.Close(); err != nil {
		errs = append(errs, ioError("close segments", err))
	}
	if err := db.keydir.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := db.flock.Unlock(); err != nil {
		errs = append(errs, ioError("unlock dir", err))
	}

	db.logger.Info("db closed")
	return errors.Join(errs...)
}

// ListKeys returns every live key in byte order
func (db *DB) ListKeys() [][]byte {
	it := db.keydir.Iterator()
	defer it.Close()

	keys := make([][]byte, 0, db.keydir.Size())
	for ; it.Valid(); it.Next() {
		keys = append(keys, it.Key())
	}
	return keys
}

// Fold calls fn for every live key and its value, in key order, stopping at
// the first error. Keys deleted while folding are skipped.
func (db *DB) Fold(fn func(key, value []byte) error) error {
	it := db.keydir.Iterator()
	defer it.Close()

	for ; it.Valid(); it.Next() {
		value, err := db.Get(it.Key())
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return err
		}
		if err = fn(it.Key(), value); err != nil {
			return err
		}
	}
	return nil
}

// Stat describes the current size of the store
type Stat struct {
	KeyNum          int
	SegmentNum      int
	DiskSize        int64
	ReclaimableSize int64
}

func (db *DB) Stat() Stat {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var reclaimable int64
	for _, n := range db.garbage {
		reclaimable += n
	}
	return Stat{
		KeyNum:          db.keydir.Size(),
		SegmentNum:      len(db.log.Segments()),
		DiskSize:        db.log.DiskSize(),
		ReclaimableSize: reclaimable,
	}
}

func (db *DB) checkKeyValue(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > db.options.maxKeySize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrKeyTooLarge, len(key), db.options.maxKeySize)
	}
	if len(value) > db.options.maxValueSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrValueTooLarge, len(value), db.options.maxValueSize)
	}
	return nil
}

func (db *DB) isClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

// appendRecord must be called with writeMu held
func (db *DB) appendRecord(record *model.Record) (*model.RecordPos, error) {
	data, _, err := db.codec.MarshalRecord(record)
	if err != nil {
		return nil, err
	}
	pos, err := db.log.Append(data)
	if err != nil {
		return nil, ioError("append record", err)
	}
	return pos, nil
}

// readRecord must be called with mu held
func (db *DB) readRecord(pos *model.RecordPos) (*model.Record, error) {
	data, err := db.log.Read(pos.Sid, pos.Offset, pos.Size)
	if err != nil {
		if errors.Is(err, segment.ErrNotFound) {
			return nil, err
		}
		return nil, ioError("read record", err)
	}

	record := new(model.Record)
	if err = db.codec.UnmarshalRecord(data, record); err != nil {
		return nil, fmt.Errorf("%w: segment %s offset %d", err, segment.FormatID(pos.Sid), pos.Offset)
	}
	return record, nil
}

// applyRecord publishes a durable record in the keydir and accounts the
// bytes it makes reclaimable. Callers hold mu, or own the db during load.
func (db *DB) applyRecord(key []byte, pos *model.RecordPos, isDelete bool) {
	applyRecord(db.keydir, db.garbage, key, pos, isDelete)
}

func applyRecord(kd keydir.Keydir, garbage map[uint64]int64, key []byte, pos *model.RecordPos, isDelete bool) {
	var old *model.RecordPos
	if isDelete {
		old = kd.Delete(key)
		// a tombstone is never referenced
		garbage[pos.Sid] += int64(pos.Size)
	} else {
		old = kd.Put(key, pos)
	}
	if old != nil {
		garbage[old.Sid] += int64(old.Size)
	}
}
