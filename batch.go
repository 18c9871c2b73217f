package logkv

import (
	"encoding/binary"
	"sync"

	"github.com/cqkv/logkv/model"
)

var batchCommitKey = []byte("logkv-batch-commit")

const defaultMaxBatchNum = 10000

type writeBatchOptions struct {
	maxBatchNum int
}

type WriteBatchOption func(*writeBatchOptions)

func WithMaxBatchNum(n int) WriteBatchOption {
	return func(o *writeBatchOptions) {
		o.maxBatchNum = n
	}
}

// WriteBatch stages writes and applies them atomically on Commit: after a
// crash either every write of a committed batch is visible or none is.
type WriteBatch struct {
	mu sync.Mutex

	db            *DB
	options       writeBatchOptions
	order         []string
	pendingWrites map[string]*model.Record
}

func (db *DB) NewWriteBatch(options ...WriteBatchOption) *WriteBatch {
	opts := writeBatchOptions{maxBatchNum: defaultMaxBatchNum}
	for _, opt := range options {
		opt(&opts)
	}

	return &WriteBatch{
		options:       opts,
		db:            db,
		pendingWrites: make(map[string]*model.Record),
	}
}

func (wb *WriteBatch) Put(key []byte, value []byte) error {
	if err := wb.db.checkKeyValue(key, value); err != nil {
		return err
	}

	wb.mu.Lock()
	defer wb.mu.Unlock()

	// store record temporarily
	return wb.stage(&model.Record{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})
}

func (wb *WriteBatch) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}

	wb.mu.Lock()
	defer wb.mu.Unlock()

	// if the data does not exist, only drop what is staged
	if wb.db.keydir.Get(key) == nil {
		if _, ok := wb.pendingWrites[string(key)]; ok {
			delete(wb.pendingWrites, string(key))
			wb.removeOrder(string(key))
		}
		return nil
	}

	return wb.stage(&model.Record{Key: append([]byte(nil), key...), IsDelete: true})
}

func (wb *WriteBatch) stage(record *model.Record) error {
	k := string(record.Key)
	if _, ok := wb.pendingWrites[k]; !ok {
		if len(wb.pendingWrites) >= wb.options.maxBatchNum {
			return ErrExceedMaxBatchNum
		}
		wb.order = append(wb.order, k)
	}
	wb.pendingWrites[k] = record
	return nil
}

func (wb *WriteBatch) removeOrder(k string) {
	for i, o := range wb.order {
		if o == k {
			wb.order = append(wb.order[:i], wb.order[i+1:]...)
			return
		}
	}
}

// Commit appends the staged records followed by a commit marker, then
// publishes them. The batch is empty again afterwards.
func (wb *WriteBatch) Commit() error {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if len(wb.pendingWrites) == 0 {
		return nil
	}

	db := wb.db
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.isClosed() {
		return ErrClosed
	}

	encoded := make([][]byte, 0, len(wb.order)+1)
	for _, k := range wb.order {
		record := wb.pendingWrites[k]
		data, _, err := db.codec.MarshalRecord(&model.Record{
			Key:      record.Key,
			Value:    record.Value,
			IsDelete: record.IsDelete,
			Flags:    model.FlagBatched,
		})
		if err != nil {
			return err
		}
		encoded = append(encoded, data)
	}

	// the marker carries the number of records it commits
	count := binary.BigEndian.AppendUint32(nil, uint32(len(wb.order)))
	marker, _, err := db.codec.MarshalRecord(&model.Record{Key: batchCommitKey, Value: count, Flags: model.FlagBatchCommit})
	if err != nil {
		return err
	}
	encoded = append(encoded, marker)

	positions, err := db.log.AppendBatch(encoded)
	if err != nil {
		return ioError("append batch", err)
	}

	db.mu.Lock()
	for i, k := range wb.order {
		record := wb.pendingWrites[k]
		db.applyRecord(record.Key, positions[i], record.IsDelete)
	}
	markerPos := positions[len(positions)-1]
	db.garbage[markerPos.Sid] += int64(markerPos.Size)
	db.mu.Unlock()

	wb.order = nil
	wb.pendingWrites = make(map[string]*model.Record)
	return nil
}
