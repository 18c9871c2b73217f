package logkv

import (
	"fmt"

	"github.com/cqkv/logkv/codec"
	"github.com/cqkv/logkv/segment"
)

var (
	ErrEmptyKey      = addPrefix("the key is empty")
	ErrKeyTooLarge   = addPrefix("key is too large")
	ErrValueTooLarge = addPrefix("value is too large")
	ErrKeyNotFound   = addPrefix("key not found")

	// ErrIntegrity is returned when stored bytes do not match their checksum,
	// ErrMalformed (lengths pointing outside the record) wraps it
	ErrIntegrity       = codec.ErrIntegrity
	ErrMalformed       = codec.ErrMalformed
	ErrSegmentNotFound = segment.ErrNotFound
	// ErrLogFailed means a failed write could not be undone, reopen the db
	ErrLogFailed = segment.ErrFailed
	ErrIO              = addPrefix("io failure")

	ErrDirIsUsing        = addPrefix("directory is used by another process")
	ErrClosed            = addPrefix("db is closed")
	ErrCompactionRunning = addPrefix("compaction is in progress")
	ErrExceedMaxBatchNum = addPrefix("exceed the max batch num")
	ErrInvalidConfig     = addPrefix("invalid config")
)

func addPrefix(errStr string) error {
	return fmt.Errorf("logkv err: %s", errStr)
}

// ioError tags err as an ErrIO while keeping the cause
func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
