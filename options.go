package logkv

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cqkv/logkv/checksum"
	"github.com/cqkv/logkv/fio"
	"github.com/cqkv/logkv/keydir"
)

const (
	DefaultSegmentSize           int64 = 16 << 20
	DefaultMaxKeySize                  = 64 << 10
	DefaultMaxValueSize                = 64 << 20
	DefaultCompactionRatio             = 0.5
	DefaultCompactionMinSegments       = 2
)

type options struct {
	segmentSize int64
	checksum    string
	keydirType  keydir.Type

	maxKeySize   int
	maxValueSize int

	// zero interval disables background compaction
	compactionInterval    time.Duration
	compactionRatio       float64
	compactionMinSegments int

	ioCreator fio.Creator
	logger    *slog.Logger
}

type Option func(*options)

func defaultOptions() *options {
	return &options{
		segmentSize:           DefaultSegmentSize,
		checksum:              checksum.CRC32IEEE,
		keydirType:            keydir.HashMapType,
		maxKeySize:            DefaultMaxKeySize,
		maxValueSize:          DefaultMaxValueSize,
		compactionRatio:       DefaultCompactionRatio,
		compactionMinSegments: DefaultCompactionMinSegments,
		ioCreator:             fio.NewFileIO,
		logger:                slog.Default(),
	}
}

func (o *options) validate() error {
	if o.segmentSize <= 0 {
		return fmt.Errorf("%w: segment size must be positive, got %d", ErrInvalidConfig, o.segmentSize)
	}
	if o.maxKeySize <= 0 || o.maxValueSize < 0 {
		return fmt.Errorf("%w: max key size %d, max value size %d", ErrInvalidConfig, o.maxKeySize, o.maxValueSize)
	}
	if o.compactionInterval < 0 {
		return fmt.Errorf("%w: negative compaction interval", ErrInvalidConfig)
	}
	if o.compactionRatio < 0 || o.compactionRatio > 1 {
		return fmt.Errorf("%w: compaction ratio must be within [0, 1], got %v", ErrInvalidConfig, o.compactionRatio)
	}
	if o.ioCreator == nil || o.logger == nil {
		return fmt.Errorf("%w: io creator and logger are required", ErrInvalidConfig)
	}
	return nil
}

// WithSegmentSize sets the size after which the active segment is rotated
func WithSegmentSize(size int64) Option {
	return func(o *options) {
		o.segmentSize = size
	}
}

// WithChecksum selects the record checksum, see package checksum.
// A directory must always be opened with the algorithm it was written with.
func WithChecksum(name string) Option {
	return func(o *options) {
		o.checksum = name
	}
}

func WithKeydirType(typ keydir.Type) Option {
	return func(o *options) {
		o.keydirType = typ
	}
}

func WithMaxKeySize(size int) Option {
	return func(o *options) {
		o.maxKeySize = size
	}
}

func WithMaxValueSize(size int) Option {
	return func(o *options) {
		o.maxValueSize = size
	}
}

// WithCompactionInterval enables background compaction, checked every interval
func WithCompactionInterval(interval time.Duration) Option {
	return func(o *options) {
		o.compactionInterval = interval
	}
}

// WithCompactionRatio is the reclaimable / total bytes ratio that triggers background compaction
func WithCompactionRatio(ratio float64) Option {
	return func(o *options) {
		o.compactionRatio = ratio
	}
}

// WithCompactionMinSegments is the number of sealed segments background compaction waits for
func WithCompactionMinSegments(n int) Option {
	return func(o *options) {
		o.compactionMinSegments = n
	}
}

func WithIOCreator(fn fio.Creator) Option {
	return func(o *options) {
		o.ioCreator = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
