package segment

import (
	"fmt"
	"math"

	"github.com/cqkv/logkv/codec"
	"github.com/cqkv/logkv/model"
)

// Scanner walks the records of one segment in offset order.
// It stops at the first record that cannot be read back whole and verified,
// Offset then reports where the last valid record ends.
type Scanner struct {
	seg   Segment
	codec codec.Codec
	size  int64

	offset int64
	record model.Record
	pos    model.RecordPos
	err    error
}

func NewScanner(seg Segment, c codec.Codec) *Scanner {
	return &Scanner{seg: seg, codec: c, size: seg.Size()}
}

func (s *Scanner) Next() bool {
	if s.err != nil || s.offset >= s.size {
		return false
	}

	remain := s.size - s.offset
	if remain < model.HeaderSize {
		s.err = fmt.Errorf("%w: torn header at %s:%d", codec.ErrMalformed, FormatID(s.seg.ID()), s.offset)
		return false
	}

	headerData, err := s.seg.ReadAt(s.offset, model.HeaderSize)
	if err != nil {
		s.err = err
		return false
	}
	header := new(model.RecordHeader)
	if err = s.codec.UnmarshalRecordHeader(headerData, header); err != nil {
		s.err = err
		return false
	}

	size := s.codec.RecordSize(header)
	if size > remain || size > math.MaxUint32 {
		s.err = fmt.Errorf("%w: record of %d bytes at %s:%d overruns segment end", codec.ErrMalformed, size, FormatID(s.seg.ID()), s.offset)
		return false
	}

	data, err := s.seg.ReadAt(s.offset, uint32(size))
	if err != nil {
		s.err = err
		return false
	}
	s.record = model.Record{}
	if err = s.codec.UnmarshalRecord(data, &s.record); err != nil {
		s.err = fmt.Errorf("%w at %s:%d", err, FormatID(s.seg.ID()), s.offset)
		return false
	}

	s.pos = model.RecordPos{Sid: s.seg.ID(), Offset: s.offset, Size: uint32(size)}
	s.offset += size
	return true
}

// Record is only valid until the next call to Next
func (s *Scanner) Record() *model.Record {
	return &s.record
}

func (s *Scanner) Pos() *model.RecordPos {
	pos := s.pos
	return &pos
}

// Offset is the end of the last record returned by Next
func (s *Scanner) Offset() int64 {
	return s.offset
}

// Err is nil when the scan reached the end of the segment cleanly
func (s *Scanner) Err() error {
	return s.err
}
