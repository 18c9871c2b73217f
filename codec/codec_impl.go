package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cqkv/logkv/checksum"
	"github.com/cqkv/logkv/model"
)

var _ Codec = (*CodecImpl)(nil)

type CodecImpl struct {
	sum checksum.Checksum
}

func NewCodecImpl(sum checksum.Checksum) *CodecImpl {
	if sum == nil {
		sum = checksum.Default()
	}
	return &CodecImpl{sum: sum}
}

/*
default codec, all integers big endian:
	keySize(4) | valueSize(4) | flags(1) | key | value | checksum(4 or 8)
the checksum covers everything before it
*/

// MarshalRecord return record data and the data size
func (cl *CodecImpl) MarshalRecord(record *model.Record) ([]byte, int64, error) {
	if uint64(len(record.Key)) > math.MaxUint32 || uint64(len(record.Value)) > math.MaxUint32 {
		return nil, 0, fmt.Errorf("record too large: key %d bytes, value %d bytes", len(record.Key), len(record.Value))
	}

	flags := record.Flags &^ model.FlagTombstone
	if record.IsDelete {
		flags |= model.FlagTombstone
	}

	size := model.HeaderSize + len(record.Key) + len(record.Value) + cl.sum.Size()
	data := make([]byte, model.HeaderSize, size)
	binary.BigEndian.PutUint32(data[0:4], uint32(len(record.Key)))
	binary.BigEndian.PutUint32(data[4:8], uint32(len(record.Value)))
	data[8] = flags
	data = append(data, record.Key...)
	data = append(data, record.Value...)
	data = cl.sum.Sum(data, data)

	return data, int64(len(data)), nil
}

func (cl *CodecImpl) UnmarshalRecordHeader(data []byte, header *model.RecordHeader) error {
	if len(data) < model.HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformed, model.HeaderSize, len(data))
	}
	header.KeySize = binary.BigEndian.Uint32(data[0:4])
	header.ValueSize = binary.BigEndian.Uint32(data[4:8])
	header.Flags = data[8]
	return nil
}

func (cl *CodecImpl) RecordSize(header *model.RecordHeader) int64 {
	return int64(model.HeaderSize) + int64(header.KeySize) + int64(header.ValueSize) + int64(cl.sum.Size())
}

func (cl *CodecImpl) UnmarshalRecord(data []byte, record *model.Record) error {
	header := new(model.RecordHeader)
	if err := cl.UnmarshalRecordHeader(data, header); err != nil {
		return err
	}

	size := cl.RecordSize(header)
	if size != int64(len(data)) {
		return fmt.Errorf("%w: lengths describe %d bytes, got %d", ErrMalformed, size, len(data))
	}

	body := data[:size-int64(cl.sum.Size())]
	if !cl.sum.Verify(body, data[len(body):]) {
		return ErrIntegrity
	}

	kz := model.HeaderSize + int(header.KeySize)
	record.Key = data[model.HeaderSize:kz]
	record.Value = data[kz:len(body)]
	record.IsDelete = header.IsDelete()
	record.Flags = header.Flags &^ model.FlagTombstone
	return nil
}
