package codec

import (
	"errors"
	"fmt"

	"github.com/cqkv/logkv/model"
)

var (
	ErrIntegrity = errors.New("logkv err: record checksum mismatch")
	// ErrMalformed wraps ErrIntegrity, a malformed record is treated as corrupt
	ErrMalformed = fmt.Errorf("%w: malformed record", ErrIntegrity)
)

type Codec interface {
	// MarshalRecord return record data and the data size
	MarshalRecord(*model.Record) ([]byte, int64, error)

	// UnmarshalRecordHeader decodes the fixed size header at the start of data
	UnmarshalRecordHeader([]byte, *model.RecordHeader) error

	// RecordSize is the full encoded size of the record described by header
	RecordSize(*model.RecordHeader) int64

	// UnmarshalRecord verifies the checksum of one complete record and decodes it
	UnmarshalRecord([]byte, *model.Record) error
}
