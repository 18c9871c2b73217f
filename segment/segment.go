package segment

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cqkv/logkv/fio"
)

const (
	FileSuffix = ".seg"
	TmpSuffix  = ".seg.tmp"

	partBits = 16
	MaxPart  = 1<<partBits - 1
)

var (
	ErrNotFound = errors.New("logkv err: segment not found")
	// ErrFailed is returned by every append once a failed write could not be
	// undone on disk, the directory has to be reopened
	ErrFailed = errors.New("logkv err: segment log failed")
)

// MakeID packs a rotation sequence and a compaction part into one id.
// Rotation bumps seq, compaction output of a snapshot ending at seq s
// takes (s, part+1), so numeric order is the order records must be replayed in.
func MakeID(seq uint64, part uint16) uint64 {
	return seq<<partBits | uint64(part)
}

func Seq(id uint64) uint64 {
	return id >> partBits
}

func Part(id uint64) uint16 {
	return uint16(id & MaxPart)
}

func FormatID(id uint64) string {
	return fmt.Sprintf("%012d-%05d", Seq(id), Part(id))
}

// FileName is the path of segment id in dir
func FileName(dir string, id uint64) string {
	return filepath.Join(dir, FormatID(id)+FileSuffix)
}

func tmpFileName(dir string, id uint64) string {
	return filepath.Join(dir, FormatID(id)+TmpSuffix)
}

// ParseFileName returns the id encoded in a segment file name
func ParseFileName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, FileSuffix) {
		return 0, false
	}
	seqStr, partStr, ok := strings.Cut(strings.TrimSuffix(name, FileSuffix), "-")
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil || seq > 1<<(64-partBits)-1 {
		return 0, false
	}
	part, err := strconv.ParseUint(partStr, 10, partBits)
	if err != nil {
		return 0, false
	}
	return MakeID(seq, uint16(part)), true
}

// Segment is the read side shared by sealed and active segments
type Segment interface {
	ID() uint64
	Size() int64
	ReadAt(offset int64, n uint32) ([]byte, error)
}

type reader struct {
	id   uint64
	path string
	io   fio.IOManager
}

func (r *reader) ID() uint64 {
	return r.id
}

func (r *reader) Path() string {
	return r.path
}

func (r *reader) ReadAt(offset int64, n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.io.Read(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// Sealed is an immutable segment, it can only be read
type Sealed struct {
	reader
	size int64
}

func (s *Sealed) Size() int64 {
	return s.size
}

func (s *Sealed) close() error {
	return s.io.Close()
}

// Active is the only segment accepting appends
type Active struct {
	reader
	size atomic.Int64
	// set when a failed append could not be rolled back, the file end no
	// longer matches size and nothing may be appended anymore
	failed error
}

func newActive(id uint64, path string, ioManager fio.IOManager) (*Active, error) {
	size, err := ioManager.Size()
	if err != nil {
		return nil, err
	}
	a := &Active{reader: reader{id: id, path: path, io: ioManager}}
	a.size.Store(size)
	return a, nil
}

func (a *Active) Size() int64 {
	return a.size.Load()
}

// Append writes data at the end of the segment and returns its offset.
// The data is on disk when Append returns if sync is set.
func (a *Active) Append(data []byte, sync bool) (int64, error) {
	if a.failed != nil {
		return 0, a.failed
	}

	offset := a.size.Load()
	n, err := a.io.Write(data)
	if err == nil && sync {
		err = a.io.Sync()
	}
	if err != nil {
		if n > 0 {
			// drop the unacknowledged bytes so the next append starts on a record boundary
			a.rollback(offset)
		}
		return 0, err
	}
	a.size.Add(int64(n))
	return offset, nil
}

// rollback cuts the file back to size. If that fails the segment is marked
// failed: its tail holds bytes no caller was told about.
func (a *Active) rollback(size int64) {
	if err := a.truncate(size); err != nil {
		a.failed = fmt.Errorf("%w: segment %s: rollback to %d: %w", ErrFailed, FormatID(a.id), size, err)
	}
}

// Err is the reason the segment refuses appends, nil while it is usable
func (a *Active) Err() error {
	return a.failed
}

func (a *Active) Sync() error {
	return a.io.Sync()
}

func (a *Active) truncate(size int64) error {
	if err := a.io.Truncate(size); err != nil {
		return err
	}
	a.size.Store(size)
	return nil
}

// seal flushes the segment and hands its file to a read only Sealed
func (a *Active) seal() (*Sealed, error) {
	if err := a.io.Sync(); err != nil {
		return nil, err
	}
	return &Sealed{reader: a.reader, size: a.size.Load()}, nil
}
