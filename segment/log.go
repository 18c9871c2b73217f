package segment

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cqkv/logkv/fio"
	"github.com/cqkv/logkv/model"
)

type Options struct {
	Dir         string
	SegmentSize int64
	IOCreator   fio.Creator
	Logger      *slog.Logger
}

// Log owns every segment file of a directory. Appends and rotation come from a
// single writer; reads may run concurrently with them.
type Log struct {
	dir         string
	segmentSize int64
	ioCreator   fio.Creator
	logger      *slog.Logger
	remove      func(path string) error

	mu     sync.RWMutex
	active *Active
	sealed map[uint64]*Sealed
}

// Open discovers the segment files in dir. Every segment starts sealed,
// call Activate once the newest one has been validated.
func Open(opts Options) (*Log, error) {
	if opts.IOCreator == nil {
		opts.IOCreator = fio.NewFileIO
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	l := &Log{
		dir:         opts.Dir,
		segmentSize: opts.SegmentSize,
		ioCreator:   opts.IOCreator,
		logger:      opts.Logger,
		remove:      os.Remove,
		sealed:      make(map[uint64]*Sealed),
	}

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		// leftovers of an interrupted compaction, never referenced by anything
		if strings.HasSuffix(name, TmpSuffix) {
			l.logger.Warn("removing unfinished compaction output", "file", name)
			if err = os.Remove(filepath.Join(l.dir, name)); err != nil {
				_ = l.Close()
				return nil, err
			}
			continue
		}

		id, ok := ParseFileName(name)
		if !ok {
			continue
		}
		ioManager, err := l.ioCreator(FileName(l.dir, id))
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		size, err := ioManager.Size()
		if err != nil {
			_ = ioManager.Close()
			_ = l.Close()
			return nil, err
		}
		l.sealed[id] = &Sealed{reader: reader{id: id, path: FileName(l.dir, id), io: ioManager}, size: size}
	}

	return l, nil
}

func (l *Log) Dir() string {
	return l.dir
}

// Activate opens the newest segment for appends after cutting it back to
// validSize. An empty log starts with segment 0.
func (l *Log) Activate(validSize int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != nil {
		return errors.New("logkv err: segment log already active")
	}

	ids := l.sortedIDs()
	if len(ids) == 0 {
		active, err := l.createActive(MakeID(0, 0))
		if err != nil {
			return err
		}
		l.active = active
		return nil
	}

	tail := l.sealed[ids[len(ids)-1]]
	active := &Active{reader: tail.reader}
	active.size.Store(tail.size)
	if validSize < tail.size {
		if err := active.truncate(validSize); err != nil {
			return err
		}
	}
	delete(l.sealed, tail.id)
	l.active = active
	return nil
}

// Segments lists every live segment, oldest first, the active one last
func (l *Log) Segments() []Segment {
	l.mu.RLock()
	defer l.mu.RUnlock()

	segments := make([]Segment, 0, len(l.sealed)+1)
	for _, id := range l.sortedIDs() {
		segments = append(segments, l.sealed[id])
	}
	if l.active != nil {
		segments = append(segments, l.active)
	}
	return segments
}

// SealedSegments lists the immutable segments, oldest first
func (l *Log) SealedSegments() []*Sealed {
	l.mu.RLock()
	defer l.mu.RUnlock()

	segments := make([]*Sealed, 0, len(l.sealed))
	for _, id := range l.sortedIDs() {
		segments = append(segments, l.sealed[id])
	}
	return segments
}

func (l *Log) ActiveID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active.ID()
}

// Append writes one encoded record to the active segment, rotating first when
// the record would push it past the segment size. The record is durable once
// Append returns. Only the single writer may call it.
func (l *Log) Append(data []byte) (*model.RecordPos, error) {
	active, err := l.writable()
	if err != nil {
		return nil, err
	}

	if active.Size() > 0 && active.Size()+int64(len(data)) > l.segmentSize {
		if err := l.rotate(); err != nil {
			return nil, err
		}
		active = l.active
	}

	offset, err := active.Append(data, true)
	if err != nil {
		return nil, err
	}
	return &model.RecordPos{Sid: active.ID(), Offset: offset, Size: uint32(len(data))}, nil
}

// AppendBatch writes records back to back into a single segment with one
// sync at the end, rotating first if they do not fit in the active one.
// Positions are returned in input order.
func (l *Log) AppendBatch(records [][]byte) ([]*model.RecordPos, error) {
	active, err := l.writable()
	if err != nil {
		return nil, err
	}

	var total int64
	for _, data := range records {
		total += int64(len(data))
	}
	if active.Size() > 0 && active.Size()+total > l.segmentSize {
		if err := l.rotate(); err != nil {
			return nil, err
		}
		active = l.active
	}

	start := active.Size()
	positions := make([]*model.RecordPos, 0, len(records))
	for i, data := range records {
		offset, err := active.Append(data, i == len(records)-1)
		if err != nil {
			// nothing of the batch may survive without its tail
			if active.Err() == nil {
				active.rollback(start)
			}
			return nil, err
		}
		positions = append(positions, &model.RecordPos{Sid: active.ID(), Offset: offset, Size: uint32(len(data))})
	}
	return positions, nil
}

// writable returns the active segment if appends are still allowed
func (l *Log) writable() (*Active, error) {
	active := l.active
	if active == nil {
		return nil, errors.New("logkv err: segment log is not active")
	}
	if err := active.Err(); err != nil {
		return nil, err
	}
	return active, nil
}

// Rotate seals the active segment if it holds any record.
// It reports whether a rotation happened.
func (l *Log) Rotate() (bool, error) {
	if l.active == nil || l.active.Size() == 0 {
		return false, nil
	}
	// sealing would hand the unacknowledged tail to readers and recovery
	if err := l.active.Err(); err != nil {
		return false, err
	}
	return true, l.rotate()
}

func (l *Log) rotate() error {
	old := l.active
	sealed, err := old.seal()
	if err != nil {
		return err
	}

	next, err := l.createActive(MakeID(Seq(old.ID())+1, 0))
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.sealed[sealed.id] = sealed
	l.active = next
	l.mu.Unlock()

	l.logger.Debug("segment rotated", "sealed", FormatID(sealed.id), "size", sealed.size, "active", FormatID(next.id))
	return nil
}

func (l *Log) createActive(id uint64) (*Active, error) {
	path := FileName(l.dir, id)
	ioManager, err := l.ioCreator(path)
	if err != nil {
		return nil, err
	}
	active, err := newActive(id, path, ioManager)
	if err != nil {
		_ = ioManager.Close()
		return nil, err
	}
	if err = syncDir(l.dir); err != nil {
		_ = ioManager.Close()
		return nil, err
	}
	return active, nil
}

// Read returns size bytes at offset of segment sid.
// It fails with ErrNotFound once the segment has been retired.
func (l *Log) Read(sid uint64, offset int64, size uint32) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var seg Segment
	if l.active != nil && l.active.ID() == sid {
		seg = l.active
	} else if sealed, ok := l.sealed[sid]; ok {
		seg = sealed
	} else {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, FormatID(sid))
	}

	if offset+int64(size) > seg.Size() {
		return nil, fmt.Errorf("read %d bytes at %s:%d past segment end: %w", size, FormatID(sid), offset, io.ErrUnexpectedEOF)
	}
	return seg.ReadAt(offset, size)
}

// Retire deletes sealed segments, oldest first. Callers must have dropped
// every index reference to them first. Deletion stops at the first file that
// cannot be removed: it and every newer one stay registered so a later call
// can retry, and no older record outlives the newer one shadowing it.
func (l *Log) Retire(ids ...uint64) error {
	ids = append([]uint64(nil), ids...)
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})

	l.mu.Lock()
	retired := make([]*Sealed, 0, len(ids))
	for _, id := range ids {
		if l.active != nil && l.active.ID() == id {
			l.mu.Unlock()
			return fmt.Errorf("logkv err: cannot retire active segment %s", FormatID(id))
		}
		if _, ok := l.sealed[id]; !ok {
			l.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, FormatID(id))
		}
	}
	for _, id := range ids {
		retired = append(retired, l.sealed[id])
		delete(l.sealed, id)
	}
	l.mu.Unlock()

	// readers hold the read lock for the whole read, none can still be inside these files
	var errs []error
	for i, seg := range retired {
		if err := l.remove(seg.path); err != nil {
			l.register(retired[i:]...)
			l.logger.Warn("segment retirement stopped", "segment", FormatID(seg.id), "kept", len(retired)-i, "err", err)
			return err
		}
		if err := seg.close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, syncDir(l.dir))
	return errors.Join(errs...)
}

// Has reports whether segment id is live
func (l *Log) Has(id uint64) bool {
	return l.exists(id)
}

// DiskSize is the byte size of every live segment
func (l *Log) DiskSize() int64 {
	var total int64
	for _, seg := range l.Segments() {
		total += seg.Size()
	}
	return total
}

func (l *Log) Sync() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.active == nil {
		return nil
	}
	return l.active.Sync()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.active != nil {
		if err := l.active.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := l.active.io.Close(); err != nil {
			errs = append(errs, err)
		}
		l.active = nil
	}
	for id, seg := range l.sealed {
		if err := seg.close(); err != nil {
			errs = append(errs, err)
		}
		delete(l.sealed, id)
	}
	return errors.Join(errs...)
}

// register makes finished segments readable
func (l *Log) register(segments ...*Sealed) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seg := range segments {
		l.sealed[seg.id] = seg
	}
}

func (l *Log) exists(id uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.active != nil && l.active.ID() == id {
		return true
	}
	_, ok := l.sealed[id]
	return ok
}

func (l *Log) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(l.sealed))
	for id := range l.sealed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

func syncDir(dir string) error {
	fd, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer fd.Close()
	return fd.Sync()
}
