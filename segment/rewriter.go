package segment

import (
	"errors"
	"fmt"
	"os"

	"github.com/cqkv/logkv/model"
)

// Rewriter writes compaction output into fresh segments whose ids sort right
// after the snapshot they replace and before anything written since.
// Output stays in temporary files, invisible to readers and to recovery,
// until Commit renames it into place.
type Rewriter struct {
	log     *Log
	nextID  uint64
	current *Active
	written []*Active
}

// NewRewriter starts output after segment id last, the newest id of the snapshot
func (l *Log) NewRewriter(last uint64) (*Rewriter, error) {
	if Part(last) == MaxPart {
		return nil, fmt.Errorf("logkv err: no compaction id left after segment %s", FormatID(last))
	}
	return &Rewriter{log: l, nextID: last + 1}, nil
}

// Append writes one encoded record and returns the location it will have
// once committed. Records are synced by Commit, not here.
func (rw *Rewriter) Append(data []byte) (*model.RecordPos, error) {
	if rw.current == nil || (rw.current.Size() > 0 && rw.current.Size()+int64(len(data)) > rw.log.segmentSize) {
		if err := rw.roll(); err != nil {
			return nil, err
		}
	}

	offset, err := rw.current.Append(data, false)
	if err != nil {
		return nil, err
	}
	return &model.RecordPos{Sid: rw.current.ID(), Offset: offset, Size: uint32(len(data))}, nil
}

func (rw *Rewriter) roll() error {
	id := rw.nextID
	if Seq(id) != Seq(id-1) {
		return fmt.Errorf("logkv err: compaction output overflows segment sequence %d", Seq(id-1))
	}
	if rw.log.exists(id) {
		return fmt.Errorf("logkv err: compaction output %s already exists", FormatID(id))
	}

	path := tmpFileName(rw.log.dir, id)
	ioManager, err := rw.log.ioCreator(path)
	if err != nil {
		return err
	}
	active, err := newActive(id, path, ioManager)
	if err != nil {
		_ = ioManager.Close()
		return err
	}

	if rw.current != nil {
		rw.written = append(rw.written, rw.current)
	}
	rw.current = active
	rw.nextID++
	return nil
}

// Commit makes the output durable, moves it to its final names and registers
// it with the log so it can be read. It returns the new segments in id order.
func (rw *Rewriter) Commit() ([]*Sealed, error) {
	if rw.current != nil {
		rw.written = append(rw.written, rw.current)
		rw.current = nil
	}

	sealed := make([]*Sealed, 0, len(rw.written))
	for _, active := range rw.written {
		seg, err := active.seal()
		if err != nil {
			rw.Abort()
			return nil, err
		}
		sealed = append(sealed, seg)
	}

	for i, seg := range sealed {
		final := FileName(rw.log.dir, seg.id)
		if err := os.Rename(seg.path, final); err != nil {
			// segments already renamed are complete and only duplicate live data
			for _, rest := range sealed[i:] {
				_ = rest.close()
				_ = os.Remove(rest.path)
			}
			rw.log.register(sealed[:i]...)
			rw.written = nil
			return nil, err
		}
		seg.path = final
	}
	if err := syncDir(rw.log.dir); err != nil {
		rw.log.register(sealed...)
		rw.written = nil
		return nil, err
	}

	rw.log.register(sealed...)
	rw.written = nil
	return sealed, nil
}

// Abort drops every output file not yet committed
func (rw *Rewriter) Abort() {
	if rw.current != nil {
		rw.written = append(rw.written, rw.current)
		rw.current = nil
	}
	var errs []error
	for _, active := range rw.written {
		errs = append(errs, active.io.Close(), os.Remove(active.path))
	}
	rw.written = nil
	if err := errors.Join(errs...); err != nil {
		rw.log.logger.Warn("failed to clean compaction output", "err", err)
	}
}
