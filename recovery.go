package logkv

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cqkv/logkv/codec"
	"github.com/cqkv/logkv/keydir"
	"github.com/cqkv/logkv/model"
	"github.com/cqkv/logkv/segment"
)

type pendingRecord struct {
	key      []byte
	pos      *model.RecordPos
	isDelete bool
}

// loadKeydir folds every segment, oldest first, into kd: later records win,
// tombstones remove their key and batched records wait for the commit marker
// that follows them in the same segment.
// A record failing verification in a sealed segment is fatal. In the newest
// segment it is the torn tail of an interrupted write: the scan stops there
// and the returned size tells where the valid records end.
func (db *DB) loadKeydir(kd keydir.Keydir, garbage map[uint64]int64) (int64, error) {
	segments := db.log.Segments()

	var (
		validSize int64
		pending   []pendingRecord
	)
	for i, seg := range segments {
		tail := i == len(segments)-1

		scanner := segment.NewScanner(seg, db.codec)
		for scanner.Next() {
			record, pos := scanner.Record(), scanner.Pos()

			switch {
			case record.Flags&model.FlagBatchCommit != 0:
				var err error
				if pending, err = commitPending(kd, garbage, pending, record); err != nil {
					return 0, fmt.Errorf("%w at segment %s offset %d", err, segment.FormatID(pos.Sid), pos.Offset)
				}
				garbage[pos.Sid] += int64(pos.Size)
			case record.Flags&model.FlagBatched != 0:
				pending = append(pending, pendingRecord{
					key:      append([]byte(nil), record.Key...),
					pos:      pos,
					isDelete: record.IsDelete,
				})
			default:
				applyRecord(kd, garbage, record.Key, pos, record.IsDelete)
			}
		}

		// a batch never spans segments, whatever is still pending was interrupted
		for _, p := range pending {
			garbage[p.pos.Sid] += int64(p.pos.Size)
		}
		pending = pending[:0]

		err := scanner.Err()
		switch {
		case err == nil:
			validSize = seg.Size()
		case !errors.Is(err, codec.ErrIntegrity):
			return 0, ioError("scan segment "+segment.FormatID(seg.ID()), err)
		case !tail:
			return 0, fmt.Errorf("sealed segment %s: %w", segment.FormatID(seg.ID()), err)
		default:
			validSize = scanner.Offset()
			db.logger.Warn("dropping torn tail of active segment",
				"segment", segment.FormatID(seg.ID()),
				"valid", validSize,
				"dropped", seg.Size()-validSize,
				"err", err)
		}
	}

	return validSize, nil
}

// commitPending applies the batch closed by marker. The batch is made of the
// records right before the marker, anything older in pending belongs to a
// batch that was interrupted.
func commitPending(kd keydir.Keydir, garbage map[uint64]int64, pending []pendingRecord, marker *model.Record) ([]pendingRecord, error) {
	if len(marker.Value) != 4 {
		return nil, fmt.Errorf("%w: batch marker value of %d bytes", codec.ErrMalformed, len(marker.Value))
	}
	n := int(binary.BigEndian.Uint32(marker.Value))
	if n > len(pending) {
		return nil, fmt.Errorf("%w: batch marker counts %d records, found %d", codec.ErrIntegrity, n, len(pending))
	}

	stale := len(pending) - n
	for _, p := range pending[:stale] {
		garbage[p.pos.Sid] += int64(p.pos.Size)
	}
	for _, p := range pending[stale:] {
		applyRecord(kd, garbage, p.key, p.pos, p.isDelete)
	}
	return pending[:0], nil
}
