package logkv

import (
	"errors"
	"time"

	"github.com/cqkv/logkv/model"
	"github.com/cqkv/logkv/segment"
)

type migration struct {
	key    []byte
	oldPos *model.RecordPos
	newPos *model.RecordPos
}

// Compact rewrites the live records of every sealed segment into fresh
// segments and deletes the originals. The active segment is sealed first so
// everything written before the call is covered. Only one compaction runs at
// a time, ErrCompactionRunning is returned otherwise. A failed run leaves the
// store as it was, apart from disk space.
func (db *DB) Compact() error {
	if !db.compactMu.TryLock() {
		return ErrCompactionRunning
	}
	defer db.compactMu.Unlock()
	return db.compact()
}

// CompactAsync runs Compact in the background, the result is sent on the channel
func (db *DB) CompactAsync() chan error {
	done := make(chan error, 1)
	go func() {
		done <- db.Compact()
	}()
	return done
}

func (db *DB) compact() error {
	start := time.Now()

	// seal the active segment and take the snapshot
	db.writeMu.Lock()
	if db.isClosed() {
		db.writeMu.Unlock()
		return ErrClosed
	}
	if _, err := db.log.Rotate(); err != nil {
		db.writeMu.Unlock()
		return ioError("seal active segment", err)
	}
	snapshot := db.log.SealedSegments()
	db.writeMu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	db.logger.Info("compaction started", "segments", len(snapshot))

	rw, err := db.log.NewRewriter(snapshot[len(snapshot)-1].ID())
	if err != nil {
		return err
	}

	// copy every record the keydir still points at, anything else is
	// superseded, deleted, or already served from a newer segment
	var moved []migration
	for _, seg := range snapshot {
		scanner := segment.NewScanner(seg, db.codec)
		for scanner.Next() {
			record, pos := scanner.Record(), scanner.Pos()
			if record.IsDelete || record.Flags&model.FlagBatchCommit != 0 {
				continue
			}
			if !db.isLive(record.Key, pos) {
				continue
			}

			data, _, err := db.codec.MarshalRecord(&model.Record{Key: record.Key, Value: record.Value})
			if err != nil {
				rw.Abort()
				return err
			}
			newPos, err := rw.Append(data)
			if err != nil {
				rw.Abort()
				return ioError("write compaction output", err)
			}
			moved = append(moved, migration{
				key:    append([]byte(nil), record.Key...),
				oldPos: pos,
				newPos: newPos,
			})
		}
		if err = scanner.Err(); err != nil {
			rw.Abort()
			if errors.Is(err, ErrIntegrity) {
				return err
			}
			return ioError("scan segment "+segment.FormatID(seg.ID()), err)
		}
	}

	outputs, err := rw.Commit()
	if err != nil {
		return ioError("commit compaction output", err)
	}
	if db.afterCompactionCommit != nil {
		db.afterCompactionCommit()
	}

	// redirect the keydir, then drop the snapshot. A key rewritten while we
	// were copying keeps its newer location, its copy is garbage.
	retired := make([]uint64, 0, len(snapshot))
	db.mu.Lock()
	for _, m := range moved {
		if db.keydir.Get(m.key).Equal(m.oldPos) {
			db.keydir.Put(m.key, m.newPos)
		} else {
			db.garbage[m.newPos.Sid] += int64(m.newPos.Size)
		}
	}
	for _, seg := range snapshot {
		retired = append(retired, seg.ID())
		delete(db.garbage, seg.ID())
	}
	db.mu.Unlock()

	if err = db.log.Retire(retired...); err != nil {
		// nothing references what is left, the next run retires it
		db.mu.Lock()
		for _, seg := range snapshot {
			if db.log.Has(seg.ID()) {
				db.garbage[seg.ID()] = seg.Size()
			}
		}
		db.mu.Unlock()
		return ioError("retire segments", err)
	}

	var before, after int64
	for _, seg := range snapshot {
		before += seg.Size()
	}
	for _, seg := range outputs {
		after += seg.Size()
	}
	db.logger.Info("compaction finished",
		"retired", len(retired),
		"created", len(outputs),
		"moved", len(moved),
		"reclaimed", before-after,
		"elapsed", time.Since(start))
	return nil
}

func (db *DB) isLive(key []byte, pos *model.RecordPos) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.keydir.Get(key).Equal(pos)
}

// needCompaction is the background trigger
func (db *DB) needCompaction() bool {
	stat := db.Stat()
	sealed := stat.SegmentNum - 1
	if sealed < db.options.compactionMinSegments || stat.DiskSize == 0 {
		return false
	}
	return float64(stat.ReclaimableSize)/float64(stat.DiskSize) >= db.options.compactionRatio
}

func (db *DB) runCompactionScheduler() {
	defer db.wg.Done()

	ticker := time.NewTicker(db.options.compactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-db.stopCh:
			return
		case <-ticker.C:
			if !db.needCompaction() {
				continue
			}
			if err := db.Compact(); err != nil && !errors.Is(err, ErrCompactionRunning) && !errors.Is(err, ErrClosed) {
				db.logger.Error("background compaction failed", "err", err)
			}
		}
	}
}
