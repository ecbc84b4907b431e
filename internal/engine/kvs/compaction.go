package kvs

import (
	"os"
	"path/filepath"

	"github.com/gtarraga/kvs/internal/engine/kvs/record"
	"github.com/gtarraga/kvs/internal/engine/kvs/segio"
	"github.com/gtarraga/kvs/internal/engine/kvserr"
)

// compact folds the current active segment and the existing compacted
// base (if any) into a fresh rewrite of the active segment's own file,
// rotates a new active segment into place, and retires the old base.
//
// At rest this engine never keeps more than two segments: a base (the
// cumulative, already-compacted tail) and an active segment being
// appended to. Every compaction scans the base and the just-frozen
// active, keeps only the entries the live index still attributes to
// them, and writes that result back into the just-frozen segment's own
// file — the same compact-in-place-via-temp-file-and-rename shape used
// by every version of this engine's compaction (segmentPath+".tmp",
// os.Rename over the original). Reusing the frozen segment's own id
// rather than relocating the result keeps the on-disk id set exactly
// {base, base+1} after every cycle: nothing between the new base and the
// new active is ever skipped, so invariant I3 (segment ids, sorted, form
// a contiguous range) holds immediately, not just eventually.
//
// compact is reentrance-guarded: a caller arriving while a compaction is
// already running returns immediately.
func (st *Store) compact() error {
	s := st.s

	s.compactingMu.Lock()
	if s.compacting {
		s.compactingMu.Unlock()
		return nil
	}
	s.compacting = true
	s.compactingMu.Unlock()

	defer func() {
		s.compactingMu.Lock()
		s.compacting = false
		s.compactingMu.Unlock()
	}()

	if s.uncompacted.Load() == 0 {
		return nil
	}

	lockPath := filepath.Join(s.dataDir, compactLockFile)
	if _, err := os.Stat(lockPath); err == nil {
		return kvserr.New(kvserr.CorruptState, "compaction lock already present")
	} else if !os.IsNotExist(err) {
		return kvserr.Wrap(kvserr.IoError, "stat compaction lock", err)
	}
	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		return kvserr.Wrap(kvserr.IoError, "create compaction lock", err)
	}

	frozenID := int(s.writerID.Load())
	baseID := int(s.baseID.Load())

	if err := st.rotateActive(frozenID + 1); err != nil {
		os.Remove(lockPath)
		return err
	}

	if err := st.foldFrozen(frozenID, baseID); err != nil {
		os.Remove(lockPath)
		return err
	}

	if err := os.Remove(lockPath); err != nil {
		return kvserr.Wrap(kvserr.IoError, "remove compaction lock", err)
	}
	s.metrics.ObserveCompaction()
	return nil
}

// rotateActive opens a fresh segment at newActiveID and swaps it in as
// the writer under writerMu. The segment it replaces is left exactly as
// it was on disk — it becomes the frozen segment foldFrozen will compact.
func (st *Store) rotateActive(newActiveID int) error {
	s := st.s

	path := segmentPath(s.dataDir, newActiveID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return kvserr.Wrap(kvserr.IoError, "create rotated active segment", err)
	}
	w, err := segio.NewWriter(f)
	if err != nil {
		return err
	}
	if err := s.catalog.open(s.dataDir, newActiveID); err != nil {
		return err
	}

	s.writerMu.Lock()
	old := s.writer
	s.writer = w
	s.writerID.Store(int64(newActiveID))
	s.uncompacted.Store(0)
	s.writerMu.Unlock()

	return old.Close()
}

// foldFrozen merges the still-live entries of the compacted base (if
// baseID != 0) and the just-frozen segment frozenID, rewrites frozenID's
// file to hold only those entries, and retires the old base.
func (st *Store) foldFrozen(frozenID, baseID int) error {
	s := st.s

	sourceIDs := map[int]bool{frozenID: true}
	if baseID != 0 {
		sourceIDs[baseID] = true
	}

	type seen struct {
		value string
		live  bool
	}
	merged := make(map[string]seen)

	scanOrder := []int{}
	if baseID != 0 {
		scanOrder = append(scanOrder, baseID)
	}
	scanOrder = append(scanOrder, frozenID)

	for _, id := range scanOrder {
		f, err := os.Open(segmentPath(s.dataDir, id))
		if err != nil {
			return kvserr.Wrap(kvserr.IoError, "open segment for compaction scan", err)
		}
		err = record.DecodeStream(f, 0, func(d record.Decoded) error {
			switch d.Record.Op {
			case record.Set:
				merged[d.Record.Key] = seen{value: d.Record.Value, live: true}
			case record.Remove:
				merged[d.Record.Key] = seen{live: false}
			}
			return nil
		})
		f.Close()
		if err != nil {
			return err
		}
	}

	type migrated struct {
		key    string
		offset int64
		length int64
	}
	var toMigrate []migrated

	outPath := segmentPath(s.dataDir, frozenID)
	tempPath := outPath + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return kvserr.Wrap(kvserr.IoError, "create compaction temp file", err)
	}

	var offset int64
	for key, entry := range merged {
		if !entry.live {
			continue
		}
		// A concurrent Set may already have moved this key to the new
		// active segment since rotateActive returned; don't resurrect
		// a value the live index no longer attributes to the segments
		// being folded.
		pos, ok := s.idx.get(key)
		if !ok || !sourceIDs[pos.SegmentID] {
			continue
		}

		buf := record.Encode(record.Record{Op: record.Set, Key: key, Value: entry.value})
		if _, err := tempFile.Write(buf); err != nil {
			tempFile.Close()
			os.Remove(tempPath)
			return kvserr.Wrap(kvserr.IoError, "write compacted record", err)
		}
		toMigrate = append(toMigrate, migrated{key: key, offset: offset, length: int64(len(buf))})
		offset += int64(len(buf))
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return kvserr.Wrap(kvserr.IoError, "close compaction temp file", err)
	}
	if err := os.Rename(tempPath, outPath); err != nil {
		os.Remove(tempPath)
		return kvserr.Wrap(kvserr.IoError, "replace segment with compacted copy", err)
	}

	newReader, err := segio.NewReader(outPath)
	if err != nil {
		return err
	}

	s.finalizeMu.Lock()
	if err := s.catalog.replace(frozenID, newReader); err != nil {
		s.finalizeMu.Unlock()
		return err
	}
	for _, m := range toMigrate {
		s.idx.migrateIfSourceMatches(m.key, Position{SegmentID: frozenID, Offset: m.offset, Length: m.length}, sourceIDs)
	}
	s.finalizeMu.Unlock()

	if baseID != 0 {
		if err := s.catalog.retire(baseID); err != nil {
			return err
		}
		if err := os.Remove(segmentPath(s.dataDir, baseID)); err != nil {
			return kvserr.Wrap(kvserr.IoError, "remove retired base segment", err)
		}
	}

	s.baseID.Store(int64(frozenID))
	return nil
}
