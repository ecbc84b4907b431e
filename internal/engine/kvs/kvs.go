// Package kvs implements the log-structured storage engine: an in-memory
// index over a segmented, append-only log directory, with crash-recoverable
// open/replay and background-safe compaction.
package kvs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gtarraga/kvs/internal/engine"
	"github.com/gtarraga/kvs/internal/engine/kvs/record"
	"github.com/gtarraga/kvs/internal/engine/kvs/segio"
	"github.com/gtarraga/kvs/internal/engine/kvserr"
	"github.com/gtarraga/kvs/internal/metrics"
)

const (
	sentinelFile    = ".kvs"
	compactLockFile = ".compact-lock"
	// initialActiveID is 2, and id 1 is never used: compaction rewrites
	// the just-frozen segment's own file rather than relocating it, so the
	// first compaction makes segment 2 the base and 3 the active, and both
	// ids climb by one with each later cycle.
	initialActiveID  = 2
	defaultThreshold = 1 << 20
)

// shared is the reference-counted-by-pointer state behind every clone of a
// Store. Cloning a Store never copies this struct; it copies a pointer to
// it, which is what makes Clone cheap.
type shared struct {
	dataDir string

	idx     *index
	catalog *readerCatalog

	writerMu sync.Mutex
	writer   *segio.Writer
	writerID atomic.Int64

	uncompacted atomic.Int64
	threshold   int64

	// baseID is the id of the current compacted base segment, or 0 if no
	// compaction has happened yet. Once set, it always trails writerID by
	// exactly one: {baseID, writerID} is the full, contiguous on-disk id
	// set. See compaction.go for why compaction keeps exactly two
	// segments at rest instead of relocating the base to a fixed id.
	baseID atomic.Int64

	compactingMu sync.Mutex
	compacting   bool

	// finalizeMu serializes Get against compaction's finalize step only.
	// A normal Get takes the read lock around its whole index-lookup-then-
	// positioned-read sequence; finalize takes the write lock around its
	// reader swap and index migration, so no Get can observe a position
	// that names the old segment layout paired with the new reader (or
	// vice versa). Appends never touch this lock, and finalize does not
	// take writerMu: an append that moves a key to the new active segment
	// wins over finalize's migration, which only replaces index entries
	// that still point into a folded segment.
	finalizeMu sync.RWMutex

	logger  *zap.Logger
	metrics *metrics.Engine
}

// Store is the log-structured engine. It implements engine.Engine.
type Store struct {
	s *shared
}

var _ engine.Engine = (*Store)(nil)

// Option configures a Store at Open time.
type Option func(*shared)

// WithThreshold overrides COMPACTION_THRESHOLD (default 1 MiB).
func WithThreshold(bytes int64) Option {
	return func(s *shared) { s.threshold = bytes }
}

// WithLogger attaches a structured logger. Default is a no-op logger, so
// the engine stays silent when embedded as a pure library.
func WithLogger(l *zap.Logger) Option {
	return func(s *shared) { s.logger = l }
}

// WithMetrics attaches a Prometheus recorder.
func WithMetrics(m *metrics.Engine) Option {
	return func(s *shared) { s.metrics = m }
}

// Open opens (and if necessary initializes) a log-structured engine
// rooted at dataDir. In an existing directory, segment ids, sorted, must
// form a contiguous range with the largest id the active segment, and a
// leftover .compact-lock is a hard failure.
func Open(dataDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, kvserr.Wrap(kvserr.IoError, "create data directory", err)
	}

	s := &shared{
		dataDir:   dataDir,
		idx:       newIndex(),
		catalog:   newReaderCatalog(),
		threshold: defaultThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	sentinelPath := filepath.Join(dataDir, sentinelFile)
	if _, err := os.Stat(sentinelPath); os.IsNotExist(err) {
		if err := initEmpty(s, sentinelPath); err != nil {
			return nil, err
		}
		return &Store{s: s}, nil
	} else if err != nil {
		return nil, kvserr.Wrap(kvserr.IoError, "stat sentinel file", err)
	}

	if err := openExisting(s); err != nil {
		return nil, err
	}
	return &Store{s: s}, nil
}

func initEmpty(s *shared, sentinelPath string) error {
	if err := os.WriteFile(sentinelPath, nil, 0o644); err != nil {
		return kvserr.Wrap(kvserr.IoError, "create sentinel file", err)
	}

	path := segmentPath(s.dataDir, initialActiveID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return kvserr.Wrap(kvserr.IoError, "create initial active segment", err)
	}
	w, err := segio.NewWriter(f)
	if err != nil {
		return err
	}
	s.writer = w
	s.writerID.Store(initialActiveID)

	if err := s.catalog.open(s.dataDir, initialActiveID); err != nil {
		return err
	}
	return nil
}

func openExisting(s *shared) error {
	lockPath := filepath.Join(s.dataDir, compactLockFile)
	if _, err := os.Stat(lockPath); err == nil {
		return kvserr.New(kvserr.CorruptState, "compaction lock present, refusing to open")
	} else if !os.IsNotExist(err) {
		return kvserr.Wrap(kvserr.IoError, "stat compaction lock", err)
	}

	ids, err := discoverSegmentIDs(s.dataDir)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return kvserr.New(kvserr.CorruptState, "no segment files in initialized directory")
	}
	if err := requireContiguous(ids); err != nil {
		return err
	}

	activeID := ids[len(ids)-1]
	if len(ids) > 1 {
		s.baseID.Store(int64(ids[0]))
	}

	for _, id := range ids {
		if err := s.catalog.open(s.dataDir, id); err != nil {
			return err
		}
		n, err := foldSegment(s, id, id != activeID)
		if err != nil {
			return err
		}
		if id != activeID {
			s.uncompacted.Add(n)
		}
	}

	path := segmentPath(s.dataDir, activeID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return kvserr.Wrap(kvserr.IoError, "open active segment for writing", err)
	}
	w, err := segio.NewWriter(f)
	if err != nil {
		return err
	}
	s.writer = w
	s.writerID.Store(int64(activeID))
	return nil
}

// requireContiguous enforces invariant I3: sorted ids form a contiguous
// range [lo, hi]. lo need not be 1 — this engine's compaction keeps at
// most two segments at rest (a base and an active), and the base's id
// climbs with every compaction cycle rather than staying pinned at 1.
func requireContiguous(ids []int) error {
	lo := ids[0]
	for i, id := range ids {
		if id != lo+i {
			return kvserr.New(kvserr.CorruptState, fmt.Sprintf("segment ids are not contiguous: found %v", ids))
		}
	}
	return nil
}

// foldSegment stream-decodes segment id from offset 0 and folds its
// records into the live index. It returns the number of bytes decoded,
// used by the caller to seed `uncompacted` for non-active segments.
func foldSegment(s *shared, id int, trackUncompacted bool) (int64, error) {
	path := segmentPath(s.dataDir, id)
	f, err := os.Open(path)
	if err != nil {
		return 0, kvserr.Wrap(kvserr.IoError, "open segment for replay", err)
	}
	defer f.Close()

	var total int64
	prevEnd := int64(0)
	err = record.DecodeStream(f, 0, func(d record.Decoded) error {
		length := d.End - prevEnd
		switch d.Record.Op {
		case record.Set:
			s.idx.set(d.Record.Key, Position{SegmentID: id, Offset: prevEnd, Length: length})
		case record.Remove:
			s.idx.delete(d.Record.Key)
		}
		prevEnd = d.End
		total += length
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Clone returns a handle sharing this Store's state. Cheap: no data is
// copied.
func (st *Store) Clone() engine.Engine {
	return &Store{s: st.s}
}

// Close flushes the active segment and closes every open file handle.
// Call once per logical engine, not once per clone.
func (st *Store) Close() error {
	st.s.writerMu.Lock()
	werr := st.s.writer.Close()
	st.s.writerMu.Unlock()

	cerr := st.s.catalog.closeAll()
	if werr != nil {
		return werr
	}
	return cerr
}

// Set durably appends a Set record and linearizes the index update with
// the append, under the writer mutex.
func (st *Store) Set(key, value string) error {
	err := st.appendRecord(record.Record{Op: record.Set, Key: key, Value: value}, func(pos Position) {
		st.s.idx.set(key, pos)
	})
	if err == nil && st.s.metrics != nil {
		st.s.metrics.ObserveSet()
	}
	return err
}

// Get performs the read path: index lookup, then a positioned read of the
// segment the index points into. The whole sequence runs under
// finalizeMu's read lock so it can never straddle a compaction finalize
// step: either it completes entirely before finalize starts, or it waits
// until finalize has installed both the new reader and the new position
// together.
func (st *Store) Get(key string) (string, bool, error) {
	st.s.finalizeMu.RLock()
	defer st.s.finalizeMu.RUnlock()

	pos, ok := st.s.idx.get(key)
	if !ok {
		if st.s.metrics != nil {
			st.s.metrics.ObserveGet()
		}
		return "", false, nil
	}

	reader, ok := st.s.catalog.get(pos.SegmentID)
	if !ok {
		return "", false, kvserr.New(kvserr.CorruptState, fmt.Sprintf("no reader for segment %d", pos.SegmentID))
	}

	buf := make([]byte, pos.Length)
	if err := reader.ReadExactAt(buf, pos.Offset); err != nil {
		return "", false, err
	}

	var found *record.Record
	err := record.DecodeStream(bytes.NewReader(buf), 0, func(d record.Decoded) error {
		r := d.Record
		found = &r
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if found == nil || found.Op != record.Set {
		return "", false, kvserr.New(kvserr.CorruptState, "indexed position does not decode to a Set record")
	}

	if st.s.metrics != nil {
		st.s.metrics.ObserveGet()
	}
	return found.Value, true, nil
}

// Remove appends a Remove record, after checking index presence. Two
// concurrent removes of the same key either both observe it present (the
// second index-delete is a harmless no-op) or one observes it absent and
// returns NotFound; both outcomes are consistent at the writer-mutex
// boundary, so the presence check need not be atomic with the append.
func (st *Store) Remove(key string) error {
	if !st.s.idx.has(key) {
		return kvserr.New(kvserr.NotFound, fmt.Sprintf("key %q not found", key))
	}

	err := st.appendRecord(record.Record{Op: record.Remove, Key: key}, func(Position) {
		st.s.idx.delete(key)
	})
	if err == nil && st.s.metrics != nil {
		st.s.metrics.ObserveRemove()
	}
	return err
}

// appendRecord is the single internal append path shared by Set and
// Remove. It triggers compaction ahead of the write when uncompacted
// bytes have crossed the threshold, then appends under the writer mutex
// and applies updateIndex in the same critical section.
func (st *Store) appendRecord(rec record.Record, updateIndex func(Position)) error {
	if st.s.uncompacted.Load() >= st.s.threshold {
		if err := st.compact(); err != nil {
			return err
		}
	}

	st.s.writerMu.Lock()
	defer st.s.writerMu.Unlock()

	start := st.s.writer.Pos()
	buf := record.Encode(rec)
	_, end, err := st.s.writer.Append(buf)
	if err != nil {
		return err
	}
	if err := st.s.writer.Flush(); err != nil {
		return err
	}

	written := end - start
	st.s.uncompacted.Add(written)

	updateIndex(Position{
		SegmentID: int(st.s.writerID.Load()),
		Offset:    start,
		Length:    written,
	})
	return nil
}
