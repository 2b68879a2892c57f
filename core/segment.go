package core

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/samkira/kvengine/kverrors"
)

// segmentFilePrefix and segmentIDWidth fix the on-disk naming scheme:
// segment_000000, segment_000001, ...
const (
	segmentFilePrefix = "segment_"
	segmentIDWidth    = 6
)

func segmentFileName(id int) string {
	return fmt.Sprintf("%s%0*d", segmentFilePrefix, segmentIDWidth, id)
}

func segmentPath(dir string, id int) string {
	return filepath.Join(dir, segmentFileName(id))
}

// degree is the B-tree branching factor of every segment's offset index.
// The memtable package defines its own constant with the same value; both
// hold short string keys, so the same tuning applies to each.
const degree = 32

type indexEntry struct {
	key    string
	offset int64 // offset of the value payload, after the value-length prefix
}

func indexLess(a, b indexEntry) bool { return a.key < b.key }

// segment is an append-only file holding length-prefixed records plus an
// in-memory offset index. It never exceeds maxSize and is never reopened
// for writing once frozen by the segment set.
type segment struct {
	id   int
	path string
	file *os.File

	// mu guards file handle positioning, the index, and currentOffset.
	// The engine's reader-writer lock already serializes writers against
	// readers today, but this mutex keeps the segment internally
	// consistent independent of that, exactly as a primitive should be.
	mu            sync.RWMutex
	index         *btree.BTreeG[indexEntry]
	currentOffset int64
	maxSize       int64
}

// newSegment creates an empty segment file and fsyncs both the file and its
// containing directory, so a newly-rolled segment's existence survives a
// crash immediately rather than only after its first write.
func newSegment(dir string, id int, maxSize int64) (*segment, error) {
	path := segmentPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Io, fmt.Sprintf("create segment file %q", path), err)
	}

	if err := durableCreate(f, dir); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &segment{
		id:      id,
		path:    path,
		file:    f,
		index:   btree.NewG(degree, indexLess),
		maxSize: maxSize,
	}, nil
}

// openSegment opens an existing segment file and rebuilds its index by
// scanning from offset 0. A torn tail record (the result of a crash
// mid-write) is truncated off rather than treated as fatal corruption; a
// malformed record anywhere else in the file is indistinguishable from a
// torn tail without a checksum, so it is handled the same way — the
// on-disk format's whole point is exact offset arithmetic, not resilience
// to bit rot.
func openSegment(dir string, id int, maxSize int64, log *zap.Logger) (*segment, error) {
	path := segmentPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Io, fmt.Sprintf("open segment file %q", path), err)
	}

	seg := &segment{
		id:      id,
		path:    path,
		file:    f,
		index:   btree.NewG(degree, indexLess),
		maxSize: maxSize,
	}

	end, truncated, err := seg.rebuildIndex()
	if err != nil {
		_ = f.Close()
		return nil, kverrors.Wrap(kverrors.Corrupt, fmt.Sprintf("rebuild index for segment %d", id), err)
	}

	if truncated {
		log.Warn("truncating torn tail record on segment open",
			zap.Int("segment_id", id), zap.Int64("valid_end", end))
		if err := f.Truncate(end); err != nil {
			_ = f.Close()
			return nil, kverrors.Wrap(kverrors.Io, fmt.Sprintf("truncate segment %d", id), err)
		}
	}

	seg.currentOffset = end
	return seg, nil
}

// rebuildIndex scans the segment from byte 0, filling the index with the
// last-seen offset for each key, and reports the byte offset just past the
// last complete record plus whether anything after it had to be dropped.
func (s *segment) rebuildIndex() (end int64, truncated bool, err error) {
	r := bufio.NewReader(io.NewSectionReader(s.file, 0, 1<<63-1))

	var offset int64
	for {
		rec, n, ok, rerr := scanOneRecord(r, offset)
		if rerr != nil {
			return 0, false, rerr
		}
		if !ok {
			// Short read at this boundary: either a genuine crash mid
			// write, or (indistinguishably, without a checksum) a
			// corrupt record. Either way, stop here and drop the tail.
			return offset, n > 0, nil
		}

		s.index.ReplaceOrInsert(indexEntry{key: rec.key, offset: rec.valueOffset})
		offset += n
	}
}

// scanOneRecord reads one record starting at the reader's current
// position. ok is false if a complete record could not be read (EOF mid
// record, or a clean EOF with zero bytes consumed). n reports how many
// bytes were consumed attempting the read, so callers can tell a clean
// end-of-file (n == 0) from a torn tail (n > 0).
func scanOneRecord(r *bufio.Reader, startOffset int64) (rec scannedRecord, n int64, ok bool, err error) {
	var hdr [lenFieldWidth]byte

	read, rerr := io.ReadFull(r, hdr[:])
	n += int64(read)
	if rerr != nil {
		if read == 0 {
			return scannedRecord{}, 0, false, nil // clean EOF, nothing torn
		}
		return scannedRecord{}, n, false, nil // torn header
	}
	keyLen := binary.BigEndian.Uint32(hdr[:])
	if keyLen == 0 {
		// Keys are non-empty by invariant; a zero length here can only be
		// garbage left by a torn write.
		return scannedRecord{}, n, false, nil
	}

	key := make([]byte, keyLen)
	read, rerr = io.ReadFull(r, key)
	n += int64(read)
	if rerr != nil {
		return scannedRecord{}, n, false, nil
	}

	read, rerr = io.ReadFull(r, hdr[:])
	n += int64(read)
	if rerr != nil {
		return scannedRecord{}, n, false, nil
	}
	valLen := binary.BigEndian.Uint32(hdr[:])

	if valLen > 0 {
		value := make([]byte, valLen)
		read, rerr = io.ReadFull(r, value)
		n += int64(read)
		if rerr != nil {
			return scannedRecord{}, n, false, nil
		}
	}

	return scannedRecord{
		key:         string(key),
		valueOffset: startOffset + recordHeaderWidth + int64(keyLen),
	}, n, true, nil
}

// write appends key/value to the segment and, when fsync is set, fsyncs
// before returning true.
// It returns false without writing anything if the record would push the
// segment past maxSize; that is not an error, it is the caller's signal to
// roll a new segment.
func (s *segment) write(key string, value []byte, tombstone bool, fsync bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := recordSize(key, value, tombstone)
	if s.currentOffset+size > s.maxSize {
		return false, nil
	}

	buf := encodeRecord(key, value, tombstone)
	off := s.currentOffset

	if _, err := s.file.WriteAt(buf, off); err != nil {
		return false, kverrors.Wrap(kverrors.Io, fmt.Sprintf("write record to segment %d", s.id), err)
	}

	if fsync {
		if err := s.file.Sync(); err != nil {
			return false, kverrors.Wrap(kverrors.Io, fmt.Sprintf("fsync segment %d", s.id), err)
		}
	}

	valueOffset := off + recordHeaderWidth + int64(len(key))
	s.index.ReplaceOrInsert(indexEntry{key: key, offset: valueOffset})
	s.currentOffset += size

	return true, nil
}

// read looks key up in the index and, if present, reads the value-length
// prefix immediately before the payload and the payload itself. A
// zero-length payload is reported as Tombstone, never as Found with an
// empty value — that ambiguity is resolved one layer up, not here.
func (s *segment) read(key string) (ReadState, []byte, error) {
	s.mu.RLock()
	entry, ok := s.index.Get(indexEntry{key: key})
	s.mu.RUnlock()

	if !ok {
		return Missing, nil, nil
	}

	return s.readAt(entry.offset)
}

func (s *segment) readAt(offset int64) (ReadState, []byte, error) {
	var lenBuf [lenFieldWidth]byte
	if _, err := s.file.ReadAt(lenBuf[:], offset-lenFieldWidth); err != nil {
		return Missing, nil, kverrors.Wrap(kverrors.Io, fmt.Sprintf("read value length on segment %d", s.id), err)
	}
	valLen := binary.BigEndian.Uint32(lenBuf[:])
	if valLen == 0 {
		return Tombstone, nil, nil
	}

	value := make([]byte, valLen)
	if _, err := s.file.ReadAt(value, offset); err != nil {
		return Missing, nil, kverrors.Wrap(kverrors.Io, fmt.Sprintf("read value payload on segment %d", s.id), err)
	}

	return Found, value, nil
}

// rangeResult is one entry produced by readRange: either a live value or a
// tombstone, for the caller's shadowing logic to resolve across segments.
type rangeResult struct {
	state ReadState
	value []byte
}

// readRange returns every key in [start, end] this segment's index knows
// about, walking the index's own ordering instead of rescanning the file.
func (s *segment) readRange(start, end string) (map[string]rangeResult, error) {
	s.mu.RLock()
	var offsets []indexEntry
	s.index.AscendGreaterOrEqual(indexEntry{key: start}, func(e indexEntry) bool {
		if e.key > end {
			return false
		}
		offsets = append(offsets, e)
		return true
	})
	s.mu.RUnlock()

	out := make(map[string]rangeResult, len(offsets))
	for _, e := range offsets {
		state, value, err := s.readAt(e.offset)
		if err != nil {
			return nil, err
		}
		out[e.key] = rangeResult{state: state, value: value}
	}
	return out, nil
}

// size reports the segment's current logical length without a syscall.
func (s *segment) size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentOffset
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return kverrors.Wrap(kverrors.Io, fmt.Sprintf("sync segment %d on close", s.id), err)
	}
	return s.file.Close()
}
