// Package core implements the embeddable key-value storage engine: the
// memtable write buffer, the append-only segmented log, and the read path
// that merges the two with "newest write wins" semantics. It is a
// synchronous library with no network surface; a transport layer is
// expected to adapt it to a wire protocol.
package core

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/samkira/kvengine/internal/memtable"
	"github.com/samkira/kvengine/kverrors"
)

// Engine is the public key-value store. All exported methods are safe for
// concurrent use: point and range reads take the read lock and may run
// concurrently with each other; put, delete, batch-put, flush, and close
// take the write lock and are fully serialized against everything else.
type Engine struct {
	dir string

	rw       sync.RWMutex
	memtable *memtable.Memtable
	segments []*segment // ordered by id ascending; last is the current write target
	closed   bool

	maxSegmentSize   int64
	memtableMaxBytes int64
	fsyncOnWrite     bool
	log              *zap.Logger
}

// Open opens (or creates) a key-value store rooted at dir. On an existing
// directory it rebuilds every segment's index by scanning the segment
// files in id order; on an empty or missing directory it creates segment
// 0.
func Open(dir string, opts ...Option) (e *Engine, err error) {
	e = &Engine{
		dir:              dir,
		maxSegmentSize:   defaultMaxSegmentSize,
		memtableMaxBytes: defaultMemtableMaxBytes,
		fsyncOnWrite:     true,
		log:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.memtable = memtable.New(e.memtableMaxBytes)

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, kverrors.Wrap(kverrors.Io, fmt.Sprintf("mkdir %q", dir), err)
	}

	// If Open fails partway through, close whatever segments we did manage
	// to open so we don't leak file handles.
	defer func() {
		if err != nil {
			for _, seg := range e.segments {
				_ = seg.close()
			}
		}
	}()

	e.segments, err = discoverSegments(dir, e.maxSegmentSize, e.log)
	if err != nil {
		return nil, err
	}

	if len(e.segments) == 0 {
		seg, serr := newSegment(dir, 0, e.maxSegmentSize)
		if serr != nil {
			return nil, serr
		}
		e.segments = append(e.segments, seg)
	}

	e.log.Info("engine opened", zap.String("dir", dir), zap.Int("segments", len(e.segments)))
	return e, nil
}

func (e *Engine) current() *segment {
	return e.segments[len(e.segments)-1]
}

// rollSegment freezes the current segment (it is simply no longer the
// last element, and never written to again) and makes a fresh one
// current. Caller must hold the write lock.
func (e *Engine) rollSegment() error {
	id := len(e.segments)
	seg, err := newSegment(e.dir, id, e.maxSegmentSize)
	if err != nil {
		return err
	}
	e.segments = append(e.segments, seg)
	e.log.Info("rolled segment", zap.Int("segment_id", id))
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return kverrors.New(kverrors.InvalidArgument, "key must not be empty")
	}
	return nil
}

// appendRecord writes key/value to the current segment, rolling over to a
// fresh segment and retrying exactly once if the current one is full.
// A record that still doesn't fit in a brand new, empty segment is
// TooLarge — without the retry cap, a single oversized record would loop
// forever rolling segments that can never hold it.
func (e *Engine) appendRecord(key string, value []byte, tombstone bool) error {
	seg := e.current()
	ok, err := seg.write(key, value, tombstone, e.fsyncOnWrite)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if err := e.rollSegment(); err != nil {
		return err
	}
	seg = e.current()
	ok, err = seg.write(key, value, tombstone, e.fsyncOnWrite)
	if err != nil {
		return err
	}
	if !ok {
		return kverrors.New(kverrors.TooLarge,
			fmt.Sprintf("record for key %q exceeds max segment size %d", key, e.maxSegmentSize))
	}
	return nil
}

// Put stores value under key. A nil value deletes the key (equivalent to
// calling Delete). Put is not transactional with any other key.
func (e *Engine) Put(key string, value []byte) error {
	e.rw.Lock()
	defer e.rw.Unlock()
	return e.putLocked(key, value)
}

// putLocked assumes the write lock is already held.
func (e *Engine) putLocked(key string, value []byte) error {
	if e.closed {
		return kverrors.New(kverrors.Closed, "engine is closed")
	}
	if err := validateKey(key); err != nil {
		return err
	}

	tombstone := value == nil

	// Append durably before the memtable learns about the write: if
	// appendRecord fails, the memtable must not hold a value a reader
	// could observe that was never actually made durable.
	if err := e.appendRecord(key, value, tombstone); err != nil {
		return err
	}

	e.memtable.Put(key, value, tombstone)

	if e.memtable.Full() {
		if err := e.flushLocked(); err != nil {
			return err
		}
	}

	return nil
}

// flushLocked creates a fresh segment and drains the memtable into it in
// key order, rolling further segments as needed, then clears the
// memtable. It never runs concurrently with another write (write lock
// held by the caller).
func (e *Engine) flushLocked() error {
	if err := e.rollSegment(); err != nil {
		return err
	}

	var ferr error
	e.memtable.Ascend(func(ent memtable.Entry) bool {
		if ferr = e.appendRecord(ent.Key, ent.Value, ent.Tombstone); ferr != nil {
			return false
		}
		return true
	})
	if ferr != nil {
		return ferr
	}

	e.memtable.Clear()
	e.log.Info("flushed memtable", zap.Int("segments", len(e.segments)))
	return nil
}

// Read returns the value stored for key. If key is absent — never written,
// or shadowed by a tombstone — it returns kverrors.ErrKeyNotFound.
func (e *Engine) Read(key string) ([]byte, error) {
	e.rw.RLock()
	defer e.rw.RUnlock()

	if e.closed {
		return nil, kverrors.New(kverrors.Closed, "engine is closed")
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	if ent, ok := e.memtable.Get(key); ok {
		if ent.Tombstone {
			return nil, kverrors.ErrKeyNotFound
		}
		return ent.Value, nil
	}

	for i := len(e.segments) - 1; i >= 0; i-- {
		state, value, err := e.segments[i].read(key)
		if err != nil {
			return nil, err
		}
		switch state {
		case Found:
			return value, nil
		case Tombstone:
			return nil, kverrors.ErrKeyNotFound
		case Missing:
			continue
		}
	}

	return nil, kverrors.ErrKeyNotFound
}

// ReadRange returns every live key k with start <= k <= end, across the
// memtable and every segment, newest source winning. Tombstones shadow
// older values; they never appear in the result.
func (e *Engine) ReadRange(start, end string) (map[string][]byte, error) {
	e.rw.RLock()
	defer e.rw.RUnlock()

	if e.closed {
		return nil, kverrors.New(kverrors.Closed, "engine is closed")
	}
	if start == "" || end == "" {
		return nil, kverrors.New(kverrors.InvalidArgument, "range bounds must not be empty")
	}

	result := make(map[string][]byte)
	decided := make(map[string]bool) // key has a final answer: a value, or occluded by a tombstone

	e.memtable.AscendRange(start, end, func(ent memtable.Entry) bool {
		decided[ent.Key] = true
		if !ent.Tombstone {
			result[ent.Key] = ent.Value
		}
		return true
	})

	for i := len(e.segments) - 1; i >= 0; i-- {
		entries, err := e.segments[i].readRange(start, end)
		if err != nil {
			return nil, err
		}
		for key, rr := range entries {
			if decided[key] {
				continue
			}
			decided[key] = true
			if rr.state == Found {
				result[key] = rr.value
			}
			// rr.state == Tombstone: leave it out of result, already marked decided.
		}
	}

	return result, nil
}

// Delete removes key. It writes a tombstone through Put (so the deletion
// is durable on disk) and then purges the key from the memtable, since the
// segment already durably records the tombstone and there is no value left
// to benefit from buffering.
func (e *Engine) Delete(key string) error {
	e.rw.Lock()
	defer e.rw.Unlock()

	if err := e.putLocked(key, nil); err != nil {
		return err
	}
	e.memtable.Delete(key)
	return nil
}

// BatchPut applies put(keys[i], values[i]) for every i in order. It is not
// atomic: if an error occurs partway through, every write before it is
// already durable and stays that way.
func (e *Engine) BatchPut(keys []string, values [][]byte) error {
	e.rw.Lock()
	defer e.rw.Unlock()

	if len(keys) != len(values) {
		return kverrors.New(kverrors.InvalidArgument,
			fmt.Sprintf("keys and values length mismatch: %d vs %d", len(keys), len(values)))
	}

	for i := range keys {
		if err := e.putLocked(keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// DiskSize returns the sum of every segment file's on-disk size.
func (e *Engine) DiskSize() int64 {
	e.rw.RLock()
	defer e.rw.RUnlock()

	var total int64
	for _, seg := range e.segments {
		total += seg.size()
	}
	return total
}

// SegmentIDs returns the ids of every segment currently on disk, ascending.
// Exposed mainly for tests asserting the dense-id invariant.
func (e *Engine) SegmentIDs() []int {
	e.rw.RLock()
	defer e.rw.RUnlock()

	ids := make([]int, len(e.segments))
	for i, seg := range e.segments {
		ids[i] = seg.id
	}
	sort.Ints(ids)
	return ids
}

// Close flushes the memtable into a fresh segment and syncs and closes
// every segment. Every write already reaches a segment before it enters
// the memtable, so Close is what releases the file handles and, under
// WithFsyncOnWrite(false), what makes those appends durable. After Close
// returns, Put, Delete, Read, ReadRange and a non-empty BatchPut return a
// Closed error; a second Close returns nil.
func (e *Engine) Close() error {
	e.rw.Lock()
	defer e.rw.Unlock()

	if e.closed {
		return nil
	}

	// Flush unconditionally, even with an empty memtable: close's contract
	// is "flush, then close every segment", not "flush if there's
	// something to flush".
	err := e.flushLocked()

	for _, seg := range e.segments {
		err = multierr.Append(err, seg.close())
	}

	e.closed = true
	e.log.Info("engine closed", zap.String("dir", e.dir))
	return err
}
