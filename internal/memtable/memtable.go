// Package memtable implements the engine's in-memory, key-ordered write
// buffer. It is backed by a B-tree (github.com/google/btree) rather than a
// plain map so that range reads can be served by an ordered walk instead of
// a full scan-and-filter, matching the ordering requirement on the on-disk
// segment index.
package memtable

import "github.com/google/btree"

// Entry is one buffered write. Tombstone distinguishes a delete marker from
// a real value so the memtable never conflates "absent" with "zero-length
// value" in memory, even though the two collapse to the same on-disk
// sentinel once written to a segment.
type Entry struct {
	Key       string
	Value     []byte
	Tombstone bool
}

func less(a, b Entry) bool { return a.Key < b.Key }

// Memtable buffers recent writes in key order, bounded by an approximate
// byte budget rather than entry count: an entry-count cap under-bounds
// memory on small keys and massively over-bounds it on large ones.
type Memtable struct {
	tree     *btree.BTreeG[Entry]
	maxBytes int64
	bytes    int64
}

// degree is the B-tree branching factor; 32 is the value google/btree's own
// benchmarks converge on for small, comparison-cheap keys like ours.
const degree = 32

func New(maxBytes int64) *Memtable {
	return &Memtable{tree: btree.NewG(degree, less), maxBytes: maxBytes}
}

// entrySize approximates the memory an entry occupies: key bytes plus value
// bytes. It is intentionally simple (no struct overhead, no B-tree node
// overhead) because the budget only needs to be in the right ballpark to
// avoid unbounded growth.
func entrySize(e Entry) int64 {
	return int64(len(e.Key)) + int64(len(e.Value))
}

// Put inserts or overwrites key. A nil value with tombstone=false stores a
// zero-length live value; callers that mean "delete" must pass
// tombstone=true explicitly.
func (m *Memtable) Put(key string, value []byte, tombstone bool) {
	entry := Entry{Key: key, Value: value, Tombstone: tombstone}
	if old, ok := m.tree.ReplaceOrInsert(entry); ok {
		m.bytes -= entrySize(old)
	}
	m.bytes += entrySize(entry)
}

// Get returns the buffered entry for key, if any.
func (m *Memtable) Get(key string) (Entry, bool) {
	return m.tree.Get(Entry{Key: key})
}

// Delete purges key from the buffer entirely. Used after a tombstone Put
// has already been fsynced to the current segment, so the memtable doesn't
// spend space on a marker the segment already records durably.
func (m *Memtable) Delete(key string) {
	if old, ok := m.tree.Delete(Entry{Key: key}); ok {
		m.bytes -= entrySize(old)
	}
}

// AscendRange visits every entry with start <= key <= end, in key order.
// Both bounds are inclusive, matching the engine's range-read contract.
func (m *Memtable) AscendRange(start, end string, visit func(Entry) bool) {
	m.tree.AscendGreaterOrEqual(Entry{Key: start}, func(e Entry) bool {
		if e.Key > end {
			return false
		}
		return visit(e)
	})
}

// Ascend visits every entry in key order. Used by flush to drain the
// memtable into fresh segments in sorted order.
func (m *Memtable) Ascend(visit func(Entry) bool) {
	m.tree.Ascend(func(e Entry) bool { return visit(e) })
}

// Bytes reports the approximate memory footprint of buffered entries.
func (m *Memtable) Bytes() int64 { return m.bytes }

// Full reports whether the memtable has reached its configured byte budget.
func (m *Memtable) Full() bool { return m.bytes >= m.maxBytes }

// Len reports the number of buffered entries.
func (m *Memtable) Len() int { return m.tree.Len() }

// Clear empties the memtable. Called after a successful flush drains every
// entry into segments.
func (m *Memtable) Clear() {
	m.tree.Clear(false)
	m.bytes = 0
}
