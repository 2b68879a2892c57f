package core

import "encoding/binary"

// Record layout: a 4-byte big-endian key length, the key bytes, a 4-byte
// big-endian value length, then the value bytes. A
// value length of zero is the tombstone sentinel; there is deliberately no
// checksum, version marker, or timestamp in the frame, which is what keeps
// offset arithmetic exact without a parallel length table.
const lenFieldWidth = 4
const recordHeaderWidth = 2 * lenFieldWidth // keyLen + valLen fields

// encodeRecord builds the on-disk bytes for key/value. A tombstone record
// carries a zero-length value regardless of what value holds.
func encodeRecord(key string, value []byte, tombstone bool) []byte {
	valLen := len(value)
	if tombstone {
		valLen = 0
	}

	buf := make([]byte, recordHeaderWidth+len(key)+valLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:4+len(key)], key)
	binary.BigEndian.PutUint32(buf[4+len(key):8+len(key)], uint32(valLen))
	if !tombstone {
		copy(buf[8+len(key):], value)
	}
	return buf
}

// recordSize returns the on-disk byte length of a record for key/value
// without building it, for capacity checks before writing.
func recordSize(key string, value []byte, tombstone bool) int64 {
	valLen := len(value)
	if tombstone {
		valLen = 0
	}
	return int64(recordHeaderWidth + len(key) + valLen)
}

// ReadState is the tri-state result of looking a key up inside a single
// segment: a segment must be able to say "not present here" distinctly
// from "present here as a tombstone", otherwise a tombstone in an older
// segment could incorrectly be treated as a miss and let a newer segment's
// (impossible, since newer always wins first) or an even-older segment's
// live value leak through the shadowing logic.
type ReadState int

const (
	Missing ReadState = iota
	Tombstone
	Found
)

// scannedRecord is the key and index offset recovered for one record while
// rebuilding a segment's index. The value itself is read later, on demand,
// straight off the offset the index stores for its key.
type scannedRecord struct {
	key string
	// valueOffset is the absolute file offset of the value payload itself,
	// i.e. the position right after the value-length prefix. It is what
	// the segment index stores for each key.
	valueOffset int64
}
