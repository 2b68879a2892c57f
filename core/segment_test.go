package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSegmentWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	seg, err := newSegment(dir, 0, 1024)
	require.NoError(t, err)
	defer seg.close() // nolint:errcheck

	ok, err := seg.write("a", []byte("1"), false, true)
	require.NoError(t, err)
	require.True(t, ok)

	state, value, err := seg.read("a")
	require.NoError(t, err)
	require.Equal(t, Found, state)
	require.Equal(t, []byte("1"), value)
}

func TestSegmentWriteRefusesWhenFull(t *testing.T) {
	dir := t.TempDir()
	seg, err := newSegment(dir, 0, 12) // room for one "a"->"1" record (8 + 1 + 1 = 10), not two
	require.NoError(t, err)
	defer seg.close() // nolint:errcheck

	ok, err := seg.write("a", []byte("1"), false, true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = seg.write("b", []byte("2"), false, true)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(10), seg.size())
}

func TestSegmentTombstoneReadsAsTombstoneNotMissing(t *testing.T) {
	dir := t.TempDir()
	seg, err := newSegment(dir, 0, 1024)
	require.NoError(t, err)
	defer seg.close() // nolint:errcheck

	ok, err := seg.write("k", nil, true, true)
	require.NoError(t, err)
	require.True(t, ok)

	state, _, err := seg.read("k")
	require.NoError(t, err)
	require.Equal(t, Tombstone, state)

	state, _, err = seg.read("never-written")
	require.NoError(t, err)
	require.Equal(t, Missing, state)
}

func TestSegmentLastOffsetWinsOnRebuild(t *testing.T) {
	dir := t.TempDir()
	seg, err := newSegment(dir, 0, 1024)
	require.NoError(t, err)

	_, err = seg.write("k", []byte("first"), false, true)
	require.NoError(t, err)
	_, err = seg.write("k", []byte("second"), false, true)
	require.NoError(t, err)
	require.NoError(t, seg.close())

	reopened, err := openSegment(dir, 0, 1024, zap.NewNop())
	require.NoError(t, err)
	defer reopened.close() // nolint:errcheck

	state, value, err := reopened.read("k")
	require.NoError(t, err)
	require.Equal(t, Found, state)
	require.Equal(t, []byte("second"), value)
}

func TestSegmentTruncatesTornTailOnOpen(t *testing.T) {
	dir := t.TempDir()
	seg, err := newSegment(dir, 0, 1024)
	require.NoError(t, err)

	_, err = seg.write("good", []byte("v"), false, true)
	require.NoError(t, err)
	goodSize := seg.size()
	require.NoError(t, seg.close())

	// Append a torn header for a second record that never completes.
	path := segmentPath(dir, 0)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 5, 'h', 'e'}) // keyLen=5 but only 2 key bytes follow
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := openSegment(dir, 0, 1024, zap.NewNop())
	require.NoError(t, err)
	defer reopened.close() // nolint:errcheck

	state, value, err := reopened.read("good")
	require.NoError(t, err)
	require.Equal(t, Found, state)
	require.Equal(t, []byte("v"), value)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, goodSize, info.Size())
}

func TestSegmentReadRangeOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	seg, err := newSegment(dir, 0, 1024)
	require.NoError(t, err)
	defer seg.close() // nolint:errcheck

	for _, k := range []string{"a", "b", "c", "d"} {
		_, err := seg.write(k, []byte(k), false, true)
		require.NoError(t, err)
	}

	results, err := seg.readRange("b", "c")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, Found, results["b"].state)
	require.Equal(t, Found, results["c"].state)
	require.NotContains(t, results, "a")
	require.NotContains(t, results, "d")
}

func TestSegmentFileName(t *testing.T) {
	dir := t.TempDir()
	seg, err := newSegment(dir, 7, 1024)
	require.NoError(t, err)
	defer seg.close() // nolint:errcheck

	require.Equal(t, filepath.Join(dir, "segment_000007"), seg.path)

	id, ok := segmentID("segment_000007")
	require.True(t, ok)
	require.Equal(t, 7, id)

	_, ok = segmentID("not-a-segment")
	require.False(t, ok)
}
