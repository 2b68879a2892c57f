package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samkira/kvengine/kverrors"
)

func TestPutReadRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("b", []byte("2")))

	v, err := e.Read("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	v, err = e.Read("b")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	_, err = e.Read("c")
	require.ErrorIs(t, err, kverrors.ErrKeyNotFound)
}

func TestLastWriterWins(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Put("k", []byte("v1")))
	require.NoError(t, e.Put("k", []byte("v2")))

	v, err := e.Read("k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

func TestDeleteHidesValue(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Put("k", []byte("v")))
	require.NoError(t, e.Delete("k"))

	_, err := e.Read("k")
	require.ErrorIs(t, err, kverrors.ErrKeyNotFound)
}

func TestTombstoneShadowsOlderSegment(t *testing.T) {
	// A cap of exactly one record's worth of bytes (8 + "k" + "v") forces
	// the tombstone that follows into a fresh segment on disk.
	e, dir := newTestEngine(t, WithMaxSegmentSize(10))

	require.NoError(t, e.Put("k", []byte("v")))
	require.NoError(t, e.Delete("k"))
	require.NoError(t, e.Close())

	reopened, err := Open(dir, WithMaxSegmentSize(10))
	require.NoError(t, err)
	defer reopened.Close() // nolint:errcheck

	_, err = reopened.Read("k")
	require.ErrorIs(t, err, kverrors.ErrKeyNotFound)
}

func TestRangeInclusiveInclusive(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.BatchPut(
		[]string{"x", "y", "z"},
		[][]byte{[]byte("1"), []byte("2"), []byte("3")},
	))

	got, err := e.ReadRange("x", "z")
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{
		"x": []byte("1"),
		"y": []byte("2"),
		"z": []byte("3"),
	}, got)
}

func TestRangeRespectsTombstones(t *testing.T) {
	e, _ := newTestEngine(t, WithMaxSegmentSize(10))

	require.NoError(t, e.Put("k", []byte("v")))
	require.NoError(t, e.Delete("k"))

	got, err := e.ReadRange("a", "z")
	require.NoError(t, err)
	require.NotContains(t, got, "k")
}

func TestDurabilityAcrossReopen(t *testing.T) {
	e, dir := newTestEngine(t)

	require.NoError(t, e.Put("a", []byte("1")))
	require.NoError(t, e.Put("b", []byte("2")))
	require.NoError(t, e.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close() // nolint:errcheck

	v, err := reopened.Read("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	v, err = reopened.Read("b")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestSegmentSizeCap(t *testing.T) {
	const maxSize = 64
	e, _ := newTestEngine(t, WithMaxSegmentSize(maxSize))

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Put(fmt.Sprintf("k%03d", i), []byte("xxxxxxxx")))
	}

	for _, seg := range e.segments {
		require.LessOrEqual(t, seg.size(), int64(maxSize))
	}
}

func TestDenseSegmentIDs(t *testing.T) {
	e, _ := newTestEngine(t, WithMaxSegmentSize(32))

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Put(fmt.Sprintf("k%03d", i), []byte("xxxxxxxx")))
	}

	ids := e.SegmentIDs()
	for i, id := range ids {
		require.Equal(t, i, id)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.Put("", []byte("v"))
	var kvErr *kverrors.Error
	require.True(t, errors.As(err, &kvErr))
	require.Equal(t, kverrors.InvalidArgument, kvErr.Kind)
}

func TestBatchPutLengthMismatch(t *testing.T) {
	e, _ := newTestEngine(t)

	err := e.BatchPut([]string{"a", "b"}, [][]byte{[]byte("1")})
	var kvErr *kverrors.Error
	require.True(t, errors.As(err, &kvErr))
	require.Equal(t, kverrors.InvalidArgument, kvErr.Kind)
}

func TestOperationsAfterCloseFail(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.Close())

	_, err := e.Read("a")
	var kvErr *kverrors.Error
	require.True(t, errors.As(err, &kvErr))
	require.Equal(t, kverrors.Closed, kvErr.Kind)

	err = e.Put("a", []byte("1"))
	require.True(t, errors.As(err, &kvErr))
	require.Equal(t, kverrors.Closed, kvErr.Kind)
}

func TestRecordTooLargeForEmptySegment(t *testing.T) {
	e, _ := newTestEngine(t, WithMaxSegmentSize(8))

	err := e.Put("k", []byte("this value is much bigger than the segment cap"))
	var kvErr *kverrors.Error
	require.True(t, errors.As(err, &kvErr))
	require.Equal(t, kverrors.TooLarge, kvErr.Kind)
}

func TestManyKeys(t *testing.T) {
	e, _ := newTestEngine(t)

	const n = 1000
	for i := 0; i < n; i++ {
		k, v := fmt.Sprintf("k%04d", i), fmt.Sprintf("v%04d", i)
		require.NoError(t, e.Put(k, []byte(v)))
	}

	for i := 0; i < n; i++ {
		k, want := fmt.Sprintf("k%04d", i), fmt.Sprintf("v%04d", i)
		got, err := e.Read(k)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}

func TestRecoveryAcrossSegmentBoundary(t *testing.T) {
	// A segment cap of 16 with 12-byte records ("foo" -> 1-byte value)
	// forces each overwrite of the same key into its own segment.
	dir := t.TempDir()

	e, err := Open(dir, WithMaxSegmentSize(16))
	require.NoError(t, err)

	require.NoError(t, e.Put("foo", []byte("A"))) // segment_000000
	require.NoError(t, e.Put("foo", []byte("B"))) // segment_000001
	require.NoError(t, e.Put("foo", []byte("C"))) // segment_000002

	// Simulate a crash mid-way through C's record: chop its last 3 bytes
	// off segment_000002, leaving a torn tail, without going through Close,
	// so the in-memory engine never learns about the corruption.
	truncateTail(t, segmentPath(dir, 2), 3)

	reopened, err := Open(dir, WithMaxSegmentSize(16))
	require.NoError(t, err)
	defer reopened.Close() // nolint:errcheck

	got, err := reopened.Read("foo")
	require.NoError(t, err)
	require.Equal(t, []byte("B"), got)
}
