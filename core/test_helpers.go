package core

import (
	"os"
	"testing"
)

// newTestEngine opens an Engine rooted at a fresh temp directory and
// registers cleanup to close it and remove the directory.
func newTestEngine(tb testing.TB, opts ...Option) (e *Engine, dir string) {
	tb.Helper()

	dir, err := os.MkdirTemp("", "kvengine_test_*")
	if err != nil {
		tb.Fatalf("MkdirTemp: %v", err)
	}

	e, err = Open(dir, opts...)
	if err != nil {
		_ = os.RemoveAll(dir)
		tb.Fatalf("Open(%q): %v", dir, err)
	}

	tb.Cleanup(func() {
		_ = e.Close()
		_ = os.RemoveAll(dir)
	})

	return e, dir
}

// truncateTail simulates a crash mid-write by chopping the last n bytes off
// path.
func truncateTail(tb testing.TB, path string, n int64) {
	tb.Helper()

	info, err := os.Stat(path)
	if err != nil {
		tb.Fatalf("stat %q: %v", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		tb.Fatalf("open %q: %v", path, err)
	}
	defer f.Close() // nolint:errcheck

	if err := f.Truncate(info.Size() - n); err != nil {
		tb.Fatalf("truncate %q: %v", path, err)
	}
}
