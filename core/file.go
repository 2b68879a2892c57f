package core

import (
	"fmt"
	"os"

	"github.com/samkira/kvengine/kverrors"
)

// durableCreate fsyncs a freshly created file and then fsyncs its
// containing directory, so the directory entry itself is committed to
// disk. Without the directory fsync a crash right after segment creation
// could leave the file's data durable but its name absent from the
// directory on recovery, breaking the dense-segment-id invariant.
func durableCreate(f *os.File, dir string) error {
	if err := f.Sync(); err != nil {
		return kverrors.Wrap(kverrors.Io, fmt.Sprintf("sync new file %q", f.Name()), err)
	}

	dfd, err := os.Open(dir)
	if err != nil {
		return kverrors.Wrap(kverrors.Io, fmt.Sprintf("open dir %q for sync", dir), err)
	}
	defer dfd.Close() // nolint:errcheck

	if err := dfd.Sync(); err != nil {
		return kverrors.Wrap(kverrors.Io, fmt.Sprintf("sync dir %q", dir), err)
	}

	return nil
}
