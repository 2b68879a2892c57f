package core

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/samkira/kvengine/kverrors"
)

// segmentID parses the numeric suffix of a segment filename, e.g.
// "segment_000003" -> 3.
func segmentID(name string) (int, bool) {
	if !strings.HasPrefix(name, segmentFilePrefix) {
		return 0, false
	}
	suffix := strings.TrimPrefix(name, segmentFilePrefix)
	id, err := strconv.Atoi(suffix)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// discoverSegments enumerates dir for segment_* files, opens each, rebuilds
// its index, and returns them sorted by id ascending. Files that don't
// match the naming scheme are logged as stray and otherwise ignored,
// mirroring the orphaned-file check the teacher ran against its manifest.
func discoverSegments(dir string, maxSize int64, log *zap.Logger) ([]*segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, kverrors.Wrap(kverrors.Io, fmt.Sprintf("read data dir %q", dir), err)
	}

	found := mapset.NewSet[int]()
	var ids []int
	var stray []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := segmentID(entry.Name()); ok {
			if found.Contains(id) {
				return nil, kverrors.New(kverrors.Corrupt, fmt.Sprintf("duplicate segment id %d in %q", id, dir))
			}
			found.Add(id)
			ids = append(ids, id)
			continue
		}
		stray = append(stray, entry.Name())
	}

	if len(stray) > 0 {
		log.Warn("ignoring files that don't match the segment naming scheme",
			zap.Strings("files", stray), zap.String("dir", dir))
	}

	sort.Ints(ids)
	for i, id := range ids {
		if id != i {
			return nil, kverrors.New(kverrors.Corrupt,
				fmt.Sprintf("segment ids are not dense: expected %d, found %d", i, id))
		}
	}

	segments := make([]*segment, 0, len(ids))
	for _, id := range ids {
		seg, err := openSegment(dir, id, maxSize, log)
		if err != nil {
			for _, opened := range segments {
				_ = opened.close()
			}
			return nil, err
		}
		segments = append(segments, seg)
	}

	return segments, nil
}
