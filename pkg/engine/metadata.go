// pkg/engine/metadata.go
// Checkpoint snapshots: a full dump of the Sorted Spine's live (key,
// locator) pairs, written to a sidecar file whenever Checkpoint runs.
// Recovery loads the most recent snapshot (named by an atomically
// rewritten "CURRENT" pointer file, LevelDB-descriptor style) and replays
// only the WAL records written since — the WAL segments preceding that
// checkpoint have already been physically removed by wal.Checkpoint, so
// there is nothing older left to replay anyway.
package engine

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"omendb/pkg/locator"
	"omendb/pkg/omenerr"
	"omendb/pkg/spine"
)

const currentFileName = "CURRENT"

type snapshotEntry struct {
	Key       int64  `json:"key"`
	SegmentID uint32 `json:"segment_id"`
	Offset    int64  `json:"offset"`
	Len       uint32 `json:"len"`
}

type snapshot struct {
	Generation uint64          `json:"generation"`
	Entries    []snapshotEntry `json:"entries"`
}

type currentPointer struct {
	MetadataPath string `json:"metadata_path"`
	Generation   uint64 `json:"generation"`
}

func snapshotPath(dir string, generation uint64) string {
	return filepath.Join(dir, "checkpoint-"+itoa(generation)+".json")
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// writeSnapshot dumps every live entry of sp to a checkpoint file and
// atomically repoints CURRENT at it.
func writeSnapshot(dir string, generation uint64, sp *spine.Spine) (string, error) {
	it, err := sp.Range(minInt64, maxInt64)
	if err != nil {
		return "", omenerr.New(omenerr.KindInternal, "engine.checkpoint", err)
	}

	snap := snapshot{Generation: generation}
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		snap.Entries = append(snap.Entries, snapshotEntry{
			Key:       e.Key,
			SegmentID: e.Locator.SegmentID,
			Offset:    e.Locator.Offset,
			Len:       e.Locator.Len,
		})
	}

	path := snapshotPath(dir, generation)
	data, err := json.Marshal(snap)
	if err != nil {
		return "", omenerr.New(omenerr.KindInternal, "engine.checkpoint", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", omenerr.New(omenerr.KindIo, "engine.checkpoint", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", omenerr.New(omenerr.KindIo, "engine.checkpoint", err)
	}

	ptr := currentPointer{MetadataPath: filepath.Base(path), Generation: generation}
	ptrData, err := json.Marshal(ptr)
	if err != nil {
		return "", omenerr.New(omenerr.KindInternal, "engine.checkpoint", err)
	}
	curTmp := filepath.Join(dir, currentFileName+".tmp")
	if err := os.WriteFile(curTmp, ptrData, 0644); err != nil {
		return "", omenerr.New(omenerr.KindIo, "engine.checkpoint", err)
	}
	if err := os.Rename(curTmp, filepath.Join(dir, currentFileName)); err != nil {
		return "", omenerr.New(omenerr.KindIo, "engine.checkpoint", err)
	}

	return path, nil
}

// loadCurrentSnapshot reads the CURRENT pointer (if any) and restores its
// referenced snapshot into sp. Returns (0, false, nil) if no checkpoint has
// ever been taken.
func loadCurrentSnapshot(dir string, sp *spine.Spine) (generation uint64, found bool, err error) {
	ptrData, err := os.ReadFile(filepath.Join(dir, currentFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, omenerr.New(omenerr.KindIo, "engine.recover", err)
	}

	var ptr currentPointer
	if err := json.Unmarshal(ptrData, &ptr); err != nil {
		return 0, false, omenerr.New(omenerr.KindCorruption, "engine.recover", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ptr.MetadataPath))
	if err != nil {
		return 0, false, omenerr.New(omenerr.KindCorruption, "engine.recover", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, false, omenerr.New(omenerr.KindCorruption, "engine.recover", err)
	}

	for _, e := range snap.Entries {
		sp.Insert(e.Key, locator.Locator{SegmentID: e.SegmentID, Offset: e.Offset, Len: e.Len})
	}
	sp.Compact()

	return snap.Generation, true, nil
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)
