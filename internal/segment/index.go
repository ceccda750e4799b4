package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sneldb/internal/common"
	"sneldb/internal/storage/block"
)

// Entry is one SegmentIndex row (§4.1 component E): a segment id plus the
// uids it holds data for.
type Entry struct {
	ID   common.SegmentID `json:"id"`
	UIDs []common.UID     `json:"uids"`
}

// Index is the per-shard on-disk SegmentIndex (§3.5 "E"). It is the single
// source of truth for which segment directories are live; invariant I3
// requires every entry to reference a directory that actually exists.
// Both flush and compaction handover take Index's mutex as the shard's
// flush_lock (§4.5, §5).
type Index struct {
	mu      sync.Mutex
	storage block.Storage
	path    string
	entries map[common.SegmentID]*Entry
}

// NewIndex opens the segment index persisted at "<shardDir>/segment_index.json".
func NewIndex(storage block.Storage, shardDir string) *Index {
	return &Index{
		storage: storage,
		path:    fmt.Sprintf("%s/segment_index.json", shardDir),
		entries: make(map[common.SegmentID]*Entry),
	}
}

// Load reads the persisted index, if any.
func (idx *Index) Load(ctx context.Context) error {
	data, err := block.ReadAll(ctx, idx.storage, idx.path)
	if err != nil {
		if block.IsNotFound(err) {
			return nil
		}
		return common.NewErrorWithCause(common.ErrStorageCorrupted, "load segment index", err)
	}
	var wire struct {
		Entries []*Entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return common.NewErrorWithCause(common.ErrStorageCorrupted, "corrupt segment index", err)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range wire.Entries {
		idx.entries[e.ID] = e
	}
	return nil
}

// Lock/Unlock expose the index's mutex as the shard's flush_lock, held
// across the whole handover critical section by flush and compaction
// (§4.4 step 4, §4.5 "commit_batch").
func (idx *Index) Lock()   { idx.mu.Lock() }
func (idx *Index) Unlock() { idx.mu.Unlock() }

// Entries returns a snapshot of every current entry. Caller must hold the
// lock if atomicity with a subsequent mutation matters.
func (idx *Index) Entries() []*Entry {
	out := make([]*Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		cp := *e
		cp.UIDs = append([]common.UID(nil), e.UIDs...)
		out = append(out, &cp)
	}
	return out
}

// Put adds or replaces entry e. Caller must hold the lock.
func (idx *Index) Put(e *Entry) {
	idx.entries[e.ID] = e
}

// Remove deletes the entry for id. Caller must hold the lock.
func (idx *Index) Remove(id common.SegmentID) {
	delete(idx.entries, id)
}

// RetireUIDFromSegments removes uid's label from the named segment ids
// only (or from every entry, if ids is nil), returning the ids that became
// empty ("drained") as a result. Caller must hold the lock.
func (idx *Index) RetireUIDFromSegments(uid common.UID, ids []common.SegmentID) []common.SegmentID {
	var targets map[common.SegmentID]bool
	if ids != nil {
		targets = make(map[common.SegmentID]bool, len(ids))
		for _, id := range ids {
			targets[id] = true
		}
	}

	var drained []common.SegmentID
	for id, e := range idx.entries {
		if targets != nil && !targets[id] {
			continue
		}
		kept := e.UIDs[:0]
		for _, u := range e.UIDs {
			if u != uid {
				kept = append(kept, u)
			}
		}
		e.UIDs = kept
		if len(e.UIDs) == 0 {
			drained = append(drained, id)
		}
	}
	return drained
}

// SegmentsFor returns every segment id currently holding data for uid, in
// no particular order.
func (idx *Index) SegmentsFor(uid common.UID) []common.SegmentID {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var out []common.SegmentID
	for id, e := range idx.entries {
		for _, u := range e.UIDs {
			if u == uid {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Save persists the index via a crash-safe rename: write to a temp path,
// then Move it over the real path (§4.1 "crash-safe rename-on-save").
// Caller must hold the lock.
func (idx *Index) Save(ctx context.Context) error {
	wire := struct {
		Entries []*Entry `json:"entries"`
	}{Entries: idx.Entries()}

	data, err := json.Marshal(wire)
	if err != nil {
		return common.NewErrorWithCause(common.ErrInternal, "serialize segment index", err)
	}

	tmp := idx.path + ".tmp"
	if err := block.WriteAll(ctx, idx.storage, tmp, data); err != nil {
		return common.NewErrorWithCause(common.ErrInternal, "write segment index temp file", err)
	}
	if err := idx.storage.Move(ctx, tmp, idx.path); err != nil {
		return common.NewErrorWithCause(common.ErrInternal, "rename segment index into place", err)
	}
	return nil
}
