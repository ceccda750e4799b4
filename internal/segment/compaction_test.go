package segment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/schema"
	"sneldb/internal/storage/block"
)

func flushBatch(t *testing.T, f *Flusher, uid common.UID, start, count int) {
	t.Helper()
	var events []*schema.Event
	for i := start; i < start+count; i++ {
		events = append(events, testEvent(uid, "ctx-a", int64(100+i), common.EventID(i+1), int64(i)))
	}
	_, err := f.Flush(context.Background(), events, NextSeq(f.Index, common.Level0Base))
	require.NoError(t, err)
}

func TestCompactor_KWayMergePreservesEveryEvent(t *testing.T) {
	ctx := context.Background()
	f, storage, shardDir := newTestFlusher(t)
	c := &Compactor{Storage: storage, ShardDir: shardDir, Index: f.Index, RowsPerZone: 4, K: 3}

	const uid = common.UID(1)
	for batch := 0; batch < 3; batch++ {
		flushBatch(t, f, uid, batch*5, 5)
	}
	require.Len(t, f.Index.SegmentsFor(uid), 3)

	before := readAllForUID(t, storage, shardDir, f.Index, uid)
	require.Len(t, before, 15)

	plans := c.BuildPlans()
	require.Len(t, plans, 1)
	require.Equal(t, uid, plans[0].UID)
	require.Len(t, plans[0].Inputs, 3)

	result, err := c.Execute(ctx, plans[0])
	require.NoError(t, err)
	require.Len(t, result.SegmentIDs, 1)
	require.Equal(t, common.SegmentLevel(1), result.SegmentIDs[0].Level())

	live := f.Index.SegmentsFor(uid)
	require.Equal(t, result.SegmentIDs, live, "inputs retired, only the merged output remains")

	requireIndexReferencesExistingDirs(t, storage, shardDir, f.Index)

	after := readAllForUID(t, storage, shardDir, f.Index, uid)
	require.Len(t, after, 15, "compaction must not lose or duplicate rows")

	seen := make(map[common.EventID]int64, len(after))
	for _, e := range after {
		seen[e.EventID] = e.Payload["amount"].Int64
	}
	for _, e := range before {
		require.Equal(t, e.Payload["amount"].Int64, seen[e.EventID],
			"every pre-compaction row must survive with the same values")
	}
}

func TestCompactor_ResidualBelowForceThresholdIsLeftAlone(t *testing.T) {
	f, storage, shardDir := newTestFlusher(t)
	c := &Compactor{Storage: storage, ShardDir: shardDir, Index: f.Index, RowsPerZone: 4, K: 3}

	flushBatch(t, f, common.UID(1), 0, 3)
	require.Len(t, f.Index.SegmentsFor(1), 1)

	require.Empty(t, c.BuildPlans(), "one segment is below both k and ceil(2k/3)")
}

func TestCompactor_ForcedResidualPlan(t *testing.T) {
	f, storage, shardDir := newTestFlusher(t)
	c := &Compactor{Storage: storage, ShardDir: shardDir, Index: f.Index, RowsPerZone: 4, K: 3}

	const uid = common.UID(1)
	for batch := 0; batch < 2; batch++ {
		flushBatch(t, f, uid, batch*3, 3)
	}
	require.Len(t, f.Index.SegmentsFor(uid), 2)

	plans := c.BuildPlans()
	require.Len(t, plans, 1, "a residual of 2 >= ceil(2*3/3) packs as one forced plan")
	require.Len(t, plans[0].Inputs, 2)
}

// requireIndexReferencesExistingDirs asserts invariant I3: every entry in
// the SegmentIndex — drained or not — must reference a segment directory
// that still exists on disk.
func requireIndexReferencesExistingDirs(t *testing.T, storage block.Storage, shardDir string, idx *Index) {
	t.Helper()
	idx.Lock()
	entries := idx.Entries()
	idx.Unlock()
	for _, e := range entries {
		require.NotEmpty(t, e.UIDs, "a drained entry must be removed from the index, not left with an empty uid set")
		listed, err := storage.List(context.Background(), shardDir+"/"+e.ID.DirName()+"/")
		require.NoError(t, err)
		require.NotEmpty(t, listed, "index entry %s references a directory with no files on disk", e.ID)
	}
}

func readAllForUID(t *testing.T, storage block.Storage, shardDir string, idx *Index, uid common.UID) []*schema.Event {
	t.Helper()
	var out []*schema.Event
	for _, id := range idx.SegmentsFor(uid) {
		events, err := ReadEvents(context.Background(), storage, shardDir+"/"+id.DirName(), uid)
		require.NoError(t, err)
		out = append(out, events...)
	}
	return out
}
