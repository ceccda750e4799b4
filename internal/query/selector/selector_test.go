package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/query/filter"
	"sneldb/internal/query/planner"
	"sneldb/internal/schema"
	"sneldb/internal/segment"
	"sneldb/internal/storage/block"
)

func writeTestSegment(t *testing.T, storage block.Storage, dir string, uid common.UID) {
	t.Helper()
	var events []*schema.Event
	for i := 0; i < 12; i++ {
		events = append(events, &schema.Event{
			EventType: "signup",
			UID:       uid,
			ContextID: common.ContextID("ctx"),
			Timestamp: int64(100 + i),
			EventID:   common.EventID(i + 1),
			Payload: map[string]schema.ScalarValue{
				"amount": schema.IntValue(int64(i)),
			},
		})
	}

	f := &segment.Flusher{Storage: storage, ShardDir: dir, Index: segment.NewIndex(storage, dir), RowsPerZone: 4}
	seq := uint32(0)
	_, err := f.Flush(context.Background(), events, func() uint32 { id := seq; seq++; return id })
	require.NoError(t, err)
}

func TestSelectorEqualityOnZoneIndexField(t *testing.T) {
	ctx := context.Background()
	storage, err := block.NewLocalFS(block.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	shardDir := "shard0"
	writeTestSegment(t, storage, shardDir, 1)

	id := common.NewSegmentID(common.Level0Base, 0)
	segDir := shardDir + "/" + id.DirName()
	seg := NewSegment(id, storage, segDir, 1)

	tree := filter.NewFilter("event_type", filter.OpEq, schema.StringValue("signup"), 1)
	cat, err := seg.Catalog(ctx)
	require.NoError(t, err)
	planner.PlanAll(tree.ExtractUniqueFilters(), cat)

	zones, err := seg.Evaluate(ctx, tree)
	require.NoError(t, err)
	require.NotEmpty(t, zones, "every zone has event_type=signup")
}

func TestSelectorRangeOnPayloadField(t *testing.T) {
	ctx := context.Background()
	storage, err := block.NewLocalFS(block.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	shardDir := "shard0"
	writeTestSegment(t, storage, shardDir, 1)

	id := common.NewSegmentID(common.Level0Base, 0)
	segDir := shardDir + "/" + id.DirName()
	seg := NewSegment(id, storage, segDir, 1)

	tree := filter.NewFilter("amount", filter.OpGte, schema.IntValue(9), 1)
	cat, err := seg.Catalog(ctx)
	require.NoError(t, err)
	planner.PlanAll(tree.ExtractUniqueFilters(), cat)

	all, err := seg.AllZones(ctx)
	require.NoError(t, err)

	zones, err := seg.Evaluate(ctx, tree)
	require.NoError(t, err)
	require.NotEmpty(t, zones)
	require.LessOrEqual(t, len(zones), len(all))
}

func TestSelectorNotSubtractsFromFullSet(t *testing.T) {
	ctx := context.Background()
	storage, err := block.NewLocalFS(block.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	shardDir := "shard0"
	writeTestSegment(t, storage, shardDir, 1)

	id := common.NewSegmentID(common.Level0Base, 0)
	segDir := shardDir + "/" + id.DirName()
	seg := NewSegment(id, storage, segDir, 1)

	leaf := filter.NewFilter("event_type", filter.OpEq, schema.StringValue("nonexistent"), 1)
	tree := filter.Not(leaf)
	cat, err := seg.Catalog(ctx)
	require.NoError(t, err)
	planner.PlanAll(tree.ExtractUniqueFilters(), cat)

	all, err := seg.AllZones(ctx)
	require.NoError(t, err)

	zones, err := seg.Evaluate(ctx, tree)
	require.NoError(t, err)
	require.Equal(t, len(all), len(zones), "nothing matches event_type=nonexistent, so Not keeps every zone")
}
