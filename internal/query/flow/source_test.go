package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/schema"
	"sneldb/internal/segment"
	"sneldb/internal/storage/block"
)

func TestMemTableSourceChunksIntoBatches(t *testing.T) {
	fc := NewFlowContext(context.Background())
	s, _ := NewBatchSchema(ColumnSpec{Name: "id", LogicalType: schema.LogicalInteger})
	events := idEvents(1, 2, 3, 4, 5)

	out := MemTableSource(fc, s, events, 2)
	var batches [][]int64
	for b := range out {
		var ids []int64
		for _, e := range b.Events {
			ids = append(ids, e.Payload["id"].Int64)
		}
		batches = append(batches, ids)
	}
	require.Len(t, batches, 3)
	assert.Equal(t, []int64{1, 2}, batches[0])
	assert.Equal(t, []int64{5}, batches[2])
}

func writeSourceSegment(t *testing.T, storage block.Storage, dir string, uid common.UID) {
	t.Helper()
	var events []*schema.Event
	for i := 0; i < 6; i++ {
		events = append(events, &schema.Event{
			EventType: "signup",
			UID:       uid,
			ContextID: common.ContextID("ctx"),
			Timestamp: int64(100 + i),
			EventID:   common.EventID(i + 1),
		})
	}
	f := &segment.Flusher{Storage: storage, ShardDir: dir, Index: segment.NewIndex(storage, dir), RowsPerZone: 3}
	seq := uint32(0)
	_, err := f.Flush(context.Background(), events, func() uint32 { id := seq; seq++; return id })
	require.NoError(t, err)
}

func TestSegmentSourceReadsOnlyGivenZones(t *testing.T) {
	storage, err := block.NewLocalFS(block.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	shardDir := "shard0"
	writeSourceSegment(t, storage, shardDir, 1)
	id := common.NewSegmentID(common.Level0Base, 0)
	segDir := shardDir + "/" + id.DirName()

	fc := NewFlowContext(context.Background())
	s, _ := NewBatchSchema(ColumnSpec{Name: "timestamp", LogicalType: schema.LogicalTimestamp})

	out := SegmentSource(fc, s, segment.DirectZoneReader{Storage: storage}, segDir, 1, []segment.CandidateZone{{SegmentID: id, ZoneID: 0}}, 10)
	var got []*schema.Event
	for b := range out {
		got = append(got, b.Events...)
	}
	require.NoError(t, fc.Err())
	require.Len(t, got, 3, "zone 0 holds the first 3 of 6 rows at RowsPerZone=3")
}
