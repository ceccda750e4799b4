package segment

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/schema"
	"sneldb/internal/storage/block"
)

func testEvent(uid common.UID, ctxID string, ts int64, eid common.EventID, amount int64) *schema.Event {
	return &schema.Event{
		EventType: "signup",
		UID:       uid,
		ContextID: common.ContextID(ctxID),
		Timestamp: ts,
		EventID:   eid,
		Payload:   map[string]schema.ScalarValue{"amount": schema.IntValue(amount)},
	}
}

func newTestFlusher(t *testing.T) (*Flusher, block.Storage, string) {
	t.Helper()
	storage, err := block.NewLocalFS(block.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	shardDir := "shard0"
	idx := NewIndex(storage, shardDir)
	return &Flusher{Storage: storage, ShardDir: shardDir, Index: idx, RowsPerZone: 4}, storage, shardDir
}

// TestFlush_MultiEventZoneWithRepeatedFixedFields is a regression test for
// the bug where every zone's event_type/context_id are identical across
// rows: writeUIDSegment must not feed those duplicate values into the XOR8
// peeling construction.
func TestFlush_MultiEventZoneWithRepeatedFixedFields(t *testing.T) {
	ctx := context.Background()
	f, storage, _ := newTestFlusher(t)

	const uid = common.UID(1)
	var events []*schema.Event
	for i := 0; i < 10; i++ {
		events = append(events, testEvent(uid, "ctx-a", int64(100+i), common.EventID(i+1), int64(i)))
	}

	var seq uint32
	result, err := f.Flush(ctx, events, func() uint32 {
		seq++
		return seq
	})
	require.NoError(t, err)
	require.Len(t, result.SegmentIDs, 1)

	dir := "shard0/" + result.SegmentIDs[0].DirName()
	cat, err := ReadCatalog(ctx, storage, dir, uid)
	require.NoError(t, err)
	require.False(t, cat.Has(fieldEventType, IndexZoneSurf), "fixed fields must not get a SuRF entry")
	require.False(t, cat.Has(fieldEventType, IndexZoneXor), "fixed fields must not get an XOR entry")
	require.True(t, cat.Has(fieldEventType, IndexZoneIndex))
	require.True(t, cat.Has("amount", IndexZoneSurf))
	require.True(t, cat.Has("amount", IndexZoneXor))

	roundTripped, err := ReadEvents(ctx, storage, dir, uid)
	require.NoError(t, err)
	require.Len(t, roundTripped, 10)
}

func TestFlush_GroupsByUIDIntoSeparateSegments(t *testing.T) {
	ctx := context.Background()
	f, _, _ := newTestFlusher(t)

	events := []*schema.Event{
		testEvent(1, "ctx-a", 1, 1, 10),
		testEvent(1, "ctx-a", 2, 2, 20),
		testEvent(2, "ctx-a", 1, 3, 30),
	}

	var seq uint32
	result, err := f.Flush(ctx, events, func() uint32 {
		seq++
		return seq
	})
	require.NoError(t, err)
	require.Len(t, result.SegmentIDs, 2)
}

func TestFlush_IsTransactionalOnFailure(t *testing.T) {
	ctx := context.Background()
	f, storage, _ := newTestFlusher(t)
	f.Storage = failingStorage{Storage: storage}

	events := []*schema.Event{testEvent(1, "ctx-a", 1, 1, 10)}
	var seq uint32
	_, err := f.Flush(ctx, events, func() uint32 { seq++; return seq })
	require.Error(t, err)

	entries, listErr := storage.List(ctx, "shard0/")
	require.NoError(t, listErr)
	require.Empty(t, entries, "a failed flush must not leave a partial segment directory")
}

// failingStorage wraps a real block.Storage but fails every write, so Flush
// must clean up the partial segment directory it started writing.
type failingStorage struct {
	block.Storage
}

func (f failingStorage) Writer(ctx context.Context, path string) (io.WriteCloser, error) {
	return nil, context.DeadlineExceeded
}

func TestCollectFields_IncludesFixedFieldsThenSortedPayloadFields(t *testing.T) {
	events := []*schema.Event{
		testEvent(1, "ctx-a", 1, 1, 10),
	}
	events[0].Payload["zebra"] = schema.StringValue("z")
	events[0].Payload["amount"] = schema.IntValue(10)

	fields := collectFields(events)
	require.Equal(t, []string{fieldEventType, fieldContextID, fieldTimestamp, fieldEventID, "amount", "zebra"}, fields)
}

func TestAddIndexableValues_DedupesEncodedValues(t *testing.T) {
	surfOut := make(map[uint32][][]byte)
	xorOut := make(map[uint32][][]byte)
	values := []schema.ScalarValue{schema.StringValue("signup"), schema.StringValue("signup"), schema.StringValue("login")}
	nulls := []bool{false, false, false}

	addIndexableValues(surfOut, xorOut, 0, values, nulls)
	require.Len(t, surfOut[0], 2)
	require.Len(t, xorOut[0], 2)
}
