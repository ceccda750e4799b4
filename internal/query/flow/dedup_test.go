package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/schema"
)

func eventsWithIDs(ids ...int) []*schema.Event {
	out := make([]*schema.Event, len(ids))
	for i, id := range ids {
		out[i] = &schema.Event{EventID: common.EventID(id)}
	}
	return out
}

func TestDedupByEventIDDropsRepeats(t *testing.T) {
	fc := NewFlowContext(context.Background())
	s, _ := NewBatchSchema(ColumnSpec{Name: "id", LogicalType: schema.LogicalInteger})

	in := make(chan *ColumnBatch, 2)
	in <- &ColumnBatch{Schema: s, Events: eventsWithIDs(1, 2, 3)}
	// the same events surfacing again from a just-flushed segment
	in <- &ColumnBatch{Schema: s, Events: eventsWithIDs(2, 3, 4)}
	close(in)

	var got []int64
	for b := range DedupByEventID(fc, in) {
		for _, e := range b.Events {
			got = append(got, int64(e.EventID))
		}
	}
	require.Equal(t, []int64{1, 2, 3, 4}, got)
}

func TestDedupByEventIDPassesSyntheticRows(t *testing.T) {
	fc := NewFlowContext(context.Background())
	s, _ := NewBatchSchema(ColumnSpec{Name: "count", LogicalType: schema.LogicalInteger})

	synthetic := []*schema.Event{
		{Payload: map[string]schema.ScalarValue{"count": schema.IntValue(1)}},
		{Payload: map[string]schema.ScalarValue{"count": schema.IntValue(2)}},
	}
	in := make(chan *ColumnBatch, 1)
	in <- &ColumnBatch{Schema: s, Events: synthetic}
	close(in)

	var rows int
	for b := range DedupByEventID(fc, in) {
		rows += len(b.Events)
	}
	require.Equal(t, 2, rows, "rows without an event_id are never deduplicated against each other")
}
