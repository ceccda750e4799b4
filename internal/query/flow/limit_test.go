package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"sneldb/internal/schema"
)

func idEvents(ids ...int) []*schema.Event {
	out := make([]*schema.Event, len(ids))
	for i, id := range ids {
		out[i] = &schema.Event{Payload: map[string]schema.ScalarValue{"id": schema.IntValue(int64(id))}}
	}
	return out
}

func drainIDs(t *testing.T, out <-chan *ColumnBatch) []int64 {
	var ids []int64
	for b := range out {
		for _, e := range b.Events {
			ids = append(ids, e.Payload["id"].Int64)
		}
	}
	return ids
}

func TestLimitOffsetSkipsThenBounds(t *testing.T) {
	fc := NewFlowContext(context.Background())
	s, _ := NewBatchSchema(ColumnSpec{Name: "id", LogicalType: schema.LogicalInteger})
	in := make(chan *ColumnBatch, 3)
	in <- &ColumnBatch{Schema: s, Events: idEvents(1, 2, 3)}
	in <- &ColumnBatch{Schema: s, Events: idEvents(4, 5)}
	in <- &ColumnBatch{Schema: s, Events: idEvents(6, 7, 8)}
	close(in)

	out := LimitOffset(fc, in, 2, 3)
	ids := drainIDs(t, out)
	assert.Equal(t, []int64{3, 4, 5}, ids)
}

func TestLimitOffsetUnlimitedWhenLimitZero(t *testing.T) {
	fc := NewFlowContext(context.Background())
	s, _ := NewBatchSchema(ColumnSpec{Name: "id", LogicalType: schema.LogicalInteger})
	in := make(chan *ColumnBatch, 1)
	in <- &ColumnBatch{Schema: s, Events: idEvents(1, 2, 3)}
	close(in)

	out := LimitOffset(fc, in, 1, 0)
	ids := drainIDs(t, out)
	assert.Equal(t, []int64{2, 3}, ids)
}
