package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/query/aggregate"
	"sneldb/internal/schema"
)

func amountEvent(id int, ctx string, amount int64) *schema.Event {
	return &schema.Event{
		EventType: "order",
		ContextID: common.ContextID(ctx),
		EventID:   common.EventID(id),
		Payload:   map[string]schema.ScalarValue{"amount": schema.IntValue(amount)},
	}
}

func TestColumnarAggregateEmitsOneRowPerGroup(t *testing.T) {
	fc := NewFlowContext(context.Background())
	inSchema, _ := NewBatchSchema(ColumnSpec{Name: "amount", LogicalType: schema.LogicalInteger})
	outSchema, _ := NewBatchSchema(ColumnSpec{Name: "total_amount", LogicalType: schema.LogicalInteger})

	in := make(chan *ColumnBatch, 2)
	in <- &ColumnBatch{Schema: inSchema, Events: []*schema.Event{amountEvent(1, "c1", 10), amountEvent(2, "c2", 20)}}
	in <- &ColumnBatch{Schema: inSchema, Events: []*schema.Event{amountEvent(3, "c1", 5)}}
	close(in)

	sink := aggregate.NewSink([]aggregate.Spec{aggregate.Sum("amount")}, []string{"context_id"}, "", "", 0)
	out := ColumnarAggregate(fc, in, outSchema, sink)

	var batches []*ColumnBatch
	for b := range out {
		batches = append(batches, b)
	}
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Events, 2)

	totals := map[string]int64{}
	for _, e := range batches[0].Events {
		totals[e.Payload["context_id"].Utf8] = e.Payload["total_amount"].Int64
	}
	assert.Equal(t, int64(15), totals["c1"])
	assert.Equal(t, int64(20), totals["c2"])
}
