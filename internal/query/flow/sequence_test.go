package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/schema"
)

func seqEvent(eventType, ctx string, ts int64) *schema.Event {
	return &schema.Event{EventType: eventType, ContextID: common.ContextID(ctx), Timestamp: ts}
}

func TestSequenceMatchFollowedByMatchesOneLinkValue(t *testing.T) {
	fc := NewFlowContext(context.Background())
	s, _ := NewBatchSchema(ColumnSpec{Name: "event_type", LogicalType: schema.LogicalString})

	in := make(chan *ColumnBatch, 1)
	in <- &ColumnBatch{Schema: s, Events: []*schema.Event{
		seqEvent("page_view", "u1", 100),
		seqEvent("order_created", "u1", 160),
		seqEvent("page_view", "u2", 100),
	}}
	close(in)

	spec := SequenceSpec{
		Head:   "page_view",
		Steps:  []SequenceStep{{Link: FollowedBy, EventType: "order_created"}},
		LinkBy: "context_id",
	}
	out := SequenceMatch(fc, in, s, spec)

	var matched []*schema.Event
	for b := range out {
		matched = append(matched, b.Events...)
	}
	require.Len(t, matched, 1)
	assert.Equal(t, "u1", matched[0].Payload["link_value"].Utf8)
}

func TestSequenceMatchRequiresAllEventTypesPresent(t *testing.T) {
	fc := NewFlowContext(context.Background())
	s, _ := NewBatchSchema(ColumnSpec{Name: "event_type", LogicalType: schema.LogicalString})

	in := make(chan *ColumnBatch, 1)
	in <- &ColumnBatch{Schema: s, Events: []*schema.Event{seqEvent("page_view", "u2", 100)}}
	close(in)

	spec := SequenceSpec{
		Head:   "page_view",
		Steps:  []SequenceStep{{Link: FollowedBy, EventType: "order_created"}},
		LinkBy: "context_id",
	}
	out := SequenceMatch(fc, in, s, spec)

	var matched []*schema.Event
	for b := range out {
		matched = append(matched, b.Events...)
	}
	assert.Empty(t, matched)
}
