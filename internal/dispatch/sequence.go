package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"sneldb/internal/common"
	"sneldb/internal/query/filter"
	"sneldb/internal/query/flow"
	"sneldb/internal/schema"
)

// handleSequence answers a chain-match query (`page_view FOLLOWED BY
// order_created LINKED BY context_id`): every event type named in the
// chain is scanned across every shard, the streams are concatenated and
// deduplicated, and the SequenceMatch operator groups them by the link
// field and walks the chain. One result row is emitted per complete
// chain, carrying link_value plus the matched event_ids in step order.
func (d *Dispatcher) handleSequence(ctx context.Context, cmd *Command) (*Response, error) {
	spec := *cmd.Sequence
	if spec.LinkBy == "" {
		spec.LinkBy = "context_id"
	}

	types := []string{spec.Head}
	for _, step := range spec.Steps {
		types = append(types, step.EventType)
	}

	uids := make([]common.UID, len(types))
	for i, et := range types {
		if !d.authorize(cmd, et, "query") {
			return ErrorResponse(StatusForbidden, "not authorized to query "+et), nil
		}
		uid, ok := d.Registry.GetUID(et)
		if !ok {
			return responseFor(common.ErrSchemaNotFoundError(et)), nil
		}
		uids[i] = uid
	}

	// One schema covers every chained type: only the fixed columns are
	// shared across them, and SequenceMatch reads just the link and time
	// fields off each event anyway.
	scanSchema, err := flow.NewBatchSchema(builtinColumns...)
	if err != nil {
		return ErrorResponse(StatusInternalError, err.Error()), nil
	}

	var where *filter.Group
	if cmd.ContextID != "" {
		where = filter.NewFilter("context_id", filter.OpEq, schema.StringValue(cmd.ContextID), 0)
	}

	fc := flow.NewFlowContext(ctx)
	var chans []<-chan *flow.ColumnBatch
	var subs []*flow.FlowContext
	for _, uid := range uids {
		for _, sh := range d.Shards.Shards() {
			subFC, ch, serr := sh.Scan(ctx, uid, where, scanSchema, flow.DefaultBatchSize)
			if serr != nil {
				fc.Cancel()
				for _, s := range subs {
					s.Cancel()
				}
				return responseFor(serr), nil
			}
			subs = append(subs, subFC)
			chans = append(chans, ch)
		}
	}
	go func() {
		<-fc.Done()
		for _, s := range subs {
			s.Cancel()
		}
	}()

	outSchema := sequenceOutSchema(&spec)
	merged := flow.DedupByEventID(fc, fanIn(fc, chans))
	result := flow.SequenceMatch(fc, merged, outSchema, spec)

	if cmd.Limit > 0 || cmd.Offset > 0 {
		result = flow.LimitOffset(fc, result, cmd.Offset, cmd.Limit)
	}

	d.publish(ctx, queryExecutedEvent, map[string]interface{}{"event_type": spec.Head, "sequence": true})
	return OKStream(fmt.Sprintf("Sequence match from '%s'", spec.Head), outSchema, fc, result), nil
}

// sequenceOutSchema describes a chain-match result row: the link value
// plus one event_id column per chain step.
func sequenceOutSchema(spec *flow.SequenceSpec) *flow.BatchSchema {
	cols := []flow.ColumnSpec{{Name: "link_value", LogicalType: schema.LogicalString}}
	for i := 0; i <= len(spec.Steps); i++ {
		cols = append(cols, flow.ColumnSpec{Name: "step_" + strconv.Itoa(i), LogicalType: schema.LogicalInteger})
	}
	return &flow.BatchSchema{Columns: cols}
}
