package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sneldb/internal/common"
	"sneldb/internal/query/aggregate"
	"sneldb/internal/query/filter"
	"sneldb/internal/query/flow"
	"sneldb/internal/schema"
)

// builtinColumns are the columns every event carries regardless of its
// schema (§3.2), always projected ahead of the event_type's own fields.
var builtinColumns = []flow.ColumnSpec{
	{Name: "event_type", LogicalType: schema.LogicalString},
	{Name: "context_id", LogicalType: schema.LogicalString},
	{Name: "timestamp", LogicalType: schema.LogicalTimestamp},
	{Name: "event_id", LogicalType: schema.LogicalInteger},
}

// buildOutSchema projects a schema's field set into a BatchSchema, in a
// stable (sorted) order so two queries over the same event_type agree on
// column order.
func buildOutSchema(fields map[string]schema.LogicalType) (*flow.BatchSchema, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := append([]flow.ColumnSpec(nil), builtinColumns...)
	for _, name := range names {
		cols = append(cols, flow.ColumnSpec{Name: name, LogicalType: fields[name]})
	}
	return flow.NewBatchSchema(cols...)
}

// handleQuery runs a cross-shard scan (§4.8-§4.10, components G-L):
// resolve the event_type's uid, fan Shard.Scan out across every shard,
// merge (ordered if ORDER BY was requested, unordered otherwise, per
// §4.10's "concatenation is sufficient when no ordering is requested"),
// fold through AGGREGATE if present, and apply LIMIT/OFFSET last.
func (d *Dispatcher) handleQuery(ctx context.Context, cmd *Command) (*Response, error) {
	if cmd.Sequence != nil {
		return d.handleSequence(ctx, cmd)
	}

	if !d.authorize(cmd, cmd.EventType, "query") {
		return ErrorResponse(StatusForbidden, "not authorized to query "+cmd.EventType), nil
	}

	uid, ok := d.Registry.GetUID(cmd.EventType)
	if !ok {
		return responseFor(common.ErrSchemaNotFoundError(cmd.EventType)), nil
	}
	fields, _ := d.Registry.FieldsOf(uid)

	outSchema, err := buildOutSchema(fields)
	if err != nil {
		return ErrorResponse(StatusBadRequest, err.Error()), nil
	}

	where := cmd.Where
	if cmd.ContextID != "" {
		ctxFilter := filter.NewFilter("context_id", filter.OpEq, schema.StringValue(cmd.ContextID), uid)
		where = andGroups(where, ctxFilter)
	}
	if cmd.HasSince {
		sinceFilter := filter.NewFilter("timestamp", filter.OpGte, schema.TimestampValue(cmd.Since), uid)
		where = andGroups(where, sinceFilter)
	}

	fc := flow.NewFlowContext(ctx)

	var chans []<-chan *flow.ColumnBatch
	var subs []*flow.FlowContext
	for _, sh := range d.Shards.Shards() {
		subFC, ch, serr := sh.Scan(ctx, uid, where, outSchema, flow.DefaultBatchSize)
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
	go func() {
		<-fc.Done()
		for _, s := range subs {
			s.Cancel()
		}
	}()

	var result <-chan *flow.ColumnBatch
	if cmd.Aggregate != nil {
		// Each shard folds its own stream into a partial; partials merge
		// at this boundary and AVG materializes only after the merge
		// (§4.11, §8.1 "aggregate merge associativity").
		partial, perr := mergeShardPartials(fc, chans, cmd.Aggregate)
		if perr != nil {
			fc.Cancel()
			return responseFor(perr), nil
		}
		aggSchema := aggregateOutSchema(cmd.Aggregate, fields)
		rows := flow.AggregateRowsToEvents(cmd.Aggregate.GroupBy, partial.Finalize())
		result = flow.MemTableSource(fc, aggSchema, rows, flow.DefaultBatchSize)
		outSchema = aggSchema
	} else {
		var merged <-chan *flow.ColumnBatch
		if cmd.Order != nil && cmd.Order.Descending {
			merged = flow.OrderedStreamMergerDesc(fc, chans, outSchema, []string{cmd.Order.Field}, flow.DefaultBatchSize)
		} else if cmd.Order != nil {
			merged = flow.OrderedStreamMerger(fc, chans, outSchema, []string{cmd.Order.Field}, flow.DefaultBatchSize)
		} else {
			merged = fanIn(fc, chans)
		}
		result = flow.DedupByEventID(fc, merged)
	}

	if cmd.Limit > 0 || cmd.Offset > 0 {
		result = flow.LimitOffset(fc, result, cmd.Offset, cmd.Limit)
	}

	d.publish(ctx, queryExecutedEvent, map[string]interface{}{"event_type": cmd.EventType})
	return OKStream(fmt.Sprintf("Query over '%s'", cmd.EventType), outSchema, fc, result), nil
}

// mergeShardPartials drains every shard's scan into its own AggregateSink
// concurrently, then merges the per-shard partials into one (§4.11
// "cross-shard merge"). Blocking here is fine: an aggregate result cannot
// be emitted until every input row has been folded anyway.
func mergeShardPartials(fc *flow.FlowContext, chans []<-chan *flow.ColumnBatch, agg *AggregateClause) (*aggregate.Partial, error) {
	sinks := make([]*aggregate.Sink, len(chans))
	var wg sync.WaitGroup
	wg.Add(len(chans))
	for i, ch := range chans {
		sinks[i] = aggregate.NewSink(agg.Specs, agg.GroupBy, agg.Bucket, agg.TimeField, agg.GroupLimit)
		go func(sink *aggregate.Sink, in <-chan *flow.ColumnBatch) {
			defer wg.Done()
			for {
				select {
				case b, ok := <-in:
					if !ok {
						return
					}
					for _, e := range b.Events {
						sink.OnEvent(e)
					}
				case <-fc.Done():
					return
				}
			}
		}(sinks[i], ch)
	}
	wg.Wait()
	if err := fc.Err(); err != nil {
		return nil, err
	}

	if len(sinks) == 0 {
		return aggregate.NewSink(agg.Specs, agg.GroupBy, agg.Bucket, agg.TimeField, agg.GroupLimit).IntoPartial(), nil
	}
	merged := sinks[0].IntoPartial()
	for _, s := range sinks[1:] {
		merged.Merge(s.IntoPartial())
	}
	return merged, nil
}

// andGroups combines base (possibly nil) with extra via filter.And,
// returning extra alone when base is nil.
func andGroups(base *filter.Group, extra *filter.Group) *filter.Group {
	if base == nil {
		return extra
	}
	return filter.And(base, extra)
}

// aggregateOutSchema projects an AggregateClause into the BatchSchema its
// synthetic result rows carry: group-by columns as strings, a bucket
// column when time-bucketing is requested, then one column per metric.
func aggregateOutSchema(agg *AggregateClause, fields map[string]schema.LogicalType) *flow.BatchSchema {
	cols := make([]flow.ColumnSpec, 0, len(agg.GroupBy)+len(agg.Specs)+1)
	for _, g := range agg.GroupBy {
		cols = append(cols, flow.ColumnSpec{Name: g, LogicalType: schema.LogicalString})
	}
	if agg.Bucket != "" {
		cols = append(cols, flow.ColumnSpec{Name: "bucket", LogicalType: schema.LogicalTimestamp})
	}
	for _, spec := range agg.Specs {
		cols = append(cols, flow.ColumnSpec{Name: metricColumnName(spec), LogicalType: metricColumnType(spec, fields)})
	}
	if len(cols) == 0 {
		cols = append(cols, flow.ColumnSpec{Name: "count", LogicalType: schema.LogicalInteger})
	}
	return &flow.BatchSchema{Columns: cols}
}

// metricColumnName mirrors aggregate.Spec's own (unexported) naming
// convention (count/count_<f>/count_unique_<f>/total_<f>/avg_<f>/min_<f>/
// max_<f>), needed here purely to label the response schema's columns.
func metricColumnName(spec aggregate.Spec) string {
	switch spec.Op {
	case aggregate.OpCountAll:
		return "count"
	case aggregate.OpCountField:
		return "count_" + spec.Field
	case aggregate.OpCountUnique:
		return "count_unique_" + spec.Field
	case aggregate.OpSum:
		return "total_" + spec.Field
	case aggregate.OpAvg:
		return "avg_" + spec.Field
	case aggregate.OpMin:
		return "min_" + spec.Field
	case aggregate.OpMax:
		return "max_" + spec.Field
	default:
		return "metric"
	}
}

func metricColumnType(spec aggregate.Spec, fields map[string]schema.LogicalType) schema.LogicalType {
	switch spec.Op {
	case aggregate.OpCountAll, aggregate.OpCountField, aggregate.OpCountUnique:
		return schema.LogicalInteger
	case aggregate.OpAvg:
		return schema.LogicalFloat
	default:
		if t, ok := fields[spec.Field]; ok {
			return t
		}
		return schema.LogicalFloat
	}
}

// queryExecutedEvent is the lifecycle announcement fired once a query has
// been dispatched into its streaming pipeline (not once fully drained,
// since draining happens on the renderer's own schedule).
const queryExecutedEvent = "query.executed"

// fanIn concatenates several already-ordered per-shard streams into one
// unordered stream (§4.10: cross-shard concatenation is sufficient when no
// ORDER BY was requested, since nothing downstream depends on cross-shard
// interleaving).
func fanIn(fc *flow.FlowContext, ins []<-chan *flow.ColumnBatch) <-chan *flow.ColumnBatch {
	out := make(chan *flow.ColumnBatch)
	var wg sync.WaitGroup
	wg.Add(len(ins))
	for _, in := range ins {
		go func(in <-chan *flow.ColumnBatch) {
			defer wg.Done()
			for {
				select {
				case b, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- b:
					case <-fc.Done():
						return
					}
				case <-fc.Done():
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
