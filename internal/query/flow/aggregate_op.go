package flow

import (
	"sneldb/internal/query/aggregate"
	"sneldb/internal/schema"
)

// ColumnarAggregate folds every event of every incoming batch into an
// aggregate.Sink and, once the input closes, emits the finalized rows as a
// single synthetic ColumnBatch (§4.10 operator "ColumnarAggregate (group-by
// + time-bucket...)"). The "fast path when all groupers are typed
// numeric/bool" the original names is the Sink's existing hashed-string
// GroupKey, which degrades to a plain field compare for those types rather
// than a separate code path — the distinction isn't observable from the
// operator's behavior, only its constant factor, so it isn't duplicated
// here as two implementations.
func ColumnarAggregate(fc *FlowContext, in <-chan *ColumnBatch, outSchema *BatchSchema, sink *aggregate.Sink) <-chan *ColumnBatch {
	out := make(chan *ColumnBatch)
	go func() {
		defer close(out)
		for {
			select {
			case b, ok := <-in:
				if !ok {
					events := AggregateRowsToEvents(sink.GroupBy, sink.IntoPartial().Finalize())
					send(fc, out, &ColumnBatch{Schema: outSchema, Events: events})
					return
				}
				for _, e := range b.Events {
					sink.OnEvent(e)
				}
			case <-fc.Done():
				return
			}
		}
	}()
	return out
}

// AggregateRowsToEvents renders finalized aggregate rows as synthetic
// events so the rest of the pipeline (limit, response writer) can treat an
// aggregate result like any other row stream: group-by values keyed by
// their column name, the bucket (if any) under "bucket", and every metric
// under its rendered name. Shared with the dispatcher's cross-shard
// partial merge, which finalizes outside any one operator (§4.11).
func AggregateRowsToEvents(groupBy []string, rows []aggregate.Row) []*schema.Event {
	events := make([]*schema.Event, 0, len(rows))
	for _, r := range rows {
		payload := make(map[string]schema.ScalarValue, len(groupBy)+len(r.Metrics)+1)
		for i, col := range groupBy {
			if i < len(r.Groups) {
				payload[col] = schema.StringValue(r.Groups[i])
			}
		}
		if r.Bucket != nil {
			payload["bucket"] = schema.TimestampValue(*r.Bucket)
		}
		for name, v := range r.Metrics {
			payload[name] = v
		}
		events = append(events, &schema.Event{Payload: payload})
	}
	return events
}
