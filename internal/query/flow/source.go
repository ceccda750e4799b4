package flow

import (
	"context"

	"sneldb/internal/common"
	"sneldb/internal/schema"
	"sneldb/internal/segment"
)

// DefaultBatchSize bounds how many rows a source operator packs into one
// ColumnBatch before handing it to the next operator.
const DefaultBatchSize = 1024

func send(fc *FlowContext, out chan<- *ColumnBatch, b *ColumnBatch) bool {
	if b.Len() == 0 {
		return true
	}
	select {
	case out <- b:
		return true
	case <-fc.Done():
		return false
	}
}

func chunk(schema *BatchSchema, events []*schema.Event, size int) []*ColumnBatch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches []*ColumnBatch
	for i := 0; i < len(events); i += size {
		end := i + size
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, &ColumnBatch{Schema: schema, Events: events[i:end]})
	}
	return batches
}

// MemTableSource streams an in-memory event slice (typically Memtable.Events
// or Memtable.Scan's collected output) as a sequence of ColumnBatches
// (§4.10 operator "MemTableSource"). Backpressure: send blocks when the
// returned channel is unbuffered and its reader isn't ready.
func MemTableSource(fc *FlowContext, schema *BatchSchema, events []*schema.Event, batchSize int) <-chan *ColumnBatch {
	out := make(chan *ColumnBatch)
	go func() {
		defer close(out)
		for _, b := range chunk(schema, events, batchSize) {
			if !send(fc, out, b) {
				return
			}
		}
	}()
	return out
}

// ZoneEventReader materializes one candidate zone's rows. cache.Handles
// satisfies this with LRU-cached column handles (the production path,
// §4.9); segment.DirectZoneReader reads cold for tests and one-shot scans.
type ZoneEventReader interface {
	ZoneEvents(ctx context.Context, dir string, uid common.UID, zoneID uint32) ([]*schema.Event, error)
}

// SegmentSource streams the events of the given candidate zones from one
// segment directory, in zone order (§4.10 operator "SegmentSource"). Read
// errors are recorded on fc via Fail and cancel the pipeline; the caller
// inspects fc.Err() after the channel closes.
func SegmentSource(fc *FlowContext, schema *BatchSchema, reader ZoneEventReader, dir string, uid common.UID, zones []segment.CandidateZone, batchSize int) <-chan *ColumnBatch {
	out := make(chan *ColumnBatch)
	go func() {
		defer close(out)
		ctx := fc.ctx
		for _, z := range zones {
			select {
			case <-fc.Done():
				return
			default:
			}
			events, err := reader.ZoneEvents(ctx, dir, uid, z.ZoneID)
			if err != nil {
				fc.Fail(err)
				return
			}
			for _, b := range chunk(schema, events, batchSize) {
				if !send(fc, out, b) {
					return
				}
			}
		}
	}()
	return out
}
