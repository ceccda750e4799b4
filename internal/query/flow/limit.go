package flow

import "sneldb/internal/schema"

// LimitOffset skips the first offset rows across the whole stream, then
// passes at most limit rows through, splitting batches at the boundary as
// needed (§4.10 operator "LimitOffset (skip offset rows then pass limit)").
// limit <= 0 means unlimited.
func LimitOffset(fc *FlowContext, in <-chan *ColumnBatch, offset, limit int) <-chan *ColumnBatch {
	out := make(chan *ColumnBatch)
	go func() {
		defer close(out)
		skipped := 0
		taken := 0
		for {
			select {
			case b, ok := <-in:
				if !ok {
					return
				}
				events := b.Events
				if skipped < offset {
					need := offset - skipped
					if need >= len(events) {
						skipped += len(events)
						continue
					}
					events = events[need:]
					skipped = offset
				}
				if limit > 0 {
					remaining := limit - taken
					if remaining <= 0 {
						return
					}
					if len(events) > remaining {
						events = events[:remaining]
					}
				}
				taken += len(events)
				if len(events) == 0 {
					continue
				}
				nb := &ColumnBatch{Schema: b.Schema, Events: append([]*schema.Event(nil), events...)}
				if !send(fc, out, nb) {
					return
				}
				if limit > 0 && taken >= limit {
					return
				}
			case <-fc.Done():
				return
			}
		}
	}()
	return out
}
