package flow

import (
	"sneldb/internal/common"
	"sneldb/internal/schema"
)

// DedupByEventID drops every row whose event_id was already seen earlier
// in the stream (§4.10 "Deduplication", §8.1 "Event-id dedup"): an event
// can surface from both the active memtable and a just-flushed segment
// when a flush commits mid-query, and the streaming boundary is where the
// duplicate must die. Rows without an event_id (synthetic aggregate or
// sequence rows) pass through untouched. The seen-set is per pipeline,
// matching the per-request hash set the response writer contract names.
func DedupByEventID(fc *FlowContext, in <-chan *ColumnBatch) <-chan *ColumnBatch {
	out := make(chan *ColumnBatch)
	go func() {
		defer close(out)
		seen := make(map[common.EventID]struct{})
		for {
			select {
			case b, ok := <-in:
				if !ok {
					return
				}
				kept := make([]*schema.Event, 0, len(b.Events))
				for _, e := range b.Events {
					if e.EventID != 0 {
						if _, dup := seen[e.EventID]; dup {
							continue
						}
						seen[e.EventID] = struct{}{}
					}
					kept = append(kept, e)
				}
				if len(kept) == 0 {
					continue
				}
				if !send(fc, out, &ColumnBatch{Schema: b.Schema, Events: kept}) {
					return
				}
			case <-fc.Done():
				return
			}
		}
	}()
	return out
}
