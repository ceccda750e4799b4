// Package shard implements the fixed shard pool (§3.1, §3.8, component C):
// one Shard per hash bucket, each owning its own WAL, memtable set, segment
// index, flush/compaction engines, and cache bundle, so shards never share
// mutable state and can run their background work fully independently.
package shard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"sneldb/internal/cache"
	"sneldb/internal/common"
	"sneldb/internal/memtable"
	"sneldb/internal/messaging"
	"sneldb/internal/query/filter"
	"sneldb/internal/query/flow"
	"sneldb/internal/query/planner"
	"sneldb/internal/query/selector"
	"sneldb/internal/schema"
	"sneldb/internal/segment"
	"sneldb/internal/storage/block"
	"sneldb/internal/wal"
)

// Shard owns one hash bucket's entire write and read path (§3.8): a WAL, an
// active/passive memtable set, a SegmentIndex, a flush engine, a compactor,
// and its own cache bundle. Nothing here is shared with another shard.
type Shard struct {
	ID      int
	Dir     string
	Storage block.Storage

	WAL       *wal.Manager
	Memtables *memtable.Set
	Index     *segment.Index
	Flusher   *segment.Flusher
	Compactor *segment.Compactor
	Caches    *cache.Handles
	Events    *messaging.EventPublisher // nil disables lifecycle-event announcements

	RowsPerZone int
	nextEventID func() common.EventID

	mu      sync.Mutex
	state   State
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// State reports the shard's current lifecycle state.
func (s *Shard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Shard) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Store appends one event to the shard: the WAL first (durability before
// acknowledgement, §4.2), then the active memtable (§4.3). A full passive
// queue triggers a synchronous flush and a retry rather than failing the
// caller outright; ErrBackpressureError is returned only if the queue is
// still full after 8 such flush-and-retry rounds.
func (s *Shard) Store(ctx context.Context, eventType string, uid common.UID, contextID string, timestamp int64, payload map[string]schema.ScalarValue) (*schema.Event, error) {
	e := &schema.Event{
		EventType: eventType,
		UID:       uid,
		ContextID: common.ContextID(contextID),
		Timestamp: timestamp,
		EventID:   s.nextEventID(),
		Payload:   payload,
	}

	if err := s.appendWAL(e); err != nil {
		return nil, err
	}

	const maxDrainRounds = 8
	for attempt := 0; attempt < maxDrainRounds; attempt++ {
		if err := s.Memtables.Insert(e); err == nil {
			s.setState(StateActive)
			return e, nil
		} else if !common.IsErrorCode(err, common.ErrBackpressure) {
			return nil, err
		}
		if _, err := s.Flush(ctx); err != nil {
			return nil, err
		}
	}
	return nil, common.ErrBackpressureError(s.ID)
}

// appendWAL serializes e's payload back to plain JSON and appends it as a
// WAL entry (§3.4, §4.2). The WAL carries no event_id: it is process-local
// and reassigned at replay time.
func (s *Shard) appendWAL(e *schema.Event) error {
	raw := make(map[string]interface{}, len(e.Payload))
	for k, v := range e.Payload {
		raw[k] = v.ToJSON()
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return common.NewErrorWithCause(common.ErrInternal, "marshal wal payload", err)
	}
	entry := &wal.Entry{
		Timestamp: e.Timestamp,
		EventType: e.EventType,
		ContextID: string(e.ContextID),
		Payload:   body,
	}
	return s.WAL.Append(entry)
}

// Flush rolls the active memtable and drains every passive memtable
// (including any left over from an earlier backpressure round) into
// segment directories, then truncates the WAL (§4.4, §8.1 "Flush
// durability": after FLUSH returns, every event it covers is recoverable
// from segments alone).
func (s *Shard) Flush(ctx context.Context) ([]common.SegmentID, error) {
	s.setState(StateFlushing)
	defer s.setState(StateActive)
	s.publish(ctx, messaging.EventFlushStarted, nil)

	s.Memtables.Roll()

	var ids []common.SegmentID
	for {
		_, passives := s.Memtables.Snapshot()
		if len(passives) == 0 {
			break
		}
		p := passives[0]
		result, err := s.Flusher.Flush(ctx, p.Events(), segment.NextSeq(s.Index, common.Level0Base))
		if err != nil {
			return ids, err
		}
		ids = append(ids, result.SegmentIDs...)
		s.Memtables.Release(p)
	}

	if err := s.WAL.Truncate(); err != nil {
		return ids, err
	}
	s.publish(ctx, messaging.EventFlushCompleted, map[string]interface{}{
		"shard_id": s.ID, "segment_count": len(ids),
	})
	return ids, nil
}

// publish announces a lifecycle event if the shard has an event bus wired
// (§9 "coroutine-style control flow"). A nil Events or a publish failure is
// never fatal to the request it annotates.
func (s *Shard) publish(ctx context.Context, eventType messaging.EventType, data map[string]interface{}) {
	if s.Events == nil {
		return
	}
	_ = s.Events.PublishEvent(ctx, eventType, data)
}

// Compact runs every eligible leveled-merge plan currently available
// (§4.5). Cache invalidation is layered on here rather than inside
// segment.Compactor, since that package cannot import cache without a
// cycle (cache imports segment for its handle types).
func (s *Shard) Compact(ctx context.Context) ([]common.SegmentID, error) {
	plans := s.Compactor.BuildPlans()
	if len(plans) == 0 {
		return nil, nil
	}
	s.publish(ctx, messaging.EventCompactionStarted, map[string]interface{}{"shard_id": s.ID, "plan_count": len(plans)})
	var ids []common.SegmentID
	for _, plan := range plans {
		result, err := s.Compactor.Execute(ctx, plan)
		if err != nil {
			return ids, err
		}
		ids = append(ids, result.SegmentIDs...)
		for _, in := range plan.Inputs {
			dir := fmt.Sprintf("%s/%s", s.Dir, in.DirName())
			s.Caches.InvalidateUID(dir, plan.UID)
		}
	}
	s.publish(ctx, messaging.EventCompactionCompleted, map[string]interface{}{"shard_id": s.ID, "segment_count": len(ids)})
	return ids, nil
}

// Replay feeds every well-formed WAL entry back into the active memtable on
// boot (§4.2 component B). Entries whose event_type has no registered
// schema are skipped rather than failing the shard, the same tolerance the
// WAL reader already applies to malformed lines.
func (s *Shard) Replay(ctx context.Context, registry *schema.Registry) (wal.Stats, error) {
	return s.WAL.Replay(func(e *wal.Entry) error {
		uid, ok := registry.GetUID(e.EventType)
		if !ok {
			return nil
		}

		var raw map[string]interface{}
		if len(e.Payload) > 0 {
			dec := json.NewDecoder(bytes.NewReader(e.Payload))
			dec.UseNumber()
			if err := dec.Decode(&raw); err != nil {
				return nil
			}
		}
		payload := make(map[string]schema.ScalarValue, len(raw))
		for k, v := range raw {
			payload[k] = schema.FromJSON(v)
		}
		_ = schema.NormalizeTimestamp(payload)

		ev := &schema.Event{
			EventType: e.EventType,
			UID:       uid,
			ContextID: common.ContextID(e.ContextID),
			Timestamp: e.Timestamp,
			EventID:   s.nextEventID(),
			Payload:   payload,
		}
		return s.Memtables.Insert(ev)
	})
}

// orderFields is the within-shard, within-uid ordering guarantee (§4.10,
// §8's "within a shard, events for the same uid are returned in
// (context_id, timestamp, event_id) order").
var orderFields = []string{"context_id", "timestamp", "event_id"}

// Scan builds the streaming read pipeline for one uid's data in this shard:
// a MemTableSource per live memtable, a SegmentSource per on-disk segment
// restricted to tree's candidate zones, merged into one ordered stream and
// run back through Matches as the row-level correctness backstop (§4.8,
// §4.10). A nil tree scans every zone unfiltered. The caller owns the
// returned FlowContext and must Cancel it once done consuming.
func (s *Shard) Scan(ctx context.Context, uid common.UID, tree *filter.Group, outSchema *flow.BatchSchema, batchSize int) (*flow.FlowContext, <-chan *flow.ColumnBatch, error) {
	fc := flow.NewFlowContext(ctx)

	var ins []<-chan *flow.ColumnBatch

	active, passives := s.Memtables.Snapshot()
	for _, mt := range append([]*memtable.Memtable{active}, passives...) {
		events := filterByUID(mt.Events(), uid)
		if len(events) == 0 {
			continue
		}
		ins = append(ins, flow.MemTableSource(fc, outSchema, events, batchSize))
	}

	var uniqueFilters []*filter.Group
	if tree != nil {
		uniqueFilters = tree.ExtractUniqueFilters()
	}
	planned := false

	var zoneReader flow.ZoneEventReader = segment.DirectZoneReader{Storage: s.Storage}
	if s.Caches != nil {
		zoneReader = s.Caches
	}

	for _, segID := range s.Index.SegmentsFor(uid) {
		dir := fmt.Sprintf("%s/%s", s.Dir, segID.DirName())
		selSeg := selector.NewSegment(segID, s.Storage, dir, uid)
		if s.Caches != nil {
			selSeg = selSeg.WithCache(s.Caches)
		}

		var zoneIDs []uint32
		var err error
		if tree != nil {
			if !planned {
				cat, cerr := selSeg.Catalog(ctx)
				if cerr != nil {
					return fc, nil, cerr
				}
				planner.PlanAll(uniqueFilters, cat)
				tree.SyncIndexStrategiesFrom(uniqueFilters)
				planned = true
			}
			zoneIDs, err = selSeg.Evaluate(ctx, tree)
		} else {
			zoneIDs, err = selSeg.AllZones(ctx)
		}
		if err != nil {
			return fc, nil, err
		}
		if len(zoneIDs) == 0 {
			continue
		}
		sort.Slice(zoneIDs, func(i, j int) bool { return zoneIDs[i] < zoneIDs[j] })

		zones := make([]segment.CandidateZone, len(zoneIDs))
		for i, z := range zoneIDs {
			zones[i] = segment.CandidateZone{SegmentID: segID, ZoneID: z}
		}
		ins = append(ins, flow.SegmentSource(fc, outSchema, zoneReader, dir, uid, zones, batchSize))
	}

	merged := flow.OrderedStreamMerger(fc, ins, outSchema, orderFields, batchSize)
	if tree == nil {
		return fc, merged, nil
	}
	return fc, flow.RowFilter(fc, merged, tree), nil
}

func filterByUID(events []*schema.Event, uid common.UID) []*schema.Event {
	out := make([]*schema.Event, 0, len(events))
	for _, e := range events {
		if e.UID == uid {
			out = append(out, e)
		}
	}
	return out
}

// StartBackground launches the shard's flush and compaction loops as
// independent goroutines, a stopChan/running lifecycle in the same shape
// as messaging.EventConsumer's Consume/Close pair. Either interval may be
// zero to disable that loop.
func (s *Shard) StartBackground(flushInterval, compactInterval time.Duration) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runTicker(stop, flushInterval, func(ctx context.Context) { _, _ = s.Flush(ctx) })
	go s.runTicker(stop, compactInterval, func(ctx context.Context) { _, _ = s.Compact(ctx) })
}

func (s *Shard) runTicker(stop <-chan struct{}, interval time.Duration, task func(context.Context)) {
	defer s.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			task(context.Background())
		}
	}
}

// StopBackground stops the shard's flush/compaction loops and waits for
// them to return.
func (s *Shard) StopBackground() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// Close stops background work and closes the shard's WAL.
func (s *Shard) Close() error {
	s.StopBackground()
	return s.WAL.Close()
}
