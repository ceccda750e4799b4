package segment

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"time"

	"sneldb/internal/common"
	"sneldb/internal/schema"
	"sneldb/internal/storage/block"
)

// DefaultK is the per-level, per-uid fan-in for leveled compaction (§4.5).
const DefaultK = 4

// Compactor implements the K-way leveled merge policy per uid (§4.5,
// component F). One Compactor is owned by a shard.
type Compactor struct {
	Storage     block.Storage
	ShardDir    string
	Index       *Index
	RowsPerZone int
	K           int
}

// Plan is one compaction job: merge Inputs (all at Level, all holding uid)
// into one or more segments at Level+1.
type Plan struct {
	UID    common.UID
	Level  common.SegmentLevel
	Inputs []common.SegmentID
}

// BuildPlans inspects the current SegmentIndex and returns every eligible
// compaction plan (§4.5): for each (uid, level), pack full groups of k
// segments; if a residual of at least ceil(2k/3) segments remains, pack it
// as one forced plan too.
func (c *Compactor) BuildPlans() []Plan {
	k := c.K
	if k <= 0 {
		k = DefaultK
	}
	forceThreshold := (2*k + 2) / 3 // ceil(2k/3)

	c.Index.Lock()
	entries := c.Index.Entries()
	c.Index.Unlock()

	type key struct {
		uid   common.UID
		level common.SegmentLevel
	}
	grouped := make(map[key][]common.SegmentID)
	for _, e := range entries {
		level := e.ID.Level()
		for _, uid := range e.UIDs {
			kk := key{uid, level}
			grouped[kk] = append(grouped[kk], e.ID)
		}
	}

	var plans []Plan
	for kk, ids := range grouped {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		i := 0
		for ; i+k <= len(ids); i += k {
			plans = append(plans, Plan{UID: kk.uid, Level: kk.level, Inputs: append([]common.SegmentID(nil), ids[i:i+k]...)})
		}
		if residual := len(ids) - i; residual >= forceThreshold && residual > 1 {
			plans = append(plans, Plan{UID: kk.uid, Level: kk.level, Inputs: append([]common.SegmentID(nil), ids[i:]...)})
		}
	}
	return plans
}

// nextLevelSeq generates sequence numbers for new segments at a level,
// scanning existing entries to avoid collisions.
func (c *Compactor) nextLevelSeq(level common.SegmentLevel) func() uint32 {
	return NextSeq(c.Index, level)
}

// NextSeq returns a generator of within-level sequence numbers for level,
// scanning idx's current entries to avoid colliding with an already-used
// segment id. Shared by the flush engine (level 0) and compaction (any
// output level) so both number new segments the same way.
func NextSeq(idx *Index, level common.SegmentLevel) func() uint32 {
	idx.Lock()
	entries := idx.Entries()
	idx.Unlock()

	max := uint32(0)
	base := uint32(common.NewSegmentID(level, 0))
	for _, e := range entries {
		if e.ID.Level() == level {
			if seq := uint32(e.ID) - base; seq >= max {
				max = seq + 1
			}
		}
	}
	return func() uint32 {
		seq := max
		max++
		return seq
	}
}

// Execute runs plan's k-way merge and commits the handover (§4.5
// "commit_batch"). It never updates the SegmentIndex until every output
// directory exists on disk, and it holds the shard flush_lock for the
// entire retire/verify/insert/save/reclaim-schedule sequence.
func (c *Compactor) Execute(ctx context.Context, plan Plan) (*FlushResult, error) {
	merged, err := c.mergeInputs(ctx, plan)
	if err != nil {
		return nil, err
	}

	outLevel := plan.Level + 1
	if outLevel == 0 {
		outLevel = 1
	}
	nextSeq := c.nextLevelSeq(outLevel)

	var outputs []common.SegmentID
	dir := ""
	if len(merged) > 0 {
		id := common.NewSegmentID(outLevel, nextSeq())
		dir = fmt.Sprintf("%s/%s", c.ShardDir, id.DirName())
		if err := writeUIDSegment(ctx, c.Storage, dir, plan.UID, merged, c.RowsPerZone); err != nil {
			_ = RemoveDir(ctx, c.Storage, dir)
			return nil, err
		}
		outputs = append(outputs, id)
	}

	if err := c.commitBatch(ctx, plan, outputs); err != nil {
		return nil, err
	}
	return &FlushResult{SegmentIDs: outputs}, nil
}

// mergeInputs reads every input segment's events for plan.UID and merges
// them by (context_id, timestamp, event_id) via a k-way heap merge, the
// execution step of §4.5 ("multi-way merge of input segments' events for
// that uid").
func (c *Compactor) mergeInputs(ctx context.Context, plan Plan) ([]*schema.Event, error) {
	streams := make([][]*schema.Event, len(plan.Inputs))
	for i, id := range plan.Inputs {
		dir := fmt.Sprintf("%s/%s", c.ShardDir, id.DirName())
		events, err := ReadEvents(ctx, c.Storage, dir, plan.UID)
		if err != nil {
			return nil, err
		}
		streams[i] = events
	}
	return kWayMerge(streams), nil
}

type mergeItem struct {
	event    *schema.Event
	stream   int
	position int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].event, h[j].event
	if a.ContextID != b.ContextID {
		return a.ContextID < b.ContextID
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.EventID < b.EventID
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// kWayMerge merges already-sorted-within-themselves event streams into one
// sorted-by-(context_id, timestamp, event_id) output.
func kWayMerge(streams [][]*schema.Event) []*schema.Event {
	h := &mergeHeap{}
	for s, events := range streams {
		if len(events) > 0 {
			heap.Push(h, mergeItem{event: events[0], stream: s, position: 0})
		}
	}
	heap.Init(h)

	var out []*schema.Event
	for h.Len() > 0 {
		top := heap.Pop(h).(mergeItem)
		out = append(out, top.event)
		next := top.position + 1
		if next < len(streams[top.stream]) {
			heap.Push(h, mergeItem{event: streams[top.stream][next], stream: top.stream, position: next})
		}
	}
	return out
}

// commitBatch performs the handover under the shard flush_lock (§4.5):
// retire the input uid-labels, verify every output exists, insert new
// entries, save, and schedule a reclaim task for any drained segment.
func (c *Compactor) commitBatch(ctx context.Context, plan Plan, outputs []common.SegmentID) error {
	c.Index.Lock()
	defer c.Index.Unlock()

	for _, id := range outputs {
		dir := fmt.Sprintf("%s/%s", c.ShardDir, id.DirName())
		if _, err := c.Storage.Stat(ctx, dir+"/"+catalogBaseName(plan.UID)); err != nil {
			return common.ErrInvariantViolationError(fmt.Sprintf("compaction output %s missing catalog for uid %d", dir, plan.UID))
		}
	}

	drained := c.Index.RetireUIDFromSegments(plan.UID, plan.Inputs)
	// A drained entry's directory is about to be reclaimed; leaving the
	// zero-UID entry behind would persist a reference to a directory that
	// no longer exists, breaking I3.
	for _, id := range drained {
		c.Index.Remove(id)
	}
	for _, id := range outputs {
		c.Index.Put(&Entry{ID: id, UIDs: []common.UID{plan.UID}})
	}
	if err := c.Index.Save(ctx); err != nil {
		return err
	}

	for _, id := range drained {
		c.scheduleReclaim(ctx, id)
	}
	return nil
}

func catalogBaseName(uid common.UID) string {
	return fmt.Sprintf("%d.cat", uint64(uid))
}

// scheduleReclaim moves a drained segment directory under .reclaim/<ts>/
// and then deletes it, tolerant of the directory already being partially
// removed (§4.5 "(vi) schedule a reclaim task... tolerant of
// DirectoryNotEmpty"). Run synchronously here; callers that want it off
// the request path post this to the shard's background executor.
func (c *Compactor) scheduleReclaim(ctx context.Context, id common.SegmentID) {
	src := fmt.Sprintf("%s/%s", c.ShardDir, id.DirName())
	dst := fmt.Sprintf("%s/.reclaim/%d/%s", c.ShardDir, time.Now().UnixNano(), id.DirName())

	entries, err := c.Storage.List(ctx, src+"/")
	if err != nil {
		return
	}
	for _, e := range entries {
		rel := e.Path[len(src)+1:]
		_ = c.Storage.Move(ctx, e.Path, dst+"/"+rel)
	}
	_ = RemoveDir(ctx, c.Storage, dst)
}
