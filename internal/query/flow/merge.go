package flow

import (
	"container/heap"

	"sneldb/internal/schema"
)

// OrderedStreamMerger k-way merges several already-ordered streams into one
// globally ordered stream, keyed by orderFields in priority order (§4.10
// operator "OrderedStreamMerger (heap of receivers keyed by an order
// column)"). Each input stream must itself be sorted by orderFields — true
// for a single-shard scan, whose on-disk order is (context_id, timestamp,
// event_id) within a uid (§4.4, §8's ordering guarantee) — so the merger
// only needs to track one candidate row per stream at a time.
func OrderedStreamMerger(fc *FlowContext, ins []<-chan *ColumnBatch, outSchema *BatchSchema, orderFields []string, batchSize int) <-chan *ColumnBatch {
	return orderedMerge(fc, ins, outSchema, orderFields, batchSize, false)
}

// OrderedStreamMergerDesc is OrderedStreamMerger with the comparator
// inverted, for ORDER BY ... DESC (§6.1). Input streams must likewise be
// sorted descending by orderFields.
func OrderedStreamMergerDesc(fc *FlowContext, ins []<-chan *ColumnBatch, outSchema *BatchSchema, orderFields []string, batchSize int) <-chan *ColumnBatch {
	return orderedMerge(fc, ins, outSchema, orderFields, batchSize, true)
}

func orderedMerge(fc *FlowContext, ins []<-chan *ColumnBatch, outSchema *BatchSchema, orderFields []string, batchSize int, descending bool) <-chan *ColumnBatch {
	out := make(chan *ColumnBatch)
	go func() {
		defer close(out)

		cursors := make(mergeHeap, 0, len(ins))
		for i, ch := range ins {
			c := &streamCursor{id: i, ch: ch, order: orderFields, descending: descending}
			if c.advance(fc) {
				cursors = append(cursors, c)
			} else if fc.Closed() {
				return
			}
		}
		heap.Init(&cursors)

		pending := make([]*schema.Event, 0, batchSize)
		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			nb := &ColumnBatch{Schema: outSchema, Events: pending}
			pending = make([]*schema.Event, 0, batchSize)
			return send(fc, out, nb)
		}

		for cursors.Len() > 0 {
			select {
			case <-fc.Done():
				return
			default:
			}
			top := cursors[0]
			pending = append(pending, top.current())
			if len(pending) >= batchSize {
				if !flush() {
					return
				}
			}
			if top.advance(fc) {
				heap.Fix(&cursors, 0)
			} else {
				heap.Pop(&cursors)
				if fc.Closed() {
					return
				}
			}
		}
		flush()
	}()
	return out
}

// streamCursor tracks the next unread row of one input stream and its
// current batch position, refilling from ch as each batch is consumed.
type streamCursor struct {
	id         int
	ch         <-chan *ColumnBatch
	order      []string
	descending bool

	batch *ColumnBatch
	pos   int
}

func (c *streamCursor) current() *schema.Event { return c.batch.Events[c.pos] }

// advance moves the cursor to its next row, pulling a new batch from ch
// when the current one is exhausted. Returns false when the stream is
// drained or fc was cancelled.
func (c *streamCursor) advance(fc *FlowContext) bool {
	for {
		if c.batch != nil && c.pos+1 < len(c.batch.Events) {
			c.pos++
			return true
		}
		select {
		case b, ok := <-c.ch:
			if !ok {
				return false
			}
			if len(b.Events) == 0 {
				continue
			}
			c.batch = b
			c.pos = 0
			return true
		case <-fc.Done():
			return false
		}
	}
}

func (c *streamCursor) less(o *streamCursor) bool {
	a, b := c.current(), o.current()
	for _, f := range c.order {
		av, _ := fieldValue(a, f)
		bv, _ := fieldValue(b, f)
		if cmp := compare(av, bv); cmp != 0 {
			if c.descending {
				return cmp > 0
			}
			return cmp < 0
		}
	}
	return false
}

type mergeHeap []*streamCursor

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*streamCursor)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
