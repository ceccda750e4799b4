package aggregate

import (
	"sneldb/internal/common"
	"sneldb/internal/schema"
)

type groupEntry struct {
	key    GroupKey
	states []*State
}

// Sink accumulates rows into per-group partial aggregate state as a query
// streams through it (§4.11, component L). One Sink is owned per shard
// scan; its partial is merged with other shards' via Partial.Merge.
type Sink struct {
	Specs      []Spec
	GroupBy    []string
	TimeBucket Granularity
	TimeField  string
	GroupLimit int // 0 = unlimited

	groups  map[string]*groupEntry
	seenIDs map[common.EventID]struct{}
}

// NewSink creates a Sink for specs, optionally grouping by groupBy columns
// and/or bucketing timeField (default "timestamp") by bucket.
func NewSink(specs []Spec, groupBy []string, bucket Granularity, timeField string, groupLimit int) *Sink {
	if timeField == "" {
		timeField = "timestamp"
	}
	return &Sink{
		Specs:      specs,
		GroupBy:    groupBy,
		TimeBucket: bucket,
		TimeField:  timeField,
		GroupLimit: groupLimit,
		groups:     make(map[string]*groupEntry),
		seenIDs:    make(map[common.EventID]struct{}),
	}
}

func (s *Sink) timeValue(e *schema.Event) int64 {
	if s.TimeField == "" || s.TimeField == "timestamp" {
		return e.Timestamp
	}
	if v, ok := e.Payload[s.TimeField]; ok {
		return int64(numeric(v))
	}
	return e.Timestamp
}

func (s *Sink) keyFor(e *schema.Event) GroupKey {
	var bucket *int64
	if s.TimeBucket != "" {
		b := BucketStart(s.timeValue(e), s.TimeBucket)
		bucket = &b
	}
	var groups []string
	for _, f := range s.GroupBy {
		groups = append(groups, groupValue(e, f))
	}
	return GroupKey{Bucket: bucket, Groups: groups}
}

func groupValue(e *schema.Event, field string) string {
	switch field {
	case "event_type":
		return e.EventType
	case "context_id":
		return string(e.ContextID)
	default:
		if v, ok := e.Payload[field]; ok {
			return v.String()
		}
		return ""
	}
}

// OnEvent folds one row into its group's partial states, deduplicating by
// event_id (an event may appear in both the active memtable and a
// just-flushed segment, §4.10). Enforces GroupLimit: once reached, rows
// that would start a new group are skipped, but existing groups keep
// updating (§4.11).
func (s *Sink) OnEvent(e *schema.Event) {
	if _, seen := s.seenIDs[e.EventID]; seen {
		return
	}
	s.seenIDs[e.EventID] = struct{}{}

	key := s.keyFor(e)
	hk := key.hash()
	entry, ok := s.groups[hk]
	if !ok {
		if s.GroupLimit > 0 && len(s.groups) >= s.GroupLimit {
			return
		}
		entry = &groupEntry{key: key, states: make([]*State, len(s.Specs))}
		for i, spec := range s.Specs {
			entry.states[i] = newState(spec)
		}
		s.groups[hk] = entry
	}
	for i, spec := range s.Specs {
		v, present := e.Payload[spec.Field]
		if spec.Field == "" {
			present = true
		}
		entry.states[i].update(spec, v, present)
	}
}

// GroupCount reports the number of distinct groups accumulated so far.
func (s *Sink) GroupCount() int { return len(s.groups) }

// IntoPartial snapshots the sink's accumulated state for cross-shard
// merge (§4.11 "stream per-shard partial batches").
func (s *Sink) IntoPartial() *Partial {
	return &Partial{
		Specs:      s.Specs,
		GroupBy:    s.GroupBy,
		TimeBucket: s.TimeBucket,
		Groups:     s.groups,
	}
}
