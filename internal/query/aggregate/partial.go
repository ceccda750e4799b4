package aggregate

import (
	"sort"

	"sneldb/internal/schema"
)

// Partial is the per-shard intermediate aggregate representation that
// commutes under Merge (§8.1 "partial aggregate"). It is what crosses the
// shard boundary during cross-shard merge (§4.11).
type Partial struct {
	Specs      []Spec
	GroupBy    []string
	TimeBucket Granularity
	Groups     map[string]*groupEntry
}

// Merge folds other's groups into p. A group present only in other is
// adopted wholesale; a group present in both has its states merged
// position-wise. A length mismatch between the two state vectors for the
// same key (which should never happen for two Partials built from the
// same Specs) leaves p's entry untouched rather than panicking.
func (p *Partial) Merge(other *Partial) {
	if p.Groups == nil {
		p.Groups = make(map[string]*groupEntry)
	}
	for hk, oe := range other.Groups {
		e, ok := p.Groups[hk]
		if !ok {
			p.Groups[hk] = oe
			continue
		}
		if len(e.states) != len(oe.states) {
			continue
		}
		for i := range e.states {
			e.states[i].merge(oe.states[i])
		}
	}
}

// Row is one finalized aggregate result: the group key plus every
// requested metric, keyed by its rendered name ("count", "total_amount",
// "avg_amount", ...).
type Row struct {
	Bucket  *int64
	Groups  []string
	Metrics map[string]schema.ScalarValue
}

// Finalize renders every group's current state into a Row, sorted by
// bucket first and then by group-by columns (§4.11 "sorts by bucket
// first, then group-by columns, and finally emits final batches"). AVG is
// divided here, never during merge (§8.1, §9).
func (p *Partial) Finalize() []Row {
	groups := p.Groups
	if len(groups) == 0 {
		// No rows matched: still emit one synthetic zero-valued row so
		// `QUERY ... AGGREGATE ...` always returns a result line, matching
		// the Rust sink's into_events() behavior for the ungrouped case.
		entry := &groupEntry{states: make([]*State, len(p.Specs))}
		for i, spec := range p.Specs {
			entry.states[i] = newState(spec)
		}
		groups = map[string]*groupEntry{"": entry}
	}

	rows := make([]Row, 0, len(groups))
	for _, e := range groups {
		metrics := make(map[string]schema.ScalarValue, len(p.Specs))
		for i, spec := range p.Specs {
			metrics[metricName(spec)] = e.states[i].finalize(spec)
		}
		rows = append(rows, Row{Bucket: e.key.Bucket, Groups: e.key.Groups, Metrics: metrics})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.Bucket == nil && b.Bucket != nil:
			return true
		case a.Bucket != nil && b.Bucket == nil:
			return false
		case a.Bucket != nil && b.Bucket != nil && *a.Bucket != *b.Bucket:
			return *a.Bucket < *b.Bucket
		}
		for i := 0; i < len(a.Groups) && i < len(b.Groups); i++ {
			if a.Groups[i] != b.Groups[i] {
				return a.Groups[i] < b.Groups[i]
			}
		}
		return len(a.Groups) < len(b.Groups)
	})
	return rows
}
