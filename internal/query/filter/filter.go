// Package filter implements the WHERE-clause logical tree (§4.6,
// component G): Filter/And/Or/Not, preserving the shape the parser built
// so zone selection can combine candidate sets with the same structure.
//
// Ported from the Rust reference's filter_group.rs (FilterGroup, priority
// constants, filter_key, extract_individual_filters/extract_unique_filters,
// sync_index_strategies_from) in Go-idiomatic form: a tagged struct with a
// Kind discriminant instead of an enum with struct variants, since Go has
// no sum types.
package filter

import (
	"fmt"

	"sneldb/internal/common"
	"sneldb/internal/schema"
)

// Op is a WHERE-clause comparison operator.
type Op string

const (
	OpEq  Op = "Eq"
	OpNeq Op = "Neq"
	OpGt  Op = "Gt"
	OpGte Op = "Gte"
	OpLt  Op = "Lt"
	OpLte Op = "Lte"
	OpIn  Op = "In"
)

// Priority orders filters for index planning (§4.6): event_type/context_id
// are cheapest (0), timestamp range next (1), arbitrary payload fields
// fall back to the full ZoneIndex scan (2), and columns referenced only
// for projection get the lowest priority (3).
type Priority uint32

const (
	PriorityEventType Priority = 0
	PriorityTimestamp Priority = 1
	PriorityDefault   Priority = 2
	PriorityFallback  Priority = 3
)

// PriorityForField computes the standard priority for a WHERE-clause
// column name (§4.6).
func PriorityForField(column string) Priority {
	switch column {
	case "event_type", "context_id":
		return PriorityEventType
	case "timestamp":
		return PriorityTimestamp
	default:
		return PriorityDefault
	}
}

// Kind discriminates Group's variant.
type Kind int

const (
	KindFilter Kind = iota
	KindAnd
	KindOr
	KindNot
)

// Group is one node of the WHERE-clause logical tree (§4.6). Exactly one
// of the field groups is meaningful depending on Kind: KindFilter uses
// Column/Operation/Value/Priority/UID/IndexStrategy; KindAnd/KindOr use
// Children; KindNot uses Children[0].
type Group struct {
	Kind      Kind
	Column    string
	Operation Op
	Value     schema.ScalarValue
	HasValue  bool
	Priority  Priority
	UID       common.UID

	// IndexStrategy is filled in by the index planner (component H) after
	// extract_individual_filters/sync_index_strategies_from round-trips
	// (§4.6, §4.7, §9).
	IndexStrategy string

	Children []*Group
}

// NewFilter creates a single Filter node with the standard priority for
// column.
func NewFilter(column string, op Op, value schema.ScalarValue, uid common.UID) *Group {
	return &Group{
		Kind:      KindFilter,
		Column:    column,
		Operation: op,
		Value:     value,
		HasValue:  true,
		Priority:  PriorityForField(column),
		UID:       uid,
	}
}

// NewProjectionOnly creates a Filter node referenced only for projection
// (no operation/value), per §4.6's fallback priority 3.
func NewProjectionOnly(column string, uid common.UID) *Group {
	return &Group{Kind: KindFilter, Column: column, Priority: PriorityFallback, UID: uid}
}

func And(children ...*Group) *Group { return &Group{Kind: KindAnd, Children: children} }
func Or(children ...*Group) *Group  { return &Group{Kind: KindOr, Children: children} }
func Not(child *Group) *Group       { return &Group{Kind: KindNot, Children: []*Group{child}} }

// Key returns the (column, op, value) dedup key used for filter caching
// and sync_index_strategies_from matching (§4.6, §9).
func (g *Group) Key() string {
	if g.Kind != KindFilter {
		return ""
	}
	val := "None"
	if g.HasValue {
		val = string(g.Value.Type) + "(" + g.Value.String() + ")"
	}
	return fmt.Sprintf("%s:%s:%s", g.Column, g.Operation, val)
}

// IsSingleFilter reports whether g is a leaf Filter node.
func (g *Group) IsSingleFilter() bool { return g.Kind == KindFilter }

// ExtractIndividualFilters flattens the tree into every leaf Filter node,
// in the same left-to-right order the tree was built in (§4.6 "(a)
// extract the flat filter list for index planning").
func (g *Group) ExtractIndividualFilters() []*Group {
	switch g.Kind {
	case KindFilter:
		return []*Group{g}
	default:
		var out []*Group
		for _, c := range g.Children {
			out = append(out, c.ExtractIndividualFilters()...)
		}
		return out
	}
}

// ExtractUniqueFilters is ExtractIndividualFilters deduplicated by Key(),
// so the planner and zone selector evaluate each unique (column, op,
// value) only once (§4.8 "cached for reuse by identical sub-expressions").
func (g *Group) ExtractUniqueFilters() []*Group {
	seen := make(map[string]bool)
	var out []*Group
	var walk func(*Group)
	walk = func(n *Group) {
		if n.Kind == KindFilter {
			k := n.Key()
			if !seen[k] {
				seen[k] = true
				out = append(out, n)
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(g)
	return out
}

// SyncIndexStrategiesFrom copies IndexStrategy from filters (matched by
// Key()) back into this tree's leaves, idempotently (§9 "the only coupling
// between the two representations, and it must be idempotent").
func (g *Group) SyncIndexStrategiesFrom(filters []*Group) {
	if g.Kind == KindFilter {
		if g.IndexStrategy != "" {
			return
		}
		key := g.Key()
		for _, f := range filters {
			if f.Kind == KindFilter && f.Key() == key {
				g.IndexStrategy = f.IndexStrategy
				return
			}
		}
		return
	}
	for _, c := range g.Children {
		c.SyncIndexStrategiesFrom(filters)
	}
}
