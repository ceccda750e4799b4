// Package planner implements the index planner (§4.7, component H): given
// a segment's index Catalog, pick the cheapest IndexStrategy available for
// each filter's column and operator.
package planner

import (
	"sneldb/internal/query/filter"
	"sneldb/internal/segment"
)

// Strategy names the chosen zone-candidate evaluation path for one filter.
// These strings are written into filter.Group.IndexStrategy and read back
// by the zone selector (component I).
type Strategy string

const (
	StrategyZoneXor   Strategy = "ZoneXor"
	StrategyZoneSurf  Strategy = "ZoneSurf"
	StrategyZoneIndex Strategy = "ZoneIndex"
	StrategyScan      Strategy = "Scan"
)

// isRange reports whether op is a range comparison rather than equality.
func isRange(op filter.Op) bool {
	switch op {
	case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		return true
	default:
		return false
	}
}

// Plan picks the IndexStrategy for a single filter against one segment's
// catalog (§4.7): event_type/context_id always use the ZoneIndex;
// timestamp range also uses the ZoneIndex's per-zone min/max interval
// test; otherwise equality prefers XOR over SuRF over Scan, and range
// prefers SuRF over Scan.
func Plan(f *filter.Group, cat *segment.Catalog) Strategy {
	if f.Column == "event_type" || f.Column == "context_id" {
		return StrategyZoneIndex
	}
	if f.Column == "timestamp" {
		return StrategyZoneIndex
	}

	if isRange(f.Operation) {
		if cat.Has(f.Column, segment.IndexZoneSurf) {
			return StrategyZoneSurf
		}
		return StrategyScan
	}

	// Only equality-shaped operators can prune through a membership
	// filter: a Neq filter is satisfied by every zone that does NOT
	// contain the value, so XOR/SuRF candidate sets would be exactly the
	// wrong zones. Anything that isn't Eq/In falls through to Scan.
	switch f.Operation {
	case filter.OpEq, filter.OpIn:
	default:
		return StrategyScan
	}

	switch {
	case cat.Has(f.Column, segment.IndexZoneXor):
		return StrategyZoneXor
	case cat.Has(f.Column, segment.IndexZoneSurf):
		return StrategyZoneSurf
	default:
		return StrategyScan
	}
}

// PlanAll assigns IndexStrategy to every unique filter in filters against
// cat, in place, and returns the same slice for convenience.
func PlanAll(filters []*filter.Group, cat *segment.Catalog) []*filter.Group {
	for _, f := range filters {
		f.IndexStrategy = string(Plan(f, cat))
	}
	return filters
}
