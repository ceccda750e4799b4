package xorfilter

import "sort"

// ZoneEntry is one zone's XOR8 filter (§3.5 `.zxf`, "a ZoneXorFilter entry
// per zone").
type ZoneEntry struct {
	ZoneID uint32  `json:"zone_id"`
	Filter *Filter `json:"filter"`
}

// ZoneFilter is the per-(uid, field) collection of zone filters making up
// one `.zxf` file.
type ZoneFilter struct {
	Entries []ZoneEntry `json:"entries"`
}

// BuildZoneFilter constructs a ZoneFilter from a map of zone id to that
// zone's distinct encoded values (§4.4 step 2, "build from the distinct-
// values set"). perZone's values need not already be deduplicated — a
// uid-grouped zone routinely repeats event_type/context_id/timestamp
// across every row in it, and the peeling construction in Build requires
// a duplicate-free key set to resolve; dedupedKeys enforces that the same
// way surf.BuildFromSorted's sortedDedup does for its sibling filter.
func BuildZoneFilter(perZone map[uint32][][]byte) (*ZoneFilter, error) {
	f := &ZoneFilter{Entries: make([]ZoneEntry, 0, len(perZone))}
	for zoneID, values := range perZone {
		filter, err := Build(dedupedKeys(values))
		if err != nil {
			return nil, err
		}
		f.Entries = append(f.Entries, ZoneEntry{ZoneID: zoneID, Filter: filter})
	}
	sort.Slice(f.Entries, func(i, j int) bool { return f.Entries[i].ZoneID < f.Entries[j].ZoneID })
	return f, nil
}

// dedupedKeys hashes values and returns the distinct hash keys, sorted for
// deterministic Build output across otherwise-equal inputs.
func dedupedKeys(values [][]byte) []uint64 {
	seen := make(map[uint64]struct{}, len(values))
	keys := make([]uint64, 0, len(values))
	for _, v := range values {
		k := HashKey(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ZonesContaining returns the zone ids whose filter may contain value.
// Never misses a zone that truly contains it (§8.1 "one-sided error");
// may include zones where the match is a false positive (bounded ~1/256).
func (f *ZoneFilter) ZonesContaining(value []byte) []uint32 {
	h := HashKey(value)
	var out []uint32
	for _, e := range f.Entries {
		if e.Filter.Contains(h) {
			out = append(out, e.ZoneID)
		}
	}
	return out
}
