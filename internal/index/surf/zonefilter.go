package surf

import "sort"

// ZoneEntry is one zone's trie (§3.5 `.zsrf`, a "ZoneSurfEntry per zone").
type ZoneEntry struct {
	ZoneID uint32 `json:"zone_id"`
	Trie   *Trie  `json:"trie"`
}

// ZoneFilter is the per-(uid, field) collection of zone tries that makes
// up one `.zsrf` file.
type ZoneFilter struct {
	Entries []ZoneEntry `json:"entries"`
}

// Build constructs a ZoneFilter from a map of zone id to that zone's
// sorted+deduped encoded values (§4.4 step 2).
func Build(perZone map[uint32][][]byte) *ZoneFilter {
	f := &ZoneFilter{Entries: make([]ZoneEntry, 0, len(perZone))}
	for zoneID, values := range perZone {
		f.Entries = append(f.Entries, ZoneEntry{ZoneID: zoneID, Trie: BuildFromSorted(values)})
	}
	sort.Slice(f.Entries, func(i, j int) bool { return f.Entries[i].ZoneID < f.Entries[j].ZoneID })
	return f
}

// ZonesOverlappingGE returns the zone ids whose trie may contain a value
// >= lower (never under-reports, §8.1 "SuRF soundness").
func (f *ZoneFilter) ZonesOverlappingGE(lower []byte, inclusive bool) []uint32 {
	var out []uint32
	for _, e := range f.Entries {
		q := Query{Trie: e.Trie}
		if q.MayOverlapGE(lower, inclusive) {
			out = append(out, e.ZoneID)
		}
	}
	return out
}

// ZonesOverlappingLE returns the zone ids whose trie may contain a value
// <= upper.
func (f *ZoneFilter) ZonesOverlappingLE(upper []byte, inclusive bool) []uint32 {
	var out []uint32
	for _, e := range f.Entries {
		q := Query{Trie: e.Trie}
		if q.MayOverlapLE(upper, inclusive) {
			out = append(out, e.ZoneID)
		}
	}
	return out
}

// ZonesContaining returns the zone ids whose trie may contain the exact
// value (used when SuRF is chosen over XOR for equality, §4.7).
func (f *ZoneFilter) ZonesContaining(value []byte) []uint32 {
	var out []uint32
	for _, e := range f.Entries {
		q := Query{Trie: e.Trie}
		if k, ok := q.FindFirstKeyGEQ(value); ok && string(k) == string(value) {
			out = append(out, e.ZoneID)
		}
	}
	return out
}
