// Package segment implements the on-disk immutable segment format (§3.5),
// the flush engine that produces segments from passive memtables (§4.4,
// component D), the per-shard SegmentIndex (component E), and leveled
// compaction (§4.5, component F).
package segment

import (
	"fmt"

	"sneldb/internal/common"
	"sneldb/internal/schema"
)

// RowsPerZone is the default zone size (§3.6, §6.5 engine.rows_per_zone).
const RowsPerZone = common.DefaultRowsPerZone

// Zone is the logical unit of storage and index pruning (§3.6): a
// contiguous row group within a segment for one uid.
type Zone struct {
	SegmentID common.SegmentID
	ZoneID    uint32
	RowCount  int
	// Columns holds, for this zone, field -> values in row order. The
	// flush/compaction writer does not build Zone values; it writes each
	// zone's column values to the segment's .col files directly.
	Columns map[string][]schema.ScalarValue
}

// CandidateZone is the currency of zone selection (§3.6): identifies a
// zone without carrying its data until the column reader materializes it.
type CandidateZone struct {
	SegmentID common.SegmentID
	ZoneID    uint32
}

func (c CandidateZone) Key() string {
	return fmt.Sprintf("%s/%d", c.SegmentID, c.ZoneID)
}

// ZoneRange is the (min, max) interval for one scalar field within one
// zone, the payload of a `.idx` zone index entry (§3.5).
type ZoneRange struct {
	ZoneID uint32
	Min    schema.ScalarValue
	Max    schema.ScalarValue
}

// ZoneIndex is the per-uid zone index (§3.5 `.idx`): per-zone (min, max)
// of event_type, context_id, timestamp, used by the index planner for
// range pruning without touching a SuRF/XOR structure.
type ZoneIndex struct {
	UID     common.UID             `json:"uid"`
	Ranges  map[string][]ZoneRange `json:"ranges"` // field -> per-zone range, sorted by ZoneID
	RowCnts map[uint32]int         `json:"row_counts"`
}

// OverlappingGE returns the zone ids whose [min,max] range could contain a
// value >= lower (inclusive per the flag), for field.
func (zi *ZoneIndex) OverlappingGE(field string, lower schema.ScalarValue, inclusive bool) []uint32 {
	var out []uint32
	for _, r := range zi.Ranges[field] {
		cmp := compareScalar(r.Max, lower)
		if cmp > 0 || (inclusive && cmp == 0) {
			out = append(out, r.ZoneID)
		}
	}
	return out
}

// OverlappingLE returns the zone ids whose [min,max] range could contain a
// value <= upper.
func (zi *ZoneIndex) OverlappingLE(field string, upper schema.ScalarValue, inclusive bool) []uint32 {
	var out []uint32
	for _, r := range zi.Ranges[field] {
		cmp := compareScalar(r.Min, upper)
		if cmp < 0 || (inclusive && cmp == 0) {
			out = append(out, r.ZoneID)
		}
	}
	return out
}

// AllZones returns every zone id this index knows about, used by Not/full
// scans (§4.8 "Not subtracts from the segment's full zone set").
func (zi *ZoneIndex) AllZones() []uint32 {
	out := make([]uint32, 0, len(zi.RowCnts))
	for z := range zi.RowCnts {
		out = append(out, z)
	}
	return out
}

// compareScalar orders two ScalarValues of the same logical family; used
// only for numeric/timestamp/string comparisons already known to be
// comparable by the caller (index planning never compares mismatched
// types).
func compareScalar(a, b schema.ScalarValue) int {
	switch a.Type {
	case schema.LogicalInteger, schema.LogicalTimestamp:
		av, bv := numericOf(a), numericOf(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case schema.LogicalFloat:
		switch {
		case a.Float64 < b.Float64:
			return -1
		case a.Float64 > b.Float64:
			return 1
		default:
			return 0
		}
	default:
		as, bs := a.String(), b.String()
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
}

func numericOf(v schema.ScalarValue) int64 {
	if v.Type == schema.LogicalTimestamp {
		return v.Timestamp
	}
	return v.Int64
}
