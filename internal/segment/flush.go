package segment

import (
	"context"
	"fmt"
	"sort"

	"sneldb/internal/common"
	"sneldb/internal/index/surf"
	"sneldb/internal/index/xorfilter"
	"sneldb/internal/schema"
	"sneldb/internal/storage/block"
)

// fixed pseudo-field names every event carries regardless of schema.
const (
	fieldEventType = "event_type"
	fieldContextID = "context_id"
	fieldTimestamp = "timestamp"
	fieldEventID   = "event_id"
)

// zoneIndexFields are the fixed fields the zone index (.idx) tracks
// min/max for (§3.5).
var zoneIndexFields = []string{fieldEventType, fieldContextID, fieldTimestamp}

// Flusher serializes passive memtables into segment directories (§4.4,
// component D). One Flusher is owned by a shard.
type Flusher struct {
	Storage     block.Storage
	ShardDir    string
	Index       *Index
	RowsPerZone int
}

// FlushResult reports what a single Flush call produced.
type FlushResult struct {
	SegmentIDs []common.SegmentID
}

// Flush serializes every event in events (already in memtable iteration
// order: uid, context_id, timestamp, event_id) into one segment directory
// per uid (§4.4 step 1: "Group events by uid"). The whole call is one
// transactional unit: a failure at any step removes every partial segment
// directory this call created and returns the error, leaving the caller's
// memtable retry-able (§4.4 "A flush is a single transactional unit").
func (f *Flusher) Flush(ctx context.Context, events []*schema.Event, nextSeq func() uint32) (*FlushResult, error) {
	if f.RowsPerZone <= 0 {
		f.RowsPerZone = RowsPerZone
	}

	groups := groupByUID(events)
	result := &FlushResult{}

	for _, g := range groups {
		id := common.NewSegmentID(common.Level0Base, nextSeq())
		dir := fmt.Sprintf("%s/%s", f.ShardDir, id.DirName())

		if err := writeUIDSegment(ctx, f.Storage, dir, g.uid, g.events, f.RowsPerZone); err != nil {
			for _, done := range result.SegmentIDs {
				_ = RemoveDir(ctx, f.Storage, fmt.Sprintf("%s/%s", f.ShardDir, done.DirName()))
			}
			_ = RemoveDir(ctx, f.Storage, dir)
			return nil, err
		}
		result.SegmentIDs = append(result.SegmentIDs, id)
	}

	f.Index.Lock()
	for i, id := range result.SegmentIDs {
		f.Index.Put(&Entry{ID: id, UIDs: []common.UID{groups[i].uid}})
	}
	err := f.Index.Save(ctx)
	if err != nil {
		for _, id := range result.SegmentIDs {
			f.Index.Remove(id)
			_ = RemoveDir(ctx, f.Storage, fmt.Sprintf("%s/%s", f.ShardDir, id.DirName()))
		}
	}
	f.Index.Unlock()
	if err != nil {
		return nil, err
	}
	return result, nil
}

type uidGroup struct {
	uid    common.UID
	events []*schema.Event
}

// groupByUID partitions events into contiguous per-uid runs. Memtable
// iteration order already sorts by uid first, so a single pass suffices;
// compaction inputs (merged across segments) are also pre-sorted by uid
// for the same reason.
func groupByUID(events []*schema.Event) []uidGroup {
	var groups []uidGroup
	for _, e := range events {
		if len(groups) > 0 && groups[len(groups)-1].uid == e.UID {
			groups[len(groups)-1].events = append(groups[len(groups)-1].events, e)
			continue
		}
		groups = append(groups, uidGroup{uid: e.UID, events: []*schema.Event{e}})
	}
	return groups
}

// writeUIDSegment performs steps 2-3 of §4.4 for one uid's events, writing
// every column/.zsrf/.zxf/.idx/.cat file into dir. It does not touch the
// SegmentIndex; the caller updates that only after every file exists.
// Shared by the flush engine and by compaction, which restreams merged
// events through the same primitives (§4.5 "restreamed through the same
// flush primitives").
func writeUIDSegment(ctx context.Context, storage block.Storage, dir string, uid common.UID, events []*schema.Event, rowsPerZone int) error {
	if rowsPerZone <= 0 {
		rowsPerZone = RowsPerZone
	}
	fields := collectFields(events)
	zoneCount := (len(events) + rowsPerZone - 1) / rowsPerZone
	if zoneCount == 0 {
		zoneCount = 1
	}

	zi := &ZoneIndex{UID: uid, Ranges: make(map[string][]ZoneRange), RowCnts: make(map[uint32]int)}
	cat := NewCatalog(uint64(uid))

	surfValues := make(map[string]map[uint32][][]byte, len(fields))
	xorValues := make(map[string]map[uint32][][]byte, len(fields))
	for _, field := range fields {
		surfValues[field] = make(map[uint32][][]byte)
		xorValues[field] = make(map[uint32][][]byte)
	}

	for zoneID := 0; zoneID < zoneCount; zoneID++ {
		start := zoneID * rowsPerZone
		end := start + rowsPerZone
		if end > len(events) {
			end = len(events)
		}
		zoneEvents := events[start:end]
		zi.RowCnts[uint32(zoneID)] = len(zoneEvents)

		for _, field := range fields {
			values := make([]schema.ScalarValue, len(zoneEvents))
			nulls := make([]bool, len(zoneEvents))
			for i, e := range zoneEvents {
				v, ok := fieldValue(e, field)
				if !ok {
					nulls[i] = true
					v = schema.NullValue()
				}
				values[i] = v
			}
			if err := appendColumnZone(ctx, storage, dir, uid, field, fieldLogicalType(zoneEvents, field), uint32(zoneID), values, nulls); err != nil {
				return err
			}

			if isZoneIndexField(field) {
				addZoneRange(zi, field, uint32(zoneID), values, nulls)
			}
			addIndexableValues(surfValues[field], xorValues[field], uint32(zoneID), values, nulls)
		}
	}

	for _, field := range fields {
		// event_id is never queried by value (§3.1, a per-process counter
		// only used for dedup) and event_type/context_id/timestamp already
		// have a ZoneIndex entry (zoneIndexFields above) that the planner
		// always prefers over SuRF/XOR for those three columns (§4.7) — so
		// only payload fields get a SuRF trie and an XOR filter (§4.4 step
		// 2 "for every (uid, field) referenced by any event in the group").
		if field == fieldEventID || isZoneIndexField(field) || len(surfValues[field]) == 0 {
			continue
		}
		sf := surf.Build(surfValues[field])
		if err := WriteSurfFilter(ctx, storage, dir, uid, field, sf); err != nil {
			return err
		}
		cat.Advertise(field, IndexZoneSurf)

		xf, err := xorfilter.BuildZoneFilter(xorValues[field])
		if err != nil {
			return common.NewErrorWithCause(common.ErrIndexBuildFailed, "build xor filter", err)
		}
		if err := WriteXorFilter(ctx, storage, dir, uid, field, xf); err != nil {
			return err
		}
		cat.Advertise(field, IndexZoneXor)
	}
	for _, field := range zoneIndexFields {
		cat.Advertise(field, IndexZoneIndex)
	}

	if err := WriteZoneIndex(ctx, storage, dir, uid, zi); err != nil {
		return err
	}
	if err := WriteCatalog(ctx, storage, dir, uid, cat); err != nil {
		return err
	}
	return nil
}

// appendColumnZone writes one zone's values for field into its column
// file. Column files accumulate zone-by-zone, so this reads the file's
// existing zones (if any) and rewrites with the new zone appended; for a
// fresh segment (the common case) there is nothing to read.
func appendColumnZone(ctx context.Context, storage block.Storage, dir string, uid common.UID, field string, lt schema.LogicalType, zoneID uint32, values []schema.ScalarValue, nulls []bool) error {
	existing, err := ReadColumn(ctx, storage, dir, uid, field)
	var zones []columnZoneOnDisk
	if err == nil {
		zones = existing.Zones
	}
	zones = append(zones, columnZoneOnDisk{ZoneID: zoneID, RowCount: len(values), Nulls: nulls, Values: values})
	return WriteColumn(ctx, storage, dir, uid, field, lt, zones)
}

func collectFields(events []*schema.Event) []string {
	seen := map[string]bool{fieldEventType: true, fieldContextID: true, fieldTimestamp: true, fieldEventID: true}
	fields := []string{fieldEventType, fieldContextID, fieldTimestamp, fieldEventID}
	for _, e := range events {
		for k := range e.Payload {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields[4:])
	return fields
}

func fieldValue(e *schema.Event, field string) (schema.ScalarValue, bool) {
	switch field {
	case fieldEventType:
		return schema.StringValue(e.EventType), true
	case fieldContextID:
		return schema.StringValue(string(e.ContextID)), true
	case fieldTimestamp:
		return schema.TimestampValue(e.Timestamp), true
	case fieldEventID:
		return schema.IntValue(int64(e.EventID)), true
	default:
		v, ok := e.Payload[field]
		return v, ok
	}
}

func fieldLogicalType(events []*schema.Event, field string) schema.LogicalType {
	for _, e := range events {
		if v, ok := fieldValue(e, field); ok && v.Type != schema.LogicalNull {
			return v.Type
		}
	}
	return schema.LogicalString
}

func isZoneIndexField(field string) bool {
	for _, f := range zoneIndexFields {
		if f == field {
			return true
		}
	}
	return false
}

func addZoneRange(zi *ZoneIndex, field string, zoneID uint32, values []schema.ScalarValue, nulls []bool) {
	var min, max schema.ScalarValue
	has := false
	for i, v := range values {
		if nulls[i] {
			continue
		}
		if !has {
			min, max, has = v, v, true
			continue
		}
		if compareScalar(v, min) < 0 {
			min = v
		}
		if compareScalar(v, max) > 0 {
			max = v
		}
	}
	if !has {
		return
	}
	zi.Ranges[field] = append(zi.Ranges[field], ZoneRange{ZoneID: zoneID, Min: min, Max: max})
}

// addIndexableValues collects the zone's distinct encoded values for field
// (§4.4 step 2 "build from the distinct-values set"): repeated values
// within a zone — the common case for any field sharing a value across
// several events — are deduped here so surf.BuildFromSorted and
// xorfilter.Build each see a duplicate-free key set, matching what their
// own build-time dedup (sortedDedup / dedupedKeys) additionally enforces.
func addIndexableValues(surfOut, xorOut map[uint32][][]byte, zoneID uint32, values []schema.ScalarValue, nulls []bool) {
	seen := make(map[string]bool, len(values))
	var encoded [][]byte
	for i, v := range values {
		if nulls[i] {
			continue
		}
		b, ok := surf.Encode(v)
		if !ok {
			continue
		}
		key := string(b)
		if seen[key] {
			continue
		}
		seen[key] = true
		encoded = append(encoded, b)
	}
	if len(encoded) == 0 {
		return
	}
	surfOut[zoneID] = encoded
	xorOut[zoneID] = encoded
}

// RemoveDir deletes every object under the dir/ prefix, tolerant of the
// directory already being partially or fully absent (used both to clean
// up a failed flush's partial segment and, later, by reclaim).
func RemoveDir(ctx context.Context, storage block.Storage, dir string) error {
	entries, err := storage.List(ctx, dir+"/")
	if err != nil {
		return nil
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	if len(paths) == 0 {
		return nil
	}
	return storage.DeleteBatch(ctx, paths)
}
