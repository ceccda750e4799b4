package segment

import (
	"context"
	"fmt"
	"strings"

	"sneldb/internal/common"
	"sneldb/internal/schema"
	"sneldb/internal/storage/block"
)

// ListFields returns every payload/fixed field that has a `.col` file in
// the segment directory for uid, by listing the directory and parsing
// "<uid>_<field>.col" names — the column set isn't tracked anywhere else
// once the catalog only records index kinds, not the full field list.
func ListFields(ctx context.Context, storage block.Storage, dir string, uid common.UID) ([]string, error) {
	entries, err := storage.List(ctx, dir+"/")
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("%d_", uint64(uid))
	var fields []string
	for _, e := range entries {
		base := e.Path
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		if !strings.HasSuffix(base, ".col") {
			continue
		}
		name := strings.TrimSuffix(base, ".col")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		fields = append(fields, strings.TrimPrefix(name, prefix))
	}
	return fields, nil
}

// AssembleZoneEvents reconstructs one zone's events from already-acquired
// column handles, in on-disk row order — (context_id, timestamp, event_id)
// order within the uid, preserved from the memtable that produced the
// segment (§4.4, I2). handles must cover the event_id column; any other
// column missing the zone simply renders as absent payload fields. This is
// the shared materialization step behind both the cold read path below and
// the column-handle cache's warmed path (§4.9).
func AssembleZoneEvents(uid common.UID, zoneID uint32, fields []string, handles map[string]*ColumnHandle) ([]*schema.Event, error) {
	idHandle, ok := handles[fieldEventID]
	if !ok {
		return nil, common.ErrInvariantViolationError(fmt.Sprintf("missing %s column for uid %d", fieldEventID, uid))
	}
	idVals, idNulls, found := idHandle.ZoneValues(zoneID)
	if !found {
		return nil, nil
	}

	events := make([]*schema.Event, 0, len(idVals))
	for row := range idVals {
		e := &schema.Event{UID: uid, Payload: make(map[string]schema.ScalarValue)}
		if !idNulls[row] {
			e.EventID = common.EventID(idVals[row].Int64)
		}
		for _, f := range fields {
			if f == fieldEventID {
				continue
			}
			h, ok := handles[f]
			if !ok {
				continue
			}
			zv, zn, found := h.ZoneValues(zoneID)
			if !found || row >= len(zv) || zn[row] {
				continue
			}
			v := zv[row]
			switch f {
			case fieldEventType:
				e.EventType = v.Utf8
			case fieldContextID:
				e.ContextID = common.ContextID(v.Utf8)
			case fieldTimestamp:
				e.Timestamp = v.Timestamp
			default:
				e.Payload[f] = v
			}
		}
		events = append(events, e)
	}
	return events, nil
}

// ReadEvents reconstructs every event stored for uid in the segment at
// dir, in on-disk (zone, row) order. Used by compaction's merge input and
// by full-segment fallback scans. Reads cold — query scans go through the
// column-handle cache instead (§4.9).
func ReadEvents(ctx context.Context, storage block.Storage, dir string, uid common.UID) ([]*schema.Event, error) {
	fields, handles, err := readAllHandles(ctx, storage, dir, uid)
	if err != nil {
		return nil, err
	}
	idHandle, ok := handles[fieldEventID]
	if !ok {
		return nil, common.ErrInvariantViolationError(fmt.Sprintf("segment %s: missing %s column for uid %d", dir, fieldEventID, uid))
	}

	var events []*schema.Event
	for _, zoneID := range idHandle.Zones() {
		zoneEvents, err := AssembleZoneEvents(uid, zoneID, fields, handles)
		if err != nil {
			return nil, err
		}
		events = append(events, zoneEvents...)
	}
	return events, nil
}

// ReadZoneEvents reconstructs the events of a single zone, the cold-path
// loader behind DirectZoneReader.
func ReadZoneEvents(ctx context.Context, storage block.Storage, dir string, uid common.UID, zoneID uint32) ([]*schema.Event, error) {
	fields, handles, err := readAllHandles(ctx, storage, dir, uid)
	if err != nil {
		return nil, err
	}
	return AssembleZoneEvents(uid, zoneID, fields, handles)
}

func readAllHandles(ctx context.Context, storage block.Storage, dir string, uid common.UID) ([]string, map[string]*ColumnHandle, error) {
	fields, err := ListFields(ctx, storage, dir, uid)
	if err != nil {
		return nil, nil, err
	}
	handles := make(map[string]*ColumnHandle, len(fields))
	for _, f := range fields {
		h, err := ReadColumnHandle(ctx, storage, dir, uid, f)
		if err != nil {
			return nil, nil, err
		}
		handles[f] = h
	}
	return fields, handles, nil
}

// DirectZoneReader materializes candidate zones by reading column files
// cold on every call, the uncached counterpart to cache.Handles'
// ZoneEvents. Used by compaction-adjacent paths and tests; query scans
// prefer the cached reader.
type DirectZoneReader struct {
	Storage block.Storage
}

func (r DirectZoneReader) ZoneEvents(ctx context.Context, dir string, uid common.UID, zoneID uint32) ([]*schema.Event, error) {
	return ReadZoneEvents(ctx, r.Storage, dir, uid, zoneID)
}
