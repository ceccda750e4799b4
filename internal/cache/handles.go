package cache

import (
	"context"
	"fmt"

	"sneldb/internal/common"
	"sneldb/internal/index/surf"
	"sneldb/internal/index/xorfilter"
	"sneldb/internal/schema"
	"sneldb/internal/segment"
	"sneldb/internal/storage/block"
)

// Handles bundles the six byte-bounded caches named in §3.8 and §5:
// column-handle, zone-surf, zone-index, index-catalog, column-block, and
// zone-xor. One Handles instance is held per shard handle (§6.6 "cache
// instances are held inside shard handles").
type Handles struct {
	storage block.Storage

	ColumnHandle *LRU[*segment.ColumnHandle]
	ZoneSurf     *LRU[*surf.ZoneFilter]
	ZoneIndex    *LRU[*segment.ZoneIndex]
	IndexCatalog *LRU[*segment.Catalog]
	ColumnBlock  *LRU[[]byte]
	ZoneXor      *LRU[*xorfilter.ZoneFilter]
}

// Capacities names the byte budget for each of the six caches (§6.5).
type Capacities struct {
	ColumnHandleBytes int64
	ZoneSurfBytes     int64
	ZoneIndexBytes    int64
	IndexCatalogBytes int64
	ColumnBlockBytes  int64
	ZoneXorBytes      int64
}

// NewHandles builds the cache bundle for one shard.
func NewHandles(storage block.Storage, cap Capacities) *Handles {
	return &Handles{
		storage:      storage,
		ColumnHandle: NewLRU[*segment.ColumnHandle](cap.ColumnHandleBytes),
		ZoneSurf:     NewLRU[*surf.ZoneFilter](cap.ZoneSurfBytes),
		ZoneIndex:    NewLRU[*segment.ZoneIndex](cap.ZoneIndexBytes),
		IndexCatalog: NewLRU[*segment.Catalog](cap.IndexCatalogBytes),
		ColumnBlock:  NewLRU[[]byte](cap.ColumnBlockBytes),
		ZoneXor:      NewLRU[*xorfilter.ZoneFilter](cap.ZoneXorBytes),
	}
}

// statVersion packs a path's mtime and size into one comparable int64 so a
// changed file (new mtime or size) is treated as a different cache version
// without a second round trip (§5 "mtime + size change triggers reload").
func (h *Handles) statVersion(ctx context.Context, path string) int64 {
	meta, err := h.storage.Stat(ctx, path)
	if err != nil {
		return 0
	}
	return meta.ModTime*31 + meta.Size
}

func segKey(dir string, uid common.UID, field, kind string) string {
	if field == "" {
		return fmt.Sprintf("%s/%d.%s", dir, uint64(uid), kind)
	}
	return fmt.Sprintf("%s/%d_%s.%s", dir, uint64(uid), field, kind)
}

// GetColumnHandle returns the cached handle for one (segment, uid, field)
// column, reloading via the column reader on a miss or a detected mtime+
// size change (§4.9 "acquire a handle from the global column-handle
// cache... mtime + size change triggers reload").
func (h *Handles) GetColumnHandle(ctx context.Context, dir string, uid common.UID, field string) (*segment.ColumnHandle, error) {
	key := segKey(dir, uid, field, "col")
	version := h.statVersion(ctx, key)
	return h.ColumnHandle.Get(ctx, key, version, func(ctx context.Context) (*segment.ColumnHandle, int64, error) {
		cb, err := segment.ReadColumnHandle(ctx, h.storage, dir, uid, field)
		if err != nil {
			return nil, 0, err
		}
		return cb, cb.Weight(), nil
	})
}

// GetZoneSurf returns the cached SuRF zone filter for one (segment, uid,
// field), loaded from the segment's persisted `.zsrf` file.
func (h *Handles) GetZoneSurf(ctx context.Context, dir string, uid common.UID, field string) (*surf.ZoneFilter, error) {
	key := segKey(dir, uid, field, "zsrf")
	version := h.statVersion(ctx, key)
	return h.ZoneSurf.Get(ctx, key, version, func(ctx context.Context) (*surf.ZoneFilter, int64, error) {
		f, err := segment.ReadSurfFilter(ctx, h.storage, dir, uid, field)
		if err != nil {
			return nil, 0, err
		}
		return f, int64(len(f.Entries)) * 64, nil
	})
}

// GetZoneXor returns the cached XOR zone filter for one (segment, uid, field).
func (h *Handles) GetZoneXor(ctx context.Context, dir string, uid common.UID, field string) (*xorfilter.ZoneFilter, error) {
	key := segKey(dir, uid, field, "zxf")
	version := h.statVersion(ctx, key)
	return h.ZoneXor.Get(ctx, key, version, func(ctx context.Context) (*xorfilter.ZoneFilter, int64, error) {
		f, err := segment.ReadXorFilter(ctx, h.storage, dir, uid, field)
		if err != nil {
			return nil, 0, err
		}
		return f, int64(len(f.Entries)) * 264, nil
	})
}

// GetZoneIndex returns the cached per-uid zone index for one segment.
func (h *Handles) GetZoneIndex(ctx context.Context, dir string, uid common.UID) (*segment.ZoneIndex, error) {
	key := segKey(dir, uid, "", "idx")
	version := h.statVersion(ctx, key)
	return h.ZoneIndex.Get(ctx, key, version, func(ctx context.Context) (*segment.ZoneIndex, int64, error) {
		zi, err := segment.ReadZoneIndex(ctx, h.storage, dir, uid)
		if err != nil {
			return nil, 0, err
		}
		return zi, int64(len(zi.RowCnts)) * 32, nil
	})
}

// GetCatalog returns the cached index catalog for one segment.
func (h *Handles) GetCatalog(ctx context.Context, dir string, uid common.UID) (*segment.Catalog, error) {
	key := segKey(dir, uid, "", "cat")
	version := h.statVersion(ctx, key)
	return h.IndexCatalog.Get(ctx, key, version, func(ctx context.Context) (*segment.Catalog, int64, error) {
		cat, err := segment.ReadCatalog(ctx, h.storage, dir, uid)
		if err != nil {
			return nil, 0, err
		}
		return cat, int64(len(cat.Columns)) * 48, nil
	})
}

// ZoneEvents materializes one candidate zone's events through the
// column-handle cache: every column of the zone is acquired via
// GetColumnHandle (LRU + singleflight, §4.9) and assembled into events,
// so repeated scans over the same segment share one decompressed block
// per column instead of re-reading it cold.
func (h *Handles) ZoneEvents(ctx context.Context, dir string, uid common.UID, zoneID uint32) ([]*schema.Event, error) {
	fields, err := segment.ListFields(ctx, h.storage, dir, uid)
	if err != nil {
		return nil, err
	}
	handles := make(map[string]*segment.ColumnHandle, len(fields))
	for _, f := range fields {
		ch, err := h.GetColumnHandle(ctx, dir, uid, f)
		if err != nil {
			return nil, err
		}
		handles[f] = ch
	}
	return segment.AssembleZoneEvents(uid, zoneID, fields, handles)
}

// InvalidateUID drops every cache entry belonging to one (segmentDir, uid)
// pair — both its "<uid>_<field>.*" column-keyed entries and its
// "<uid>.*" zone-index/catalog entries — without disturbing other uids
// still live in the same segment directory. Used by compaction's handover
// (§4.5 "(v) invalidate per-segment caches"), which retires only one uid's
// label from a segment that may still hold others.
func (h *Handles) InvalidateUID(segmentDir string, uid common.UID) {
	for _, sep := range []string{"_", "."} {
		prefix := fmt.Sprintf("%s/%d%s", segmentDir, uint64(uid), sep)
		h.ColumnHandle.InvalidatePrefix(prefix)
		h.ZoneSurf.InvalidatePrefix(prefix)
		h.ZoneIndex.InvalidatePrefix(prefix)
		h.IndexCatalog.InvalidatePrefix(prefix)
		h.ColumnBlock.InvalidatePrefix(prefix)
		h.ZoneXor.InvalidatePrefix(prefix)
	}
}

// InvalidateSegment drops every cache entry for segmentDir across all six
// caches, called by the shard on segment retirement before reclaim begins
// (§3.8 "the shard invalidates every cache by segment label before
// reclaim begins").
func (h *Handles) InvalidateSegment(segmentDir string) {
	prefix := segmentDir + "/"
	h.ColumnHandle.InvalidatePrefix(prefix)
	h.ZoneSurf.InvalidatePrefix(prefix)
	h.ZoneIndex.InvalidatePrefix(prefix)
	h.IndexCatalog.InvalidatePrefix(prefix)
	h.ColumnBlock.InvalidatePrefix(prefix)
	h.ZoneXor.InvalidatePrefix(prefix)
}
