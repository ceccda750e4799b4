package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"sneldb/internal/common"
	"sneldb/internal/schema"
	"sneldb/internal/storage/block"
)

// columnBlock is the on-disk payload of one `<uid>_<field>.col` file: a
// flat sequence of zones, each carrying a nullability bitmap and its
// values (§3.5 "Columns are nullable via a bitmap prefix"). Every zone
// writes exactly RowsPerZone values except the last, which may be
// shorter (I1).
type columnBlock struct {
	LogicalType schema.LogicalType    `json:"logical_type"`
	Zones       []columnZoneOnDisk    `json:"zones"`
}

type columnZoneOnDisk struct {
	ZoneID   uint32                `json:"zone_id"`
	RowCount int                   `json:"row_count"`
	Nulls    []bool                `json:"nulls"`
	Values   []schema.ScalarValue  `json:"values"`
}

func columnPath(segmentDir string, uid common.UID, field string) string {
	return fmt.Sprintf("%s/%d_%s.col", segmentDir, uint64(uid), field)
}

// WriteColumn serializes one (uid, field) column's zones to its `.col`
// file: a BinaryHeader (§6.4) followed by a zstd-compressed JSON body.
// Real production column stores bit-pack and dictionary-encode; this
// engine's block codec is JSON+zstd, matching the compression surface
// klauspost/compress already provides for WAL archives (kept as the one
// block codec per DESIGN.md) without inventing a bespoke binary layout
// the example pack gives no grounding for.
func WriteColumn(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, field string, logicalType schema.LogicalType, zones []columnZoneOnDisk) error {
	payload := columnBlock{LogicalType: logicalType, Zones: zones}
	body, err := json.Marshal(payload)
	if err != nil {
		return common.NewErrorWithCause(common.ErrInternal, "marshal column block", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return common.NewErrorWithCause(common.ErrInternal, "create zstd encoder", err)
	}
	compressed := enc.EncodeAll(body, nil)
	enc.Close()

	var buf bytes.Buffer
	header := common.NewBinaryHeader(common.FileKindColumn, 1, 0)
	if err := header.WriteTo(&buf); err != nil {
		return err
	}
	buf.Write(compressed)

	return block.WriteAll(ctx, storage, columnPath(segmentDir, uid, field), buf.Bytes())
}

// ReadColumn loads and decompresses one (uid, field) column file in full.
// The column-handle cache (§4.9) wraps this with LRU/singleflight; this
// function itself is the cold-path loader.
func ReadColumn(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, field string) (*columnBlock, error) {
	data, err := block.ReadAll(ctx, storage, columnPath(segmentDir, uid, field))
	if err != nil {
		return nil, err
	}
	if _, err := common.ReadBinaryHeader(bytes.NewReader(data), common.FileKindColumn); err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, common.NewErrorWithCause(common.ErrInternal, "create zstd decoder", err)
	}
	defer dec.Close()
	body, err := dec.DecodeAll(data[common.BinaryHeaderLen:], nil)
	if err != nil {
		return nil, common.NewErrorWithCause(common.ErrStorageCorrupted, "decompress column block", err)
	}
	var cb columnBlock
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, common.NewErrorWithCause(common.ErrStorageCorrupted, "corrupt column block", err)
	}
	return &cb, nil
}

// ZoneValues returns the materialized values for one zone of an already
// loaded column block, or nil if the zone isn't present.
func (cb *columnBlock) ZoneValues(zoneID uint32) ([]schema.ScalarValue, []bool, bool) {
	for _, z := range cb.Zones {
		if z.ZoneID == zoneID {
			return z.Values, z.Nulls, true
		}
	}
	return nil, nil, false
}

// ColumnHandle is the reference-counted, read-only view the column-handle
// cache hands out (§4.9, §9 "Ownership of zone views"). A view outlives
// the cache evicting its source because it holds its own reference to the
// decompressed block; eviction only prevents future lookups from reusing
// it, it never invalidates a handle a caller is still holding.
type ColumnHandle struct {
	block *columnBlock
}

// ReadColumnHandle loads and decompresses one (uid, field) column file and
// wraps it as a cacheable handle.
func ReadColumnHandle(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, field string) (*ColumnHandle, error) {
	cb, err := ReadColumn(ctx, storage, segmentDir, uid, field)
	if err != nil {
		return nil, err
	}
	return &ColumnHandle{block: cb}, nil
}

// ZoneValues returns the materialized values for one zone, the typed
// fast-path entry point §4.9 describes ("typed fast-paths for i64, u64,
// f64, bool; string via (offset, length) ranges" — here simply the
// decoded ScalarValue slice, since the block codec is whole-value JSON
// rather than a packed binary layout, see column.go's WriteColumn note).
func (h *ColumnHandle) ZoneValues(zoneID uint32) ([]schema.ScalarValue, []bool, bool) {
	return h.block.ZoneValues(zoneID)
}

// LogicalType reports the column's logical type.
func (h *ColumnHandle) LogicalType() schema.LogicalType {
	return h.block.LogicalType
}

// Zones lists the zone ids present in this column, in stored order.
func (h *ColumnHandle) Zones() []uint32 {
	out := make([]uint32, len(h.block.Zones))
	for i, z := range h.block.Zones {
		out[i] = z.ZoneID
	}
	return out
}

// Weight estimates the handle's cache accounting weight in bytes, summing
// each zone's row count against a fixed per-value estimate (the real byte
// count lives in the compressed file; this is an approximation sufficient
// for a byte-bounded LRU's eviction ordering).
func (h *ColumnHandle) Weight() int64 {
	var rows int64
	for _, z := range h.block.Zones {
		rows += int64(z.RowCount)
	}
	return rows*24 + 64
}
