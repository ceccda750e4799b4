package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"sneldb/internal/common"
	"sneldb/internal/index/surf"
	"sneldb/internal/index/xorfilter"
	"sneldb/internal/storage/block"
)

func writeHeaderedJSON(ctx context.Context, storage block.Storage, path string, kind common.FileKind, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return common.NewErrorWithCause(common.ErrInternal, "marshal "+path, err)
	}
	var buf bytes.Buffer
	if err := common.NewBinaryHeader(kind, 1, 0).WriteTo(&buf); err != nil {
		return err
	}
	buf.Write(body)
	return block.WriteAll(ctx, storage, path, buf.Bytes())
}

func readHeaderedJSON(ctx context.Context, storage block.Storage, path string, kind common.FileKind, v interface{}) error {
	data, err := block.ReadAll(ctx, storage, path)
	if err != nil {
		return err
	}
	if _, err := common.ReadBinaryHeader(bytes.NewReader(data), kind); err != nil {
		return err
	}
	if err := json.Unmarshal(data[common.BinaryHeaderLen:], v); err != nil {
		return common.NewErrorWithCause(common.ErrStorageCorrupted, "corrupt "+path, err)
	}
	return nil
}

func zoneIndexPath(segmentDir string, uid common.UID) string {
	return fmt.Sprintf("%s/%d.idx", segmentDir, uint64(uid))
}

func catalogPath(segmentDir string, uid common.UID) string {
	return fmt.Sprintf("%s/%d.cat", segmentDir, uint64(uid))
}

func surfPath(segmentDir string, uid common.UID, field string) string {
	return fmt.Sprintf("%s/%d_%s.zsrf", segmentDir, uint64(uid), field)
}

func xorPath(segmentDir string, uid common.UID, field string) string {
	return fmt.Sprintf("%s/%d_%s.zxf", segmentDir, uint64(uid), field)
}

// WriteZoneIndex persists the per-uid zone index (§3.5 `.idx`).
func WriteZoneIndex(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, zi *ZoneIndex) error {
	return writeHeaderedJSON(ctx, storage, zoneIndexPath(segmentDir, uid), common.FileKindZoneIndex, zi)
}

// ReadZoneIndex loads the per-uid zone index.
func ReadZoneIndex(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID) (*ZoneIndex, error) {
	var zi ZoneIndex
	if err := readHeaderedJSON(ctx, storage, zoneIndexPath(segmentDir, uid), common.FileKindZoneIndex, &zi); err != nil {
		return nil, err
	}
	return &zi, nil
}

// WriteCatalog persists the per-segment index catalog (§3.5 `.cat`).
func WriteCatalog(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, cat *Catalog) error {
	return writeHeaderedJSON(ctx, storage, catalogPath(segmentDir, uid), common.FileKindCatalog, cat)
}

// ReadCatalog loads the per-segment index catalog.
func ReadCatalog(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID) (*Catalog, error) {
	var cat Catalog
	if err := readHeaderedJSON(ctx, storage, catalogPath(segmentDir, uid), common.FileKindCatalog, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// WriteSurfFilter persists a zone SuRF filter (§3.5 `.zsrf`).
func WriteSurfFilter(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, field string, f *surf.ZoneFilter) error {
	return writeHeaderedJSON(ctx, storage, surfPath(segmentDir, uid, field), common.FileKindZoneSurf, f)
}

// ReadSurfFilter loads a zone SuRF filter.
func ReadSurfFilter(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, field string) (*surf.ZoneFilter, error) {
	var f surf.ZoneFilter
	if err := readHeaderedJSON(ctx, storage, surfPath(segmentDir, uid, field), common.FileKindZoneSurf, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// WriteXorFilter persists a zone XOR filter (§3.5 `.zxf`).
func WriteXorFilter(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, field string, f *xorfilter.ZoneFilter) error {
	return writeHeaderedJSON(ctx, storage, xorPath(segmentDir, uid, field), common.FileKindZoneXor, f)
}

// ReadXorFilter loads a zone XOR filter.
func ReadXorFilter(ctx context.Context, storage block.Storage, segmentDir string, uid common.UID, field string) (*xorfilter.ZoneFilter, error) {
	var f xorfilter.ZoneFilter
	if err := readHeaderedJSON(ctx, storage, xorPath(segmentDir, uid, field), common.FileKindZoneXor, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
