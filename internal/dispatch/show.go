package dispatch

import (
	"context"
	"fmt"

	"sneldb/internal/common"
	"sneldb/internal/query/flow"
	"sneldb/internal/schema"
)

// handleShowMaterialized answers SHOW MATERIALIZED <name> (§6.1) with a
// snapshot of the named event_type's current materialized storage state:
// its uid and schema version plus the segment count each shard holds
// for it. Neither spec.md nor its original_source source defines a
// companion CREATE command for registering a named view, so "materialized"
// here is read as "what is currently materialized to disk for this
// event_type" rather than a stored view definition (see DESIGN.md).
func (d *Dispatcher) handleShowMaterialized(ctx context.Context, cmd *Command) (*Response, error) {
	if cmd.MaterializedName == "" {
		return ErrorResponse(StatusBadRequest, "SHOW MATERIALIZED requires a name"), nil
	}

	s, ok := d.Registry.SchemaByEventType(cmd.MaterializedName)
	if !ok {
		return responseFor(common.ErrSchemaNotFoundError(cmd.MaterializedName)), nil
	}

	cols := []flow.ColumnSpec{
		{Name: "shard_id", LogicalType: schema.LogicalInteger},
		{Name: "uid", LogicalType: schema.LogicalInteger},
		{Name: "version", LogicalType: schema.LogicalInteger},
		{Name: "segment_count", LogicalType: schema.LogicalInteger},
	}

	var rows [][]schema.ScalarValue
	for _, sh := range d.Shards.Shards() {
		segments := sh.Index.SegmentsFor(s.UID)
		rows = append(rows, []schema.ScalarValue{
			schema.IntValue(int64(sh.ID)),
			schema.IntValue(int64(s.UID)),
			schema.IntValue(int64(s.Version)),
			schema.IntValue(int64(len(segments))),
		})
	}

	return OKRows(fmt.Sprintf("Materialized state for '%s'", cmd.MaterializedName), cols, rows), nil
}
