package dispatch

import (
	"context"
	"fmt"

	"sneldb/internal/common"
	"sneldb/internal/schema"
)

// handleStore appends one event (§4.2, §4.3): look up the event_type's uid
// and field set, translate the raw JSON payload into typed ScalarValues,
// normalize created_at (§9 Open Question), and route to the owning shard.
func (d *Dispatcher) handleStore(ctx context.Context, cmd *Command) (*Response, error) {
	if !d.authorize(cmd, cmd.EventType, "store") {
		return ErrorResponse(StatusForbidden, "not authorized to store "+cmd.EventType), nil
	}
	if cmd.ContextID == "" {
		return ErrorResponse(StatusBadRequest, "STORE requires a context_id"), nil
	}
	if len(cmd.ContextID) > common.MaxContextIDLength {
		return ErrorResponse(StatusBadRequest, fmt.Sprintf("context_id exceeds %d bytes", common.MaxContextIDLength)), nil
	}

	uid, ok := d.Registry.GetUID(cmd.EventType)
	if !ok {
		return responseFor(common.ErrSchemaNotFoundError(cmd.EventType)), nil
	}
	fields, _ := d.Registry.FieldsOf(uid)

	payload := make(map[string]schema.ScalarValue, len(cmd.Payload))
	for k, v := range cmd.Payload {
		if _, known := fields[k]; !known {
			return ErrorResponse(StatusBadRequest, fmt.Sprintf("unknown field %q for event_type %q", k, cmd.EventType)), nil
		}
		payload[k] = schema.FromJSON(v)
	}
	if err := schema.NormalizeTimestamp(payload); err != nil {
		return ErrorResponse(StatusBadRequest, err.Error()), nil
	}

	timestamp := cmd.Timestamp
	if !cmd.HasTime {
		timestamp = int64(common.NowTimestamp())
	}

	e, err := d.Shards.Store(ctx, cmd.EventType, uid, cmd.ContextID, timestamp, payload)
	if err != nil {
		return responseFor(err), nil
	}

	return OKLines(fmt.Sprintf("Stored event %d for '%s'", e.EventID, cmd.EventType)), nil
}
