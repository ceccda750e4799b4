package dispatch

import (
	"context"
	"fmt"

	"sneldb/internal/common"
	"sneldb/internal/messaging"
)

// handleDefine registers or evolves a schema (§4.1), grounded on the Rust
// reference's command/handlers/define.rs: acquire the registry, call
// through to the engine's define operation, and turn its error (if any)
// into a 400/500 response rather than propagating it to the caller's
// transport.
func (d *Dispatcher) handleDefine(ctx context.Context, cmd *Command) (*Response, error) {
	if !d.authorize(cmd, cmd.EventType, "define") {
		return ErrorResponse(StatusForbidden, "not authorized to define "+cmd.EventType), nil
	}
	if cmd.EventType == "" {
		return ErrorResponse(StatusBadRequest, "DEFINE requires an event_type"), nil
	}
	if len(cmd.EventType) > common.MaxEventTypeLength {
		return ErrorResponse(StatusBadRequest, fmt.Sprintf("event_type exceeds %d bytes", common.MaxEventTypeLength)), nil
	}

	version := cmd.Version
	if version == 0 {
		version = 1
	}

	if err := d.Registry.Define(ctx, cmd.EventType, version, cmd.Fields); err != nil {
		return responseFor(err), nil
	}

	d.publish(ctx, messaging.EventSchemaEvolved, map[string]interface{}{"event_type": cmd.EventType, "version": version})
	return OKLines(fmt.Sprintf("Schema defined for '%s'", cmd.EventType)), nil
}
