package dispatch

import (
	"context"

	"sneldb/internal/auth"
	"sneldb/internal/common"
	"sneldb/internal/messaging"
	"sneldb/internal/schema"
	"sneldb/internal/shard"
)

// Dispatcher holds every collaborator a Command handler needs: the shard
// pool, the schema registry, the administrative user store, and the
// lifecycle-event bus. One Dispatcher is built at process start and shared
// across every connection (§6.6 "no implicit global mutability; all shared
// state is held behind well-typed handles" — Dispatcher is that handle).
type Dispatcher struct {
	Shards   *shard.Manager
	Registry *schema.Registry
	Users    *auth.UserStore
	Events   *messaging.EventPublisher

	// Tokens mints a session JWT for a newly created user (§6.1 CREATE
	// USER). Nil disables token issuance; AuthUser-based authorization via
	// Users still works without it (transports that verify bearer tokens
	// set cmd.AuthUser themselves, see internal/auth.JWTAuthenticator).
	Tokens *auth.TokenManager
}

// New builds a Dispatcher over an already-constructed shard manager,
// schema registry, and user store. events may be nil to disable lifecycle
// announcements for commands outside the shard's own write/flush path.
func New(shards *shard.Manager, registry *schema.Registry, users *auth.UserStore, events *messaging.EventPublisher) *Dispatcher {
	return &Dispatcher{Shards: shards, Registry: registry, Users: users, Events: events}
}

// Dispatch routes cmd to its handler (§4, component M), grounded on the
// Rust reference's dispatch_command match. Every handler returns a
// Response rather than erroring the caller out of the request entirely:
// Dispatch itself only fails on a Kind it does not recognize, which a
// well-behaved frontend should never produce.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command) (*Response, error) {
	if cmd == nil {
		return ErrorResponse(StatusBadRequest, "empty command"), nil
	}

	switch cmd.Kind {
	case KindDefine:
		return d.handleDefine(ctx, cmd)
	case KindStore:
		return d.handleStore(ctx, cmd)
	case KindQuery:
		return d.handleQuery(ctx, cmd)
	case KindReplay:
		return d.handleReplay(ctx, cmd)
	case KindFlush:
		return d.handleFlush(ctx, cmd)
	case KindCompare:
		return d.handleCompare(ctx, cmd)
	case KindShowMaterialized:
		return d.handleShowMaterialized(ctx, cmd)
	case KindCreateUser:
		return d.handleCreateUser(ctx, cmd)
	case KindGrant:
		return d.handleGrant(ctx, cmd)
	case KindRevoke:
		return d.handleRevoke(ctx, cmd)
	case KindPing:
		return OKLines("PONG", "PONG"), nil
	default:
		return nil, common.NewError(common.ErrUnknownCommand, "dispatch: unrecognized command kind")
	}
}

// responseFor renders a *common.StorageError (or any error) into an error
// Response, mapping status codes the way §7 describes.
func responseFor(err error) *Response {
	if se, ok := err.(*common.StorageError); ok {
		return ErrorResponse(StatusCode(se.StatusCode()), se.Error())
	}
	return ErrorResponse(StatusInternalError, err.Error())
}

// publish is a nil-safe lifecycle announcement, mirroring shard.Shard's own
// publish helper: a missing event bus or a publish failure never changes
// the response a command returns.
func (d *Dispatcher) publish(ctx context.Context, eventType messaging.EventType, data map[string]interface{}) {
	if d.Events == nil {
		return
	}
	_ = d.Events.PublishEvent(ctx, eventType, data)
}
