package dispatch

import (
	"context"
	"fmt"

	"sneldb/internal/common"
)

// handleReplay streams an event_type's full history for one context in
// insertion order (`REPLAY <event_type> FOR <context_id>`, §6.1) — a QUERY
// with no predicates, no reordering, no limit, so the caller sees the
// events exactly as they were stored. Called with no event_type it instead
// re-runs the boot-time WAL replay across every shard (§4.2 component B),
// the administrative form operators use without a restart.
func (d *Dispatcher) handleReplay(ctx context.Context, cmd *Command) (*Response, error) {
	if cmd.EventType != "" {
		return d.handleQuery(ctx, &Command{
			Kind:      KindQuery,
			AuthUser:  cmd.AuthUser,
			EventType: cmd.EventType,
			ContextID: cmd.ContextID,
		})
	}

	if !d.authorize(cmd, "*", "replay") {
		return ErrorResponse(StatusForbidden, "not authorized to replay"), nil
	}

	if err := d.Shards.ReplayAll(ctx, d.Registry); err != nil {
		return responseFor(err), nil
	}
	return OKLines("Replay complete"), nil
}

// handleFlush flushes one shard (ShardID) or every shard (HasShardID
// false), per §4.4.
func (d *Dispatcher) handleFlush(ctx context.Context, cmd *Command) (*Response, error) {
	if !d.authorize(cmd, "*", "flush") {
		return ErrorResponse(StatusForbidden, "not authorized to flush"), nil
	}

	if cmd.HasShardID {
		sh, ok := d.Shards.Shard(cmd.ShardID)
		if !ok {
			return responseFor(common.NewError(common.ErrNotFound, fmt.Sprintf("no shard %d", cmd.ShardID))), nil
		}
		ids, err := sh.Flush(ctx)
		if err != nil {
			return responseFor(err), nil
		}
		return OKLines(fmt.Sprintf("Flushed shard %d: %d segments", cmd.ShardID, len(ids))), nil
	}

	total := 0
	for _, sh := range d.Shards.Shards() {
		ids, err := sh.Flush(ctx)
		if err != nil {
			return responseFor(err), nil
		}
		total += len(ids)
	}
	return OKLines(fmt.Sprintf("Flushed %d shards: %d segments", len(d.Shards.Shards()), total)), nil
}
