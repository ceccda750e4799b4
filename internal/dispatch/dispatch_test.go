package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/auth"
	"sneldb/internal/config"
	"sneldb/internal/query/aggregate"
	"sneldb/internal/query/filter"
	"sneldb/internal/query/flow"
	"sneldb/internal/schema"
	"sneldb/internal/shard"
	"sneldb/internal/storage/block"
)

// newTestDispatcher builds a Dispatcher over a fresh temp-dir engine, the
// same shape cmd/sneldb-server and cmd/sneldb-cli assemble at startup, but
// sized down to one shard and pointed at t.TempDir().
func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	root := t.TempDir()

	cfg := &config.Config{
		Engine: config.EngineConfig{Shards: 1, RowsPerZone: 4, DataDir: root},
		WAL: config.WALConfig{
			Dir: root + "/wal", SegmentMaxBytes: 1 << 20, SegmentMaxAge: "24h",
			SyncPolicy: "every-ms", SyncEveryMs: 1,
		},
	}

	storage, err := block.NewLocalFS(block.Config{BaseDir: root})
	require.NoError(t, err)

	ctx := context.Background()
	registry := schema.NewRegistry(storage)
	require.NoError(t, registry.Load(ctx))

	shards, err := shard.NewManager(ctx, cfg, storage, nil)
	require.NoError(t, err)
	t.Cleanup(func() { shards.Close() })
	require.NoError(t, shards.ReplayAll(ctx, registry))

	return New(shards, registry, auth.NewUserStore(), nil)
}

func TestDispatch_DefineThenStoreThenQuery(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	defineResp, err := d.Dispatch(ctx, &Command{
		Kind:      KindDefine,
		EventType: "signup",
		Fields:    map[string]schema.LogicalType{"amount": schema.LogicalInteger},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, defineResp.Status)

	storeResp, err := d.Dispatch(ctx, &Command{
		Kind:      KindStore,
		EventType: "signup",
		ContextID: "ctx-a",
		HasTime:   true,
		Timestamp: 1000,
		Payload:   map[string]interface{}{"amount": float64(7)},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, storeResp.Status)

	queryResp, err := d.Dispatch(ctx, &Command{Kind: KindQuery, EventType: "signup"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, queryResp.Status)
	require.Equal(t, BodyStream, queryResp.Body.Kind)

	var rows int
	for batch := range queryResp.Body.Stream {
		rows += len(batch.Events)
	}
	require.NoError(t, queryResp.Body.Flow.Err())
	require.Equal(t, 1, rows)
}

func TestDispatch_WhereOrderLimitOverFlushedSegments(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindDefine, EventType: "order",
		Fields: map[string]schema.LogicalType{"amount": schema.LogicalInteger},
	})))
	for i := 1; i <= 100; i++ {
		require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
			Kind: KindStore, EventType: "order", ContextID: "c2",
			HasTime: true, Timestamp: int64(1000 + i),
			Payload: map[string]interface{}{"amount": float64(i)},
		})))
	}
	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{Kind: KindFlush})))

	uid, ok := d.Registry.GetUID("order")
	require.True(t, ok)
	resp, err := d.Dispatch(ctx, &Command{
		Kind: KindQuery, EventType: "order", ContextID: "c2",
		Where: filter.NewFilter("amount", filter.OpGt, schema.IntValue(50), uid),
		Order: &OrderBy{Field: "amount"},
		Limit: 10,
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)

	var amounts []int64
	for batch := range resp.Body.Stream {
		for _, e := range batch.Events {
			require.NotZero(t, e.EventID, "event_id survives the flush")
			amounts = append(amounts, e.Payload["amount"].Int64)
		}
	}
	require.NoError(t, resp.Body.Flow.Err())
	require.Equal(t, []int64{51, 52, 53, 54, 55, 56, 57, 58, 59, 60}, amounts)
}

func TestDispatch_AggregateSumByHourBucket(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)
	base := int64(1_735_689_600) // 2025-01-01T00:00:00Z

	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindDefine, EventType: "order",
		Fields: map[string]schema.LogicalType{"item": schema.LogicalString, "amount": schema.LogicalInteger},
	})))
	for i, amount := range []int64{10, 20, 30} {
		require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
			Kind: KindStore, EventType: "order", ContextID: "c" + string(rune('1'+i)),
			HasTime: true, Timestamp: base + int64(i)*3600,
			Payload: map[string]interface{}{"amount": float64(amount)},
		})))
	}

	resp, err := d.Dispatch(ctx, &Command{
		Kind: KindQuery, EventType: "order",
		Aggregate: &AggregateClause{
			Specs:  []aggregate.Spec{aggregate.Sum("amount")},
			Bucket: aggregate.Hour,
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)

	type row struct {
		bucket int64
		total  int64
	}
	var rows []row
	for batch := range resp.Body.Stream {
		for _, e := range batch.Events {
			rows = append(rows, row{e.Payload["bucket"].Timestamp, e.Payload["total_amount"].Int64})
		}
	}
	require.NoError(t, resp.Body.Flow.Err())
	require.Equal(t, []row{{base, 10}, {base + 3600, 20}, {base + 7200, 30}}, rows)
}

func TestDispatch_SequenceFollowedByLinkedByContext(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)
	base := int64(1_735_689_600)

	for _, et := range []string{"page_view", "order_created"} {
		require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
			Kind: KindDefine, EventType: et,
			Fields: map[string]schema.LogicalType{"page": schema.LogicalString},
		})))
	}
	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindStore, EventType: "page_view", ContextID: "u1",
		HasTime: true, Timestamp: base, Payload: map[string]interface{}{},
	})))
	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindStore, EventType: "order_created", ContextID: "u1",
		HasTime: true, Timestamp: base + 60, Payload: map[string]interface{}{},
	})))
	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindStore, EventType: "page_view", ContextID: "u2",
		HasTime: true, Timestamp: base, Payload: map[string]interface{}{},
	})))

	resp, err := d.Dispatch(ctx, &Command{
		Kind: KindQuery,
		Sequence: &flow.SequenceSpec{
			Head:   "page_view",
			Steps:  []flow.SequenceStep{{Link: flow.FollowedBy, EventType: "order_created"}},
			LinkBy: "context_id",
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)

	var links []string
	for batch := range resp.Body.Stream {
		for _, e := range batch.Events {
			links = append(links, e.Payload["link_value"].Utf8)
		}
	}
	require.NoError(t, resp.Body.Flow.Err())
	require.Equal(t, []string{"u1"}, links, "only u1 completed the chain")
}

func TestDispatch_StoreUnknownEventTypeIsSchemaNotFound(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	resp, err := d.Dispatch(ctx, &Command{
		Kind:      KindStore,
		EventType: "nope",
		ContextID: "ctx-a",
		Payload:   map[string]interface{}{},
	})
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, resp.Status)
}

func TestDispatch_StoreRejectsUnknownField(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	_, err := d.Dispatch(ctx, &Command{
		Kind: KindDefine, EventType: "signup",
		Fields: map[string]schema.LogicalType{"amount": schema.LogicalInteger},
	})
	require.NoError(t, err)

	resp, err := d.Dispatch(ctx, &Command{
		Kind: KindStore, EventType: "signup", ContextID: "ctx-a",
		Payload: map[string]interface{}{"bogus": 1},
	})
	require.NoError(t, err)
	require.Equal(t, StatusBadRequest, resp.Status)
}

func TestDispatch_FlushAllShards(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindDefine, EventType: "signup",
		Fields: map[string]schema.LogicalType{"amount": schema.LogicalInteger},
	})))
	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindStore, EventType: "signup", ContextID: "ctx-a", HasTime: true, Timestamp: 1,
		Payload: map[string]interface{}{"amount": float64(1)},
	})))

	resp, err := d.Dispatch(ctx, &Command{Kind: KindFlush})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
}

func TestDispatch_ReplayStreamsContextHistoryInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindDefine, EventType: "order",
		Fields: map[string]schema.LogicalType{"amount": schema.LogicalInteger},
	})))
	for i := 0; i < 3; i++ {
		require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
			Kind: KindStore, EventType: "order", ContextID: "c3",
			HasTime: true, Timestamp: int64(1000 + i),
			Payload: map[string]interface{}{"amount": float64(i)},
		})))
	}
	// a different context's events must not leak into the replay
	require.NoError(t, requireNoErr(d.Dispatch(ctx, &Command{
		Kind: KindStore, EventType: "order", ContextID: "other",
		HasTime: true, Timestamp: 999,
		Payload: map[string]interface{}{"amount": float64(99)},
	})))

	resp, err := d.Dispatch(ctx, &Command{Kind: KindReplay, EventType: "order", ContextID: "c3"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.Equal(t, BodyStream, resp.Body.Kind)

	var amounts []int64
	for batch := range resp.Body.Stream {
		for _, e := range batch.Events {
			require.Equal(t, "c3", string(e.ContextID))
			amounts = append(amounts, e.Payload["amount"].Int64)
		}
	}
	require.NoError(t, resp.Body.Flow.Err())
	require.Equal(t, []int64{0, 1, 2}, amounts)
}

func TestDispatch_PingPong(t *testing.T) {
	d := newTestDispatcher(t)
	resp, err := d.Dispatch(context.Background(), &Command{Kind: KindPing})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.Equal(t, []string{"PONG"}, resp.Body.Lines)
}

func TestDispatch_CreateUserGrantRevokeThenAuthorize(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	resp, err := d.Dispatch(ctx, &Command{Kind: KindCreateUser, Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)

	resp, err = d.Dispatch(ctx, &Command{Kind: KindGrant, Username: "alice", Permission: "signup:store"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)

	require.True(t, d.Users.Authorized("alice", "signup", "store"))

	resp, err = d.Dispatch(ctx, &Command{Kind: KindRevoke, Username: "alice", Permission: "signup:store"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.False(t, d.Users.Authorized("alice", "signup", "store"))
}

func TestDispatch_UnknownKindErrors(t *testing.T) {
	_, err := newTestDispatcher(t).Dispatch(context.Background(), &Command{Kind: Kind(999)})
	require.Error(t, err)
}

func requireNoErr(resp *Response, err error) error {
	if err != nil {
		return err
	}
	if resp.Status != StatusOK {
		return errStatus(resp)
	}
	return nil
}

func errStatus(resp *Response) error {
	return &statusError{resp.Status, resp.Message}
}

type statusError struct {
	status  StatusCode
	message string
}

func (e *statusError) Error() string { return e.message }
