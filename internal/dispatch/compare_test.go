package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/schema"
)

func TestDispatch_CompareRequiresTwoSubQueries(t *testing.T) {
	d := newTestDispatcher(t)
	resp, err := d.Dispatch(context.Background(), &Command{
		Kind:       KindCompare,
		SubQueries: []*Command{{Kind: KindQuery, EventType: "signup"}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusBadRequest, resp.Status)
}

func TestDispatch_CompareMergesTwoEventTypesSideBySide(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	for _, et := range []string{"signup", "churn"} {
		resp, err := d.Dispatch(ctx, &Command{
			Kind: KindDefine, EventType: et,
			Fields: map[string]schema.LogicalType{"amount": schema.LogicalInteger},
		})
		require.NoError(t, err)
		require.Equal(t, StatusOK, resp.Status)
	}

	resp, err := d.Dispatch(ctx, &Command{
		Kind: KindStore, EventType: "signup", ContextID: "ctx-a", HasTime: true, Timestamp: 1,
		Payload: map[string]interface{}{"amount": float64(1)},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)

	resp, err = d.Dispatch(ctx, &Command{
		Kind: KindCompare,
		SubQueries: []*Command{
			{Kind: KindQuery, EventType: "signup"},
			{Kind: KindQuery, EventType: "churn"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.Equal(t, BodyRows, resp.Body.Kind)

	var sawSignup, sawChurn bool
	for _, c := range resp.Body.Columns {
		if c.Name == "signup.amount" {
			sawSignup = true
		}
		if c.Name == "churn.amount" {
			sawChurn = true
		}
	}
	require.True(t, sawSignup)
	require.True(t, sawChurn)
	require.Len(t, resp.Body.Rows, 1)
}

func TestDispatch_ShowMaterializedUnknownEventType(t *testing.T) {
	d := newTestDispatcher(t)
	resp, err := d.Dispatch(context.Background(), &Command{Kind: KindShowMaterialized, MaterializedName: "nope"})
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, resp.Status)
}

func TestDispatch_ShowMaterializedReportsSegmentCounts(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t)

	resp, err := d.Dispatch(ctx, &Command{
		Kind: KindDefine, EventType: "signup",
		Fields: map[string]schema.LogicalType{"amount": schema.LogicalInteger},
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)

	resp, err = d.Dispatch(ctx, &Command{Kind: KindShowMaterialized, MaterializedName: "signup"})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.Len(t, resp.Body.Rows, 1)
}
