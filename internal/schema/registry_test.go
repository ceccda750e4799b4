package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/storage/block"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	storage, err := block.NewLocalFS(block.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return NewRegistry(storage)
}

func TestRegistry_DefineThenGetUID(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	require.NoError(t, r.Define(ctx, "signup", 1, map[string]LogicalType{"amount": LogicalInteger}))

	uid, ok := r.GetUID("signup")
	require.True(t, ok)
	require.Equal(t, common.UID(1), uid)
	require.True(t, r.HasSchema("signup"))
}

func TestRegistry_DefineEvolvesAdditively(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	require.NoError(t, r.Define(ctx, "signup", 1, map[string]LogicalType{"amount": LogicalInteger}))
	require.NoError(t, r.Define(ctx, "signup", 2, map[string]LogicalType{"plan": LogicalString}))

	uid, _ := r.GetUID("signup")
	fields, ok := r.FieldsOf(uid)
	require.True(t, ok)
	require.Equal(t, LogicalInteger, fields["amount"])
	require.Equal(t, LogicalString, fields["plan"])

	s, ok := r.SchemaByEventType("signup")
	require.True(t, ok)
	require.Equal(t, uint32(2), s.Version)
}

func TestRegistry_DefineRejectsVersionRegression(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	require.NoError(t, r.Define(ctx, "signup", 2, map[string]LogicalType{"amount": LogicalInteger}))
	err := r.Define(ctx, "signup", 1, map[string]LogicalType{"amount": LogicalInteger})
	require.Error(t, err)
}

func TestRegistry_DefineRejectsFieldTypeChange(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	require.NoError(t, r.Define(ctx, "signup", 1, map[string]LogicalType{"amount": LogicalInteger}))
	err := r.Define(ctx, "signup", 2, map[string]LogicalType{"amount": LogicalString})
	require.Error(t, err)
}

func TestRegistry_LoadRestoresPersistedSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage, err := block.NewLocalFS(block.Config{BaseDir: dir})
	require.NoError(t, err)

	r := NewRegistry(storage)
	require.NoError(t, r.Define(ctx, "signup", 1, map[string]LogicalType{"amount": LogicalInteger}))

	storage2, err := block.NewLocalFS(block.Config{BaseDir: dir})
	require.NoError(t, err)
	r2 := NewRegistry(storage2)
	require.NoError(t, r2.Load(ctx))

	require.True(t, r2.HasSchema("signup"))
	list := r2.List()
	require.Len(t, list, 1)
	require.Equal(t, "signup", list[0].EventType)
}

func TestSchema_CloneIsIndependent(t *testing.T) {
	s := &Schema{EventType: "signup", UID: 1, Version: 1, Fields: map[string]LogicalType{"amount": LogicalInteger}}
	clone := s.Clone()
	clone.Fields["amount"] = LogicalString
	require.Equal(t, LogicalInteger, s.Fields["amount"])
}
