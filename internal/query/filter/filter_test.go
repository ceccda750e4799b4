package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sneldb/internal/schema"
)

func TestExtractIndividualFilters(t *testing.T) {
	a := NewFilter("event_type", OpEq, schema.StringValue("signup"), 1)
	b := NewFilter("amount", OpGt, schema.IntValue(10), 1)
	c := NewFilter("context_id", OpEq, schema.StringValue("ctx-1"), 1)
	tree := And(a, Or(b, c))

	got := tree.ExtractIndividualFilters()
	require.Len(t, got, 3)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])
	assert.Equal(t, c, got[2])
}

func TestExtractUniqueFiltersDedups(t *testing.T) {
	a1 := NewFilter("event_type", OpEq, schema.StringValue("signup"), 1)
	a2 := NewFilter("event_type", OpEq, schema.StringValue("signup"), 1)
	b := NewFilter("amount", OpGt, schema.IntValue(10), 1)
	tree := And(a1, Or(a2, b))

	got := tree.ExtractUniqueFilters()
	assert.Len(t, got, 2)
}

func TestPriorityForField(t *testing.T) {
	assert.Equal(t, PriorityEventType, PriorityForField("event_type"))
	assert.Equal(t, PriorityEventType, PriorityForField("context_id"))
	assert.Equal(t, PriorityTimestamp, PriorityForField("timestamp"))
	assert.Equal(t, PriorityDefault, PriorityForField("amount"))
}

func TestSyncIndexStrategiesFromIsIdempotent(t *testing.T) {
	leaf := NewFilter("amount", OpGt, schema.IntValue(10), 1)
	tree := And(leaf)

	planned := NewFilter("amount", OpGt, schema.IntValue(10), 1)
	planned.IndexStrategy = "ZoneSurf"

	tree.SyncIndexStrategiesFrom([]*Group{planned})
	assert.Equal(t, "ZoneSurf", leaf.IndexStrategy)

	// idempotent: syncing again with a different strategy should not change it
	other := NewFilter("amount", OpGt, schema.IntValue(10), 1)
	other.IndexStrategy = "Scan"
	tree.SyncIndexStrategiesFrom([]*Group{other})
	assert.Equal(t, "ZoneSurf", leaf.IndexStrategy)
}

func TestKeyDistinguishesMissingValue(t *testing.T) {
	withValue := NewFilter("x", OpEq, schema.IntValue(1), 1)
	projectionOnly := NewProjectionOnly("x", 1)
	assert.NotEqual(t, withValue.Key(), projectionOnly.Key())
}
