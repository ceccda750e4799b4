package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sneldb/internal/query/filter"
	"sneldb/internal/schema"
	"sneldb/internal/segment"
)

func TestPlanFixedFieldsAlwaysZoneIndex(t *testing.T) {
	cat := segment.NewCatalog(1)
	eventType := filter.NewFilter("event_type", filter.OpEq, schema.StringValue("signup"), 1)
	contextID := filter.NewFilter("context_id", filter.OpEq, schema.StringValue("c1"), 1)
	ts := filter.NewFilter("timestamp", filter.OpGt, schema.TimestampValue(100), 1)

	assert.Equal(t, StrategyZoneIndex, Plan(eventType, cat))
	assert.Equal(t, StrategyZoneIndex, Plan(contextID, cat))
	assert.Equal(t, StrategyZoneIndex, Plan(ts, cat))
}

func TestPlanEqualityPrefersXorOverSurf(t *testing.T) {
	cat := segment.NewCatalog(1)
	cat.Advertise("amount", segment.IndexZoneSurf)
	cat.Advertise("amount", segment.IndexZoneXor)

	f := filter.NewFilter("amount", filter.OpEq, schema.IntValue(5), 1)
	assert.Equal(t, StrategyZoneXor, Plan(f, cat))
}

func TestPlanEqualityFallsBackToSurfThenScan(t *testing.T) {
	cat := segment.NewCatalog(1)
	f := filter.NewFilter("amount", filter.OpEq, schema.IntValue(5), 1)
	assert.Equal(t, StrategyScan, Plan(f, cat))

	cat.Advertise("amount", segment.IndexZoneSurf)
	assert.Equal(t, StrategyZoneSurf, Plan(f, cat))
}

func TestPlanNeqNeverUsesMembershipFilters(t *testing.T) {
	cat := segment.NewCatalog(1)
	cat.Advertise("amount", segment.IndexZoneSurf)
	cat.Advertise("amount", segment.IndexZoneXor)

	f := filter.NewFilter("amount", filter.OpNeq, schema.IntValue(5), 1)
	assert.Equal(t, StrategyScan, Plan(f, cat),
		"a membership filter selects zones containing the value, the inverse of what Neq needs")
}

func TestPlanRangePrefersSurfOverScan(t *testing.T) {
	cat := segment.NewCatalog(1)
	f := filter.NewFilter("amount", filter.OpGte, schema.IntValue(5), 1)
	assert.Equal(t, StrategyScan, Plan(f, cat))

	cat.Advertise("amount", segment.IndexZoneXor)
	assert.Equal(t, StrategyScan, Plan(f, cat), "xor does not serve range queries")

	cat.Advertise("amount", segment.IndexZoneSurf)
	assert.Equal(t, StrategyZoneSurf, Plan(f, cat))
}
