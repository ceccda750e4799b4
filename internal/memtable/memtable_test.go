package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/common"
	"sneldb/internal/schema"
)

func testEvent(uid common.UID, ctxID string, ts int64, eid common.EventID) *schema.Event {
	return &schema.Event{
		EventType: "signup",
		UID:       uid,
		ContextID: common.ContextID(ctxID),
		Timestamp: ts,
		EventID:   eid,
		Payload:   map[string]schema.ScalarValue{"amount": schema.IntValue(ts)},
	}
}

func TestMemtable_ScanOrdersByCompositeKey(t *testing.T) {
	m := New()
	m.Insert(testEvent(1, "ctx-b", 200, 4))
	m.Insert(testEvent(1, "ctx-a", 100, 1))
	m.Insert(testEvent(2, "ctx-a", 50, 2))
	m.Insert(testEvent(1, "ctx-a", 100, 3))

	events := m.Events()
	require.Len(t, events, 4)
	require.Equal(t, common.UID(1), events[0].UID)
	require.Equal(t, common.ContextID("ctx-a"), events[0].ContextID)
	require.Equal(t, common.EventID(1), events[0].EventID)
	require.Equal(t, common.EventID(3), events[1].EventID, "same (uid,ctx,ts) breaks ties by event_id")
	require.Equal(t, common.ContextID("ctx-b"), events[2].ContextID)
	require.Equal(t, common.UID(2), events[3].UID)
}

func TestMemtable_ScanStopsEarly(t *testing.T) {
	m := New()
	m.Insert(testEvent(1, "ctx-a", 1, 1))
	m.Insert(testEvent(1, "ctx-a", 2, 2))

	var seen int
	m.Scan(func(e *schema.Event) bool {
		seen++
		return false
	})
	require.Equal(t, 1, seen)
}

func TestSet_InsertBlocksWhenPassiveQueueFull(t *testing.T) {
	s := NewSet(2)
	require.NoError(t, s.Insert(testEvent(1, "ctx-a", 1, 1)))
	require.NotNil(t, s.Roll())

	require.NoError(t, s.Insert(testEvent(1, "ctx-a", 2, 2)))
	require.NotNil(t, s.Roll(), "second roll fills the last passive slot")

	err := s.Insert(testEvent(1, "ctx-a", 3, 3))
	require.Error(t, err, "a full passive queue must reject further inserts")
}

func TestSet_RollReturnsNilWhenActiveEmpty(t *testing.T) {
	s := NewSet(2)
	require.Nil(t, s.Roll())
}

func TestSet_ReleaseFreesPassiveSlot(t *testing.T) {
	s := NewSet(1)
	require.NoError(t, s.Insert(testEvent(1, "ctx-a", 1, 1)))
	passive := s.Roll()
	require.Equal(t, 1, s.PassiveLen())

	s.Release(passive)
	require.Equal(t, 0, s.PassiveLen())

	require.NoError(t, s.Insert(testEvent(1, "ctx-a", 2, 2)))
	require.NotNil(t, s.Roll(), "a released slot accepts another roll")
}

func TestSet_SnapshotReturnsActiveAndPassives(t *testing.T) {
	s := NewSet(2)
	require.NoError(t, s.Insert(testEvent(1, "ctx-a", 1, 1)))
	passive := s.Roll()
	require.NoError(t, s.Insert(testEvent(1, "ctx-a", 2, 2)))

	active, passives := s.Snapshot()
	require.Equal(t, 1, active.Len())
	require.Len(t, passives, 1)
	require.Same(t, passive, passives[0])
}
