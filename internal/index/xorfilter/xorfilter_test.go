package xorfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_NoFalseNegatives(t *testing.T) {
	keys := make([]uint64, 0, 200)
	for i := uint64(0); i < 200; i++ {
		keys = append(keys, i*2654435761+17)
	}
	f, err := Build(keys)
	require.NoError(t, err)

	for _, k := range keys {
		require.True(t, f.Contains(k))
	}
}

func TestBuild_DedupesRepeatedKeys(t *testing.T) {
	keys := []uint64{42, 42, 42, 42, 7}
	f, err := Build(keys)
	require.NoError(t, err)

	require.True(t, f.Contains(42))
	require.True(t, f.Contains(7))
}

func TestBuild_SingleKey(t *testing.T) {
	f, err := Build([]uint64{99})
	require.NoError(t, err)
	require.True(t, f.Contains(99))
}

func TestBuildZoneFilter_OverRepeatedValueZone(t *testing.T) {
	// Mirrors a uid-grouped flush zone where every event shares the same
	// event_type: many repeated encoded byte values feeding into a single
	// zone's filter construction.
	value := []byte("signup")
	perZone := map[uint32][][]byte{
		0: {value, value, value, value},
		1: {[]byte("login")},
	}

	zf, err := BuildZoneFilter(perZone)
	require.NoError(t, err)
	require.Len(t, zf.Entries, 2)

	zones := zf.ZonesContaining(value)
	require.Equal(t, []uint32{0}, zones)

	zones = zf.ZonesContaining([]byte("login"))
	require.Equal(t, []uint32{1}, zones)
}

func TestDedupedKeys_SortsAndRemovesDuplicates(t *testing.T) {
	values := [][]byte{[]byte("b"), []byte("a"), []byte("b"), []byte("a")}
	keys := dedupedKeys(values)
	require.Len(t, keys, 2)
	require.True(t, keys[0] <= keys[1])
}

func TestContains_FalseForAbsentKey(t *testing.T) {
	f, err := Build([]uint64{1, 2, 3})
	require.NoError(t, err)
	require.False(t, f.Contains(0xDEADBEEF))
}
