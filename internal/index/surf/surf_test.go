package surf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sneldb/internal/schema"
)

func TestBuildFromSorted_DedupesRepeatedKeys(t *testing.T) {
	keys := [][]byte{[]byte("signup"), []byte("signup"), []byte("signup"), []byte("login")}
	trie := BuildFromSorted(keys)

	q := Query{Trie: trie}
	first, ok := q.FindFirstKey()
	require.True(t, ok)
	require.Equal(t, "login", string(first))

	last, ok := q.FindLastKey()
	require.True(t, ok)
	require.Equal(t, "signup", string(last))
}

func TestQuery_FindFirstKeyGEQAndLEQ(t *testing.T) {
	trie := BuildFromSorted([][]byte{[]byte("a"), []byte("m"), []byte("z")})
	q := Query{Trie: trie}

	k, ok := q.FindFirstKeyGEQ([]byte("b"))
	require.True(t, ok)
	require.Equal(t, "m", string(k))

	k, ok = q.FindLastKeyLEQ([]byte("y"))
	require.True(t, ok)
	require.Equal(t, "m", string(k))

	_, ok = q.FindFirstKeyGEQ([]byte("zz"))
	require.False(t, ok)
}

func TestQuery_MayOverlapGEAndLE(t *testing.T) {
	trie := BuildFromSorted([][]byte{[]byte("b"), []byte("d")})
	q := Query{Trie: trie}

	require.True(t, q.MayOverlapGE([]byte("a"), true))
	require.False(t, q.MayOverlapGE([]byte("d"), false))
	require.True(t, q.MayOverlapLE([]byte("d"), true))
	require.False(t, q.MayOverlapLE([]byte("a"), false))
}

func TestZoneFilter_BuildOverRepeatedValueZone(t *testing.T) {
	// A uid-grouped zone where every event shares the same event_type, the
	// scenario that exposed the duplicate-key flush bug: the encoded value
	// set handed to Build is not pre-deduplicated here on purpose, matching
	// how BuildFromSorted is expected to defend itself.
	enc, ok := Encode(schema.StringValue("signup"))
	require.True(t, ok)
	perZone := map[uint32][][]byte{
		0: {enc, enc, enc, enc},
	}
	zf := Build(perZone)
	require.Len(t, zf.Entries, 1)

	zones := zf.ZonesContaining(enc)
	require.Equal(t, []uint32{0}, zones)
}

func TestZoneFilter_ZonesOverlappingRangeSpansMultipleZones(t *testing.T) {
	perZone := map[uint32][][]byte{
		0: {[]byte("a"), []byte("b")},
		1: {[]byte("y"), []byte("z")},
	}
	zf := Build(perZone)

	zones := zf.ZonesOverlappingGE([]byte("m"), true)
	require.Equal(t, []uint32{1}, zones)

	zones = zf.ZonesOverlappingLE([]byte("m"), true)
	require.Equal(t, []uint32{0}, zones)
}

func TestEncode_IntegerOrderingMatchesByteOrdering(t *testing.T) {
	lo, ok := Encode(schema.IntValue(-5))
	require.True(t, ok)
	hi, ok := Encode(schema.IntValue(5))
	require.True(t, ok)
	require.Less(t, string(lo), string(hi))
}
