package aggregate

import (
	"strconv"
	"strings"
)

// GroupKey identifies one aggregate group: an optional time bucket plus
// the group-by column values, in GroupBy order (§4.11 "GroupKey =
// (prehash, optional bucket, group_values[])" — the prehash is an
// implementation detail of the Rust hashmap, not reproduced here since Go
// maps don't need one).
type GroupKey struct {
	Bucket *int64
	Groups []string
}

// hash renders k as a map key. Two GroupKeys with equal Bucket/Groups
// always render to the same string; no input can forge a collision since
// every field is length-prefixed.
func (k GroupKey) hash() string {
	var b strings.Builder
	if k.Bucket != nil {
		b.WriteByte('b')
		b.WriteString(strconv.FormatInt(*k.Bucket, 10))
	}
	b.WriteByte('|')
	for _, g := range k.Groups {
		b.WriteString(strconv.Itoa(len(g)))
		b.WriteByte(':')
		b.WriteString(g)
	}
	return b.String()
}
