// Package surf implements a succinct range filter (SuRF): a trie over the
// encoded byte keys present in one zone, supporting sound `=`, `<`, `>`
// candidate-zone tests with one-sided error (never a false negative),
// per spec §4.7/§4.8/§8.1 and the GLOSSARY's "SuRF" entry.
//
// Ported from the Rust reference's zone_surf_filter.rs/surf_trie.rs shape
// (flat labels/edge_to_child/is_terminal arrays addressed by node index,
// walked with an explicit backtracking stack) in Go-idiomatic form: plain
// slices, no unsafe pointer tricks, no bit-packed succinct encoding since
// the example pack carries no succinct-bitvector library to lean on.
package surf

import "sort"

// Trie is a compact trie over a sorted, deduplicated set of byte-string
// keys. Children of a node occupy a contiguous range [firstEdge,
// firstEdge+edgeCount) in the shared labels/children arrays, sorted by
// label so the range can be binary- or linear-searched.
type Trie struct {
	Labels      []byte  `json:"labels"`
	EdgeToChild []int32 `json:"edge_to_child"`
	IsTerminal  []bool  `json:"is_terminal"`
	firstEdge   []int32
	edgeCount   []int32
}

// nodeFirstEdge/nodeEdgeCount are serialized alongside Labels/EdgeToChild
// so a loaded trie can reconstruct ChildRange without re-walking keys.
type wireTrie struct {
	Labels        []byte  `json:"labels"`
	EdgeToChild   []int32 `json:"edge_to_child"`
	IsTerminal    []bool  `json:"is_terminal"`
	NodeFirstEdge []int32 `json:"node_first_edge"`
	NodeEdgeCount []int32 `json:"node_edge_count"`
}

// ChildRange returns the [start, end) index range into Labels/EdgeToChild
// for nodeIdx's children.
func (t *Trie) ChildRange(nodeIdx int) (int, int) {
	s := int(t.firstEdge[nodeIdx])
	return s, s + int(t.edgeCount[nodeIdx])
}

// NumNodes reports the trie's node count, including the root.
func (t *Trie) NumNodes() int { return len(t.firstEdge) }

type trieBuilder struct {
	labels      []byte
	edgeToChild []int32
	isTerminal  []bool
	firstEdge   []int32
	edgeCount   []int32
}

func (b *trieBuilder) newNode() int {
	b.isTerminal = append(b.isTerminal, false)
	b.firstEdge = append(b.firstEdge, 0)
	b.edgeCount = append(b.edgeCount, 0)
	return len(b.isTerminal) - 1
}

// BuildFromSorted builds a Trie from a sorted, deduplicated slice of byte
// keys (§4.4 "a ZoneSurfEntry per zone (sorted, deduped, SuRF-encoded)").
// Callers are responsible for sorting and deduplicating; BuildFromSorted
// does so defensively if given unsorted input.
func BuildFromSorted(keys [][]byte) *Trie {
	keys = sortedDedup(keys)

	b := &trieBuilder{}
	root := b.newNode()
	if root != 0 {
		panic("surf: root must be node 0")
	}
	if len(keys) == 1 && len(keys[0]) == 0 {
		b.isTerminal[root] = true
	}

	type child struct {
		label byte
		keys  [][]byte
	}

	var insert func(nodeIdx int, keys [][]byte)
	insert = func(nodeIdx int, keys [][]byte) {
		// Partition keys by first byte, preserving a terminal marker for
		// the (possibly present) zero-length key at this level.
		groups := make([]child, 0, 8)
		var cur *child
		for _, k := range keys {
			if len(k) == 0 {
				b.isTerminal[nodeIdx] = true
				continue
			}
			if cur == nil || cur.label != k[0] {
				groups = append(groups, child{label: k[0]})
				cur = &groups[len(groups)-1]
			}
			cur.keys = append(cur.keys, k[1:])
		}

		start := len(b.labels)
		for range groups {
			b.labels = append(b.labels, 0)
			b.edgeToChild = append(b.edgeToChild, 0)
		}
		b.firstEdge[nodeIdx] = int32(start)
		b.edgeCount[nodeIdx] = int32(len(groups))

		for i, g := range groups {
			childIdx := b.newNode()
			b.labels[start+i] = g.label
			b.edgeToChild[start+i] = int32(childIdx)
			insert(childIdx, g.keys)
		}
	}
	insert(root, keys)

	return &Trie{
		Labels:      b.labels,
		EdgeToChild: b.edgeToChild,
		IsTerminal:  b.isTerminal,
		firstEdge:   b.firstEdge,
		edgeCount:   b.edgeCount,
	}
}

func sortedDedup(keys [][]byte) [][]byte {
	out := append([][]byte(nil), keys...)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i]) < string(out[j])
	})
	dedup := out[:0]
	for i, k := range out {
		if i == 0 || string(k) != string(dedup[len(dedup)-1]) {
			dedup = append(dedup, k)
		}
	}
	return dedup
}

// wire converts Trie to its serializable form, recomputing nothing (the
// ranges are already flat slices, duplicated here under the wire names
// so MarshalJSON round-trips through a stable schema).
func (t *Trie) wire() wireTrie {
	return wireTrie{
		Labels:        t.Labels,
		EdgeToChild:   t.EdgeToChild,
		IsTerminal:    t.IsTerminal,
		NodeFirstEdge: t.firstEdge,
		NodeEdgeCount: t.edgeCount,
	}
}

func fromWire(w wireTrie) *Trie {
	return &Trie{
		Labels:      w.Labels,
		EdgeToChild: w.EdgeToChild,
		IsTerminal:  w.IsTerminal,
		firstEdge:   w.NodeFirstEdge,
		edgeCount:   w.NodeEdgeCount,
	}
}
