package surf

// Query answers range-overlap questions against a built Trie, ported from
// the Rust reference's SurfQuery (zone_surf_filter.rs): an explicit
// backtracking stack walks labelled edges in lexicographic order,
// descending to the left/rightmost terminal once a branch point is
// resolved. One-sided error: MayOverlapGE/LE only ever over-report
// (§8.1 "SuRF soundness: never false negatives").
type Query struct {
	Trie *Trie
}

type backtrackFrame struct {
	node    int
	start   int
	end     int
	chosen  int
	pathLen int
}

func (q *Query) descendLeftmost(node int, out []byte) ([]byte, bool) {
	for {
		if q.Trie.IsTerminal[node] {
			return out, true
		}
		s, e := q.Trie.ChildRange(node)
		if s == e {
			return nil, false
		}
		edge := s
		out = append(out, q.Trie.Labels[edge])
		node = int(q.Trie.EdgeToChild[edge])
	}
}

func (q *Query) descendRightmost(node int, out []byte) ([]byte, bool) {
	for {
		s, e := q.Trie.ChildRange(node)
		if s == e {
			return out, q.Trie.IsTerminal[node]
		}
		edge := e - 1
		out = append(out, q.Trie.Labels[edge])
		node = int(q.Trie.EdgeToChild[edge])
	}
}

// FindFirstKeyGEQ returns the lexicographically smallest stored key that is
// >= target, if any.
func (q *Query) FindFirstKeyGEQ(target []byte) ([]byte, bool) {
	var stack []backtrackFrame
	node := 0
	depth := 0
	var path []byte

	for {
		s, e := q.Trie.ChildRange(node)
		if depth == len(target) {
			return q.descendLeftmost(node, append([]byte(nil), path...))
		}
		tb := target[depth]

		equalIdx := -1
		geIdx := -1
		for i := s; i < e; i++ {
			lbl := q.Trie.Labels[i]
			if lbl == tb && equalIdx < 0 {
				equalIdx = i
			}
			if lbl >= tb {
				geIdx = i
				break
			}
		}

		if equalIdx >= 0 {
			stack = append(stack, backtrackFrame{node, s, e, equalIdx, len(path)})
			path = append(path, q.Trie.Labels[equalIdx])
			node = int(q.Trie.EdgeToChild[equalIdx])
			depth++
			continue
		}

		if geIdx >= 0 {
			path = append(path, q.Trie.Labels[geIdx])
			child := int(q.Trie.EdgeToChild[geIdx])
			return q.descendLeftmost(child, append([]byte(nil), path...))
		}

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.chosen+1 < top.end {
				next := top.chosen + 1
				path = append(path[:top.pathLen], q.Trie.Labels[next])
				child := int(q.Trie.EdgeToChild[next])
				return q.descendLeftmost(child, append([]byte(nil), path...))
			}
		}
		return nil, false
	}
}

// FindLastKeyLEQ returns the lexicographically largest stored key that is
// <= target, if any.
func (q *Query) FindLastKeyLEQ(target []byte) ([]byte, bool) {
	var stack []backtrackFrame
	node := 0
	depth := 0
	var path []byte

	for {
		s, e := q.Trie.ChildRange(node)
		if depth < len(target) {
			tb := target[depth]

			equalIdx := -1
			leIdx := -1
			for i := s; i < e; i++ {
				lbl := q.Trie.Labels[i]
				if lbl == tb {
					equalIdx = i
				}
				if lbl <= tb {
					leIdx = i
				} else {
					break
				}
			}

			if equalIdx >= 0 {
				stack = append(stack, backtrackFrame{node, s, e, equalIdx, len(path)})
				path = append(path, q.Trie.Labels[equalIdx])
				node = int(q.Trie.EdgeToChild[equalIdx])
				depth++
				continue
			}

			if leIdx >= 0 {
				path = append(path, q.Trie.Labels[leIdx])
				child := int(q.Trie.EdgeToChild[leIdx])
				return q.descendRightmost(child, append([]byte(nil), path...))
			}
		}

		if q.Trie.IsTerminal[node] {
			return append([]byte(nil), path...), true
		}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.chosen > top.start {
				prev := top.chosen - 1
				path = append(path[:top.pathLen], q.Trie.Labels[prev])
				child := int(q.Trie.EdgeToChild[prev])
				return q.descendRightmost(child, append([]byte(nil), path...))
			}
			if q.Trie.IsTerminal[top.node] {
				return append([]byte(nil), path[:top.pathLen]...), true
			}
		}
		return nil, false
	}
}

// FindFirstKey returns the smallest key stored in the trie, if any.
func (q *Query) FindFirstKey() ([]byte, bool) {
	var out []byte
	node := 0
	for {
		if q.Trie.IsTerminal[node] {
			return out, true
		}
		s, e := q.Trie.ChildRange(node)
		if s == e {
			return nil, false
		}
		out = append(out, q.Trie.Labels[s])
		node = int(q.Trie.EdgeToChild[s])
	}
}

// FindLastKey returns the largest key stored in the trie, if any.
func (q *Query) FindLastKey() ([]byte, bool) {
	var out []byte
	node := 0
	for {
		s, e := q.Trie.ChildRange(node)
		if s == e {
			return out, q.Trie.IsTerminal[node]
		}
		edge := e - 1
		out = append(out, q.Trie.Labels[edge])
		node = int(q.Trie.EdgeToChild[edge])
	}
}

// MayOverlapGE reports whether any stored key satisfies `key >= lower`
// (inclusive=true) or `key > lower` (inclusive=false).
func (q *Query) MayOverlapGE(lower []byte, inclusive bool) bool {
	if inclusive {
		_, ok := q.FindFirstKeyGEQ(lower)
		return ok
	}
	k, ok := q.FindFirstKeyGEQ(lower)
	if !ok {
		return false
	}
	if string(k) > string(lower) {
		return true
	}
	last, ok := q.FindLastKey()
	return ok && string(last) > string(lower)
}

// MayOverlapLE reports whether any stored key satisfies `key <= upper`
// (inclusive=true) or `key < upper` (inclusive=false).
func (q *Query) MayOverlapLE(upper []byte, inclusive bool) bool {
	if inclusive {
		_, ok := q.FindLastKeyLEQ(upper)
		return ok
	}
	k, ok := q.FindLastKeyLEQ(upper)
	if !ok {
		return false
	}
	if string(k) < string(upper) {
		return true
	}
	first, ok := q.FindFirstKey()
	return ok && string(first) < string(upper)
}
