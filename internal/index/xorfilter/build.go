package xorfilter

import (
	"errors"
	"sort"
)

// defaultSeed is the starting hash seed; Build retries with a derived
// seed if the peeling step fails to resolve every key (rare, expected for
// a small fraction of random key sets).
const defaultSeed = 0x9E3779B97F4A7C15

const maxBuildAttempts = 64

type keyIndex struct {
	hash  uint64
	index uint32
}

type xorSet struct {
	xormask uint64
	count   uint32
}

// Build constructs an XOR8 filter over keys via 3-hypergraph peeling: find
// a slot touched by exactly one remaining key, remove that key from its
// three slots, repeat. If every key peels off, fingerprints are assigned
// walking the peel order backwards so each slot's value is fully
// determined by the time it's written (§4.4 "build from the distinct-
// values set"). Callers are expected to pass a distinct key set (see
// BuildZoneFilter); Build dedupes defensively, the same way
// surf.BuildFromSorted's sortedDedup guards its own construction, since a
// duplicate key makes peeling impossible to resolve.
func Build(keys []uint64) (*Filter, error) {
	return BuildSeed(keys, defaultSeed)
}

// BuildSeed is Build with an explicit starting seed, used by tests that
// need deterministic output.
func BuildSeed(keys []uint64, seed uint64) (*Filter, error) {
	keys = dedupedSorted(keys)
	size := len(keys)
	capacity := uint32(32 + uint32(float64(size)*factor))
	capacity = capacity / 3 * 3
	if capacity < 3 {
		capacity = 3
	}
	blockLength := capacity / 3

	for attempt := 0; attempt < maxBuildAttempts; attempt++ {
		f := &Filter{Seed: seed, BlockLength: blockLength, Fingerprints: make([]uint8, capacity)}
		sets := make([]xorSet, capacity)

		for _, k := range keys {
			h := mix(k, seed)
			h0, h1, h2 := f.hashes(h)
			sets[h0].xormask ^= h
			sets[h0].count++
			sets[h1].xormask ^= h
			sets[h1].count++
			sets[h2].xormask ^= h
			sets[h2].count++
		}

		queue := make([]uint32, 0, capacity)
		for i := uint32(0); i < capacity; i++ {
			if sets[i].count == 1 {
				queue = append(queue, i)
			}
		}

		stack := make([]keyIndex, 0, size)
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			if sets[idx].count != 1 {
				continue
			}
			hash := sets[idx].xormask
			h0, h1, h2 := f.hashes(hash)
			stack = append(stack, keyIndex{hash: hash, index: idx})
			for _, hx := range [3]uint32{h0, h1, h2} {
				sets[hx].xormask ^= hash
				sets[hx].count--
				if sets[hx].count == 1 {
					queue = append(queue, hx)
				}
			}
		}

		if len(stack) != size {
			seed = seed*2654435761 + 1
			continue
		}

		for i := len(stack) - 1; i >= 0; i-- {
			ki := stack[i]
			h0, h1, h2 := f.hashes(ki.hash)
			fp := fingerprint(ki.hash)
			f.Fingerprints[ki.index] = fp ^ f.Fingerprints[h0] ^ f.Fingerprints[h1] ^ f.Fingerprints[h2]
		}
		return f, nil
	}
	return nil, errors.New("xorfilter: failed to build filter after max attempts")
}

// dedupedSorted returns the distinct values of keys, sorted, mirroring
// surf's sortedDedup so Build never sees a repeated key.
func dedupedSorted(keys []uint64) []uint64 {
	out := append([]uint64(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	dedup := out[:0]
	for i, k := range out {
		if i == 0 || k != dedup[len(dedup)-1] {
			dedup = append(dedup, k)
		}
	}
	return dedup
}
