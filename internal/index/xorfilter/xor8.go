// Package xorfilter implements an XOR8 filter: a compact approximate
// membership structure with no false negatives and a false-positive rate
// around 1/256 (spec §4.4, §8.1 "XOR filter one-sided error"; GLOSSARY
// "XOR filter").
//
// No repository in the example pack (including other_examples/) vendors
// an XOR-filter or binary-fuse-filter library, so this is a direct,
// from-scratch implementation of the published construction (peeling a
// 3-partite hypergraph, then back-assigning XOR8 fingerprints), hashed
// with github.com/zeebo/xxh3 — the one piece of the pack's stack that
// actually fits fingerprinting (see DESIGN.md).
package xorfilter

import (
	"math/bits"

	"github.com/zeebo/xxh3"
)

// Filter is a built, queryable XOR8 filter over a fixed key set.
type Filter struct {
	Seed         uint64  `json:"seed"`
	BlockLength  uint32  `json:"block_length"`
	Fingerprints []uint8 `json:"fingerprints"`
}

const factor = 1.23

// Contains reports whether key is a member. False positives are possible
// (bounded ~1/256); false negatives never occur for keys present when
// Build ran (§8.1).
func (f *Filter) Contains(key uint64) bool {
	if f == nil || len(f.Fingerprints) == 0 {
		return false
	}
	h := mix(key, f.Seed)
	h0, h1, h2 := f.hashes(h)
	fp := fingerprint(h)
	return fp == f.Fingerprints[h0]^f.Fingerprints[h1]^f.Fingerprints[h2]
}

func (f *Filter) hashes(h uint64) (uint32, uint32, uint32) {
	bl := uint64(f.BlockLength)
	r0 := reduce(uint32(h), uint32(bl))
	r1 := reduce(uint32(bits.RotateLeft64(h, 21)), uint32(bl)) + uint32(bl)
	r2 := reduce(uint32(bits.RotateLeft64(h, 42)), uint32(bl)) + 2*uint32(bl)
	return r0, r1, r2
}

func reduce(hash uint32, n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return uint32((uint64(hash) * uint64(n)) >> 32)
}

func mix(key, seed uint64) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(key >> (8 * i))
	}
	return xxh3.HashSeed(buf[:], seed)
}

func fingerprint(h uint64) uint8 {
	return uint8(h ^ (h >> 32))
}

// HashKey canonicalizes a byte string into the uint64 key space the
// filter hashes over, so callers building a filter over Utf8/Binary
// scalar values don't need to manage a second hash themselves.
func HashKey(b []byte) uint64 {
	return xxh3.Hash(b)
}
