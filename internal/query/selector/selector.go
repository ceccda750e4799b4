// Package selector implements the zone selector (§4.8, component I): for
// each filter, compute candidate zones per segment using the strategy the
// planner chose, then combine them bottom-up through the filter tree.
package selector

import (
	"context"
	"sort"

	"sneldb/internal/common"
	"sneldb/internal/index/surf"
	"sneldb/internal/index/xorfilter"
	"sneldb/internal/query/filter"
	"sneldb/internal/query/planner"
	"sneldb/internal/segment"
	"sneldb/internal/storage/block"
)

// IndexCache is the slice of the shard's cache bundle zone selection pulls
// its index structures through (§4.9, §5): LRU + singleflight lookups for
// the zone index, catalog, SuRF, and XOR files. cache.Handles satisfies
// it; a nil IndexCache makes the selector read cold, which tests and
// one-shot tools rely on.
type IndexCache interface {
	GetZoneIndex(ctx context.Context, dir string, uid common.UID) (*segment.ZoneIndex, error)
	GetCatalog(ctx context.Context, dir string, uid common.UID) (*segment.Catalog, error)
	GetZoneSurf(ctx context.Context, dir string, uid common.UID, field string) (*surf.ZoneFilter, error)
	GetZoneXor(ctx context.Context, dir string, uid common.UID, field string) (*xorfilter.ZoneFilter, error)
}

// Segment is one segment directory's index data, lazily loaded and held
// for the lifetime of one query's zone selection (§4.8). With an
// IndexCache attached the loads come from the shard's shared LRU caches;
// either way each file is consulted at most once per query.
type Segment struct {
	ID      common.SegmentID
	Storage block.Storage
	Dir     string
	UID     common.UID
	Cache   IndexCache

	zoneIndex *segment.ZoneIndex
	catalog   *segment.Catalog
	surfCache map[string]*surf.ZoneFilter
	xorCache  map[string]*xorfilter.ZoneFilter
}

// NewSegment opens a segment source for zone selection against uid's data
// in dir.
func NewSegment(id common.SegmentID, storage block.Storage, dir string, uid common.UID) *Segment {
	return &Segment{
		ID:        id,
		Storage:   storage,
		Dir:       dir,
		UID:       uid,
		surfCache: make(map[string]*surf.ZoneFilter),
		xorCache:  make(map[string]*xorfilter.ZoneFilter),
	}
}

// WithCache routes this segment's index loads through c.
func (s *Segment) WithCache(c IndexCache) *Segment {
	s.Cache = c
	return s
}

func (s *Segment) loadZoneIndex(ctx context.Context) (*segment.ZoneIndex, error) {
	if s.zoneIndex != nil {
		return s.zoneIndex, nil
	}
	var zi *segment.ZoneIndex
	var err error
	if s.Cache != nil {
		zi, err = s.Cache.GetZoneIndex(ctx, s.Dir, s.UID)
	} else {
		zi, err = segment.ReadZoneIndex(ctx, s.Storage, s.Dir, s.UID)
	}
	if err != nil {
		return nil, err
	}
	s.zoneIndex = zi
	return zi, nil
}

func (s *Segment) loadCatalog(ctx context.Context) (*segment.Catalog, error) {
	if s.catalog != nil {
		return s.catalog, nil
	}
	var cat *segment.Catalog
	var err error
	if s.Cache != nil {
		cat, err = s.Cache.GetCatalog(ctx, s.Dir, s.UID)
	} else {
		cat, err = segment.ReadCatalog(ctx, s.Storage, s.Dir, s.UID)
	}
	if err != nil {
		return nil, err
	}
	s.catalog = cat
	return cat, nil
}

func (s *Segment) loadSurf(ctx context.Context, field string) (*surf.ZoneFilter, error) {
	if f, ok := s.surfCache[field]; ok {
		return f, nil
	}
	var f *surf.ZoneFilter
	var err error
	if s.Cache != nil {
		f, err = s.Cache.GetZoneSurf(ctx, s.Dir, s.UID, field)
	} else {
		f, err = segment.ReadSurfFilter(ctx, s.Storage, s.Dir, s.UID, field)
	}
	if err != nil {
		return nil, err
	}
	s.surfCache[field] = f
	return f, nil
}

func (s *Segment) loadXor(ctx context.Context, field string) (*xorfilter.ZoneFilter, error) {
	if f, ok := s.xorCache[field]; ok {
		return f, nil
	}
	var f *xorfilter.ZoneFilter
	var err error
	if s.Cache != nil {
		f, err = s.Cache.GetZoneXor(ctx, s.Dir, s.UID, field)
	} else {
		f, err = segment.ReadXorFilter(ctx, s.Storage, s.Dir, s.UID, field)
	}
	if err != nil {
		return nil, err
	}
	s.xorCache[field] = f
	return f, nil
}

// Catalog exposes the segment's index catalog, for the planner to consult
// before calling Evaluate.
func (s *Segment) Catalog(ctx context.Context) (*segment.Catalog, error) {
	return s.loadCatalog(ctx)
}

// AllZones returns every zone id in this segment for uid, used for Scan
// fallback and Not's base set (§4.8).
func (s *Segment) AllZones(ctx context.Context) ([]uint32, error) {
	zi, err := s.loadZoneIndex(ctx)
	if err != nil {
		return nil, err
	}
	return zi.AllZones(), nil
}

// candidates computes the zone ids one leaf filter selects, using its
// planner-assigned IndexStrategy (§4.7, §4.8).
func (s *Segment) candidates(ctx context.Context, g *filter.Group) ([]uint32, error) {
	if !g.HasValue {
		return s.AllZones(ctx)
	}

	switch planner.Strategy(g.IndexStrategy) {
	case planner.StrategyZoneIndex:
		zi, err := s.loadZoneIndex(ctx)
		if err != nil {
			return nil, err
		}
		return zoneIndexCandidates(zi, g), nil

	case planner.StrategyZoneXor:
		enc, ok := surf.Encode(g.Value)
		if !ok {
			return s.AllZones(ctx)
		}
		xf, err := s.loadXor(ctx, g.Column)
		if err != nil {
			// Strategies are planned once per query against one segment's
			// catalog; another segment in the same set may never have built
			// this filter (the field was absent from its data). Falling back
			// to the full zone set keeps selection sound (§8.1).
			if block.IsNotFound(err) {
				return s.AllZones(ctx)
			}
			return nil, err
		}
		return xf.ZonesContaining(enc), nil

	case planner.StrategyZoneSurf:
		enc, ok := surf.Encode(g.Value)
		if !ok {
			return s.AllZones(ctx)
		}
		sf, err := s.loadSurf(ctx, g.Column)
		if err != nil {
			if block.IsNotFound(err) {
				return s.AllZones(ctx)
			}
			return nil, err
		}
		return surfCandidates(sf, g, enc), nil

	default: // Scan
		return s.AllZones(ctx)
	}
}

func zoneIndexCandidates(zi *segment.ZoneIndex, g *filter.Group) []uint32 {
	switch g.Operation {
	case filter.OpEq, filter.OpIn:
		ge := zi.OverlappingGE(g.Column, g.Value, true)
		le := zi.OverlappingLE(g.Column, g.Value, true)
		return intersect(ge, le)
	case filter.OpGt:
		return zi.OverlappingGE(g.Column, g.Value, false)
	case filter.OpGte:
		return zi.OverlappingGE(g.Column, g.Value, true)
	case filter.OpLt:
		return zi.OverlappingLE(g.Column, g.Value, false)
	case filter.OpLte:
		return zi.OverlappingLE(g.Column, g.Value, true)
	default:
		return zi.AllZones()
	}
}

func surfCandidates(sf *surf.ZoneFilter, g *filter.Group, enc []byte) []uint32 {
	switch g.Operation {
	case filter.OpEq:
		return sf.ZonesContaining(enc)
	case filter.OpGt:
		return sf.ZonesOverlappingGE(enc, false)
	case filter.OpGte:
		return sf.ZonesOverlappingGE(enc, true)
	case filter.OpLt:
		return sf.ZonesOverlappingLE(enc, false)
	case filter.OpLte:
		return sf.ZonesOverlappingLE(enc, true)
	default:
		var all []uint32
		for _, e := range sf.Entries {
			all = append(all, e.ZoneID)
		}
		return all
	}
}

// Evaluate walks tree bottom-up over this segment, combining zone sets per
// §4.8: And intersects, Or unions, Not subtracts from the full zone set.
// Each unique filter key is evaluated at most once, cached across the
// whole tree traversal.
func (s *Segment) Evaluate(ctx context.Context, tree *filter.Group) ([]uint32, error) {
	cache := make(map[string][]uint32)
	return s.evalNode(ctx, tree, cache)
}

func (s *Segment) evalNode(ctx context.Context, g *filter.Group, cache map[string][]uint32) ([]uint32, error) {
	switch g.Kind {
	case filter.KindFilter:
		key := g.Key()
		if zs, ok := cache[key]; ok {
			return zs, nil
		}
		zs, err := s.candidates(ctx, g)
		if err != nil {
			return nil, err
		}
		cache[key] = zs
		return zs, nil

	case filter.KindAnd:
		result, err := s.evalNode(ctx, g.Children[0], cache)
		if err != nil {
			return nil, err
		}
		for _, c := range g.Children[1:] {
			zs, err := s.evalNode(ctx, c, cache)
			if err != nil {
				return nil, err
			}
			result = intersect(result, zs)
		}
		return result, nil

	case filter.KindOr:
		var result []uint32
		for _, c := range g.Children {
			zs, err := s.evalNode(ctx, c, cache)
			if err != nil {
				return nil, err
			}
			result = union(result, zs)
		}
		return result, nil

	case filter.KindNot:
		sub, err := s.evalNode(ctx, g.Children[0], cache)
		if err != nil {
			return nil, err
		}
		all, err := s.AllZones(ctx)
		if err != nil {
			return nil, err
		}
		return subtract(all, sub), nil

	default:
		return nil, nil
	}
}

// CandidateZones runs Evaluate against every segment in segments and
// returns the resulting (segment_id, zone_id) pairs, deduplicated by
// construction since each segment's own zone set has no duplicates.
func CandidateZones(ctx context.Context, segments []*Segment, tree *filter.Group) ([]segment.CandidateZone, error) {
	var out []segment.CandidateZone
	for _, seg := range segments {
		zones, err := seg.Evaluate(ctx, tree)
		if err != nil {
			return nil, err
		}
		for _, z := range zones {
			out = append(out, segment.CandidateZone{SegmentID: seg.ID, ZoneID: z})
		}
	}
	return out, nil
}

func intersect(a, b []uint32) []uint32 {
	set := make(map[uint32]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []uint32
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func union(a, b []uint32) []uint32 {
	set := make(map[uint32]bool, len(a)+len(b))
	var out []uint32
	for _, v := range a {
		if !set[v] {
			set[v] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		if !set[v] {
			set[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func subtract(all, sub []uint32) []uint32 {
	set := make(map[uint32]bool, len(sub))
	for _, v := range sub {
		set[v] = true
	}
	var out []uint32
	for _, v := range all {
		if !set[v] {
			out = append(out, v)
		}
	}
	return out
}
