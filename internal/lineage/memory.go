package lineage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/trace-backend/internal/domain"
)

type edgeKey struct{ from, to string }

type memArtifact struct {
	id         string
	typ        domain.ContentType
	createdAt  time.Time
	assignment domain.OriginAssignment
	origins    map[domain.Component]string
}

// MemoryGraph is the in-process Graph used when NEO4J_URI is unset.
type MemoryGraph struct {
	mu        sync.RWMutex
	artifacts map[string]*memArtifact
	origins   map[string]*domain.OriginRecord
	edges     map[domain.Component]map[edgeKey]int
	now       func() time.Time
}

func NewMemoryGraph() *MemoryGraph {
	g := &MemoryGraph{
		artifacts: map[string]*memArtifact{},
		origins:   map[string]*domain.OriginRecord{},
		edges:     map[domain.Component]map[edgeKey]int{},
		now:       time.Now,
	}
	for _, c := range components {
		g.edges[c] = map[edgeKey]int{}
	}
	return g
}

func (g *MemoryGraph) SaveAssignment(_ context.Context, a domain.OriginAssignment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	art, ok := g.artifacts[a.ArtifactID]
	if !ok {
		created := a.CreatedAt
		if created.IsZero() {
			created = g.now()
		}
		art = &memArtifact{id: a.ArtifactID, createdAt: created}
		g.artifacts[a.ArtifactID] = art
	}
	art.typ = a.Type
	art.assignment = a
	art.origins = map[domain.Component]string{}
	for _, l := range links(a) {
		rec, ok := g.origins[l.Record.ID]
		if !ok {
			rec = &domain.OriginRecord{ID: l.Record.ID}
			g.origins[l.Record.ID] = rec
		}
		rec.URL, rec.Title, rec.ChannelID, rec.Timestamp = l.Record.URL, l.Record.Title, l.Record.ChannelID, l.Record.Timestamp
		art.origins[l.Component] = l.Record.ID
	}
	return nil
}

func (g *MemoryGraph) LoadAssignment(_ context.Context, artifactID string) (*domain.OriginAssignment, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	art, ok := g.artifacts[artifactID]
	if !ok {
		return nil, nil
	}
	a := art.assignment
	return &a, nil
}

// ordered reports whether x precedes y by creation time, then id.
func ordered(x, y *memArtifact) bool {
	if !x.createdAt.Equal(y.createdAt) {
		return x.createdAt.Before(y.createdAt)
	}
	return x.id < y.id
}

func (g *MemoryGraph) hasEdge(c domain.Component, a, b string) bool {
	_, fwd := g.edges[c][edgeKey{a, b}]
	_, back := g.edges[c][edgeKey{b, a}]
	return fwd || back
}

func (g *MemoryGraph) LinkSharedOrigins(_ context.Context, c domain.Component) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	byOrigin := map[string][]*memArtifact{}
	for _, art := range g.artifacts {
		if oid, ok := art.origins[c]; ok {
			byOrigin[oid] = append(byOrigin[oid], art)
		}
	}
	created := 0
	for _, group := range byOrigin {
		sort.Slice(group, func(i, j int) bool { return ordered(group[i], group[j]) })
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i].id, group[j].id
				if g.hasEdge(c, a, b) {
					continue
				}
				g.edges[c][edgeKey{a, b}] = 1
				created++
			}
		}
	}
	return created, nil
}

func (g *MemoryGraph) ExtendTransitive(_ context.Context) (int, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	plain := g.edges[domain.ComponentNone]
	out := map[string]map[string]int{}
	for k, hop := range plain {
		if out[k.from] == nil {
			out[k.from] = map[string]int{}
		}
		out[k.from][k.to] = hop
	}

	best := map[edgeKey]int{}
	for a, mids := range out {
		for b, h1 := range mids {
			for c, h2 := range out[b] {
				if a == c {
					continue
				}
				k := edgeKey{a, c}
				if cur, ok := best[k]; !ok || h1+h2 < cur {
					best[k] = h1 + h2
				}
			}
		}
	}

	created, shortened := 0, 0
	for k, via := range best {
		if hop, ok := plain[k]; ok {
			if via < hop {
				plain[k] = via
				shortened++
			}
			continue
		}
		if g.hasEdge(domain.ComponentNone, k.from, k.to) {
			continue
		}
		plain[k] = via
		created++
	}
	return created, shortened, nil
}

func (g *MemoryGraph) CountArtifacts(context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.artifacts), nil
}

func (g *MemoryGraph) RecomputeEngagement(context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	counts := map[string]map[string]struct{}{}
	for _, art := range g.artifacts {
		for _, oid := range art.origins {
			if counts[oid] == nil {
				counts[oid] = map[string]struct{}{}
			}
			counts[oid][art.id] = struct{}{}
		}
	}
	for oid, arts := range counts {
		rec := g.origins[oid]
		rec.SpreadCount = len(arts)
		rec.EngagementScore = EngagementBucket(len(arts))
	}
	return len(counts), nil
}

func (g *MemoryGraph) Spread(_ context.Context, artifactID string, c domain.Component, maxDepth, limit int) ([]domain.SpreadItem, error) {
	maxDepth = ClampDepth(maxDepth)
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := map[string]map[string]int{}
	for k, hop := range g.edges[c] {
		if out[k.from] == nil {
			out[k.from] = map[string]int{}
		}
		out[k.from][k.to] = hop
	}

	// Minimum hop sum over walks of at most maxDepth edges.
	best := map[string]int{}
	frontier := map[string]int{artifactID: 0}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := map[string]int{}
		for node, sum := range frontier {
			for to, hop := range out[node] {
				total := sum + hop
				if cur, ok := next[to]; !ok || total < cur {
					next[to] = total
				}
			}
		}
		for node, total := range next {
			if node == artifactID {
				continue
			}
			if cur, ok := best[node]; !ok || total < cur {
				best[node] = total
			}
		}
		frontier = next
	}

	items := make([]domain.SpreadItem, 0, len(best))
	for id, hops := range best {
		item := domain.SpreadItem{ArtifactID: id, HopCount: hops, Component: c}
		if art, ok := g.artifacts[id]; ok {
			item.ArtifactType = art.typ
			if oid, ok := art.origins[c]; ok {
				rec := *g.origins[oid]
				item.Origin = &rec
			}
		}
		items = append(items, item)
	}
	sortSpread(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (g *MemoryGraph) Summary(_ context.Context, artifactID string) (*Summary, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	art, ok := g.artifacts[artifactID]
	if !ok {
		return nil, nil
	}
	s := &Summary{ArtifactID: artifactID, Type: art.typ, IsComposite: art.assignment.IsComposite()}
	pick := func(c domain.Component) *domain.OriginRecord {
		oid, ok := art.origins[c]
		if !ok {
			return nil
		}
		rec := *g.origins[oid]
		return &rec
	}
	s.Origin = pick(domain.ComponentNone)
	s.AudioOrigin = pick(domain.ComponentAudio)
	s.VisualOrigin = pick(domain.ComponentVisual)
	return s, nil
}

// sortSpread orders by hop count, then origin timestamp with missing last, then id.
func sortSpread(items []domain.SpreadItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.HopCount != b.HopCount {
			return a.HopCount < b.HopCount
		}
		ta, tb := originTime(a), originTime(b)
		switch {
		case ta != nil && tb != nil && !ta.Equal(*tb):
			return ta.Before(*tb)
		case ta != nil && tb == nil:
			return true
		case ta == nil && tb != nil:
			return false
		}
		return a.ArtifactID < b.ArtifactID
	})
}

func originTime(it domain.SpreadItem) *time.Time {
	if it.Origin == nil {
		return nil
	}
	return it.Origin.Timestamp
}
