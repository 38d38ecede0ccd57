package lineage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/fingerprint"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

const (
	spreadLimit    = 100
	componentLimit = 50
)

type Engine struct {
	log   *logger.Logger
	graph Graph
	cache cache.Cache
	now   func() time.Time
}

func NewEngine(log *logger.Logger, graph Graph, c cache.Cache) *Engine {
	return &Engine{log: log.With("service", "LineageEngine"), graph: graph, cache: c, now: time.Now}
}

// StoreAck reports which stores accepted the assignment.
type StoreAck struct {
	ArtifactID  string `json:"artifact_id"`
	CacheStored bool   `json:"cache_stored"`
	GraphStored bool   `json:"graph_stored"`
	Error       string `json:"error,omitempty"`
}

// StoreOrigin upserts the assignment for artifactID. Last write wins.
// It fails only when neither the cache nor the graph accepted the write.
func (e *Engine) StoreOrigin(ctx context.Context, artifactID string, t domain.ContentType, a domain.OriginAssignment) (StoreAck, error) {
	artifactID = strings.TrimSpace(artifactID)
	if artifactID == "" {
		return StoreAck{}, fmt.Errorf("lineage: artifact id required")
	}
	a.ArtifactID = artifactID
	a.Type = t
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.now().UTC()
	}
	ack := StoreAck{ArtifactID: artifactID}
	var errs []error

	if err := cache.SetJSON(ctx, e.cache, lineageKey(artifactID), a, cache.TTLLineage); err != nil {
		e.log.Warn("lineage cache write failed", "artifact_id", artifactID, "error", err)
		errs = append(errs, err)
	} else {
		ack.CacheStored = true
	}
	if err := e.graph.SaveAssignment(ctx, a); err != nil {
		e.log.Error("lineage graph write failed", "artifact_id", artifactID, "error", err)
		errs = append(errs, err)
	} else {
		ack.GraphStored = true
	}
	if len(errs) > 0 {
		ack.Error = errors.Join(errs...).Error()
	}
	if !ack.CacheStored && !ack.GraphStored {
		return ack, fmt.Errorf("lineage: store origin %s: %w", artifactID, errors.Join(errs...))
	}
	return ack, nil
}

// GetOrigin reads the cache, then the graph, re-caching graph hits for a day.
func (e *Engine) GetOrigin(ctx context.Context, artifactID string) (*domain.OriginAssignment, error) {
	key := lineageKey(artifactID)
	cached, ok, err := cache.GetJSON[domain.OriginAssignment](ctx, e.cache, key)
	if err != nil {
		e.log.Warn("lineage cache read failed", "artifact_id", artifactID, "error", err)
	}
	if ok {
		return &cached, nil
	}
	a, err := e.graph.LoadAssignment(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.ErrNotFound
	}
	if err := cache.SetJSON(ctx, e.cache, key, a, cache.TTLRecache); err != nil {
		e.log.Warn("lineage re-cache failed", "artifact_id", artifactID, "error", err)
	}
	return a, nil
}

// BuildSpreadGraph runs the batch steps in order. A failing step is recorded in the stats
// and the remaining steps still run.
func (e *Engine) BuildSpreadGraph(ctx context.Context) domain.BuildStats {
	stats := domain.BuildStats{StartedAt: e.now().UTC()}
	var errs []string
	fail := func(step string, err error) {
		e.log.Error("spread graph step failed", "step", step, "error", err)
		errs = append(errs, step+": "+err.Error())
	}

	direct := map[domain.Component]*int{
		domain.ComponentNone:   &stats.DirectCreated,
		domain.ComponentAudio:  &stats.AudioCreated,
		domain.ComponentVisual: &stats.VisualCreated,
	}
	for _, c := range components {
		n, err := e.graph.LinkSharedOrigins(ctx, c)
		if err != nil {
			fail("link_"+componentName(c), err)
			continue
		}
		*direct[c] = n
		observability.Current().AddSpreadEdges(componentName(c), n)
	}

	if n, err := e.graph.CountArtifacts(ctx); err != nil {
		fail("count_artifacts", err)
	} else {
		stats.ArtifactsProcessed = n
	}

	created, shortened, err := e.graph.ExtendTransitive(ctx)
	stats.TransitiveCreated = created
	stats.HopsShortened = shortened
	if err != nil {
		fail("transitive", err)
	}
	observability.Current().AddSpreadEdges("transitive", created)

	if n, err := e.graph.RecomputeEngagement(ctx); err != nil {
		fail("engagement", err)
	} else {
		stats.OriginsUpdated = n
	}

	stats.RelationshipsCreated = stats.DirectCreated + stats.AudioCreated + stats.VisualCreated + stats.TransitiveCreated
	stats.FinishedAt = e.now().UTC()
	switch {
	case len(errs) == 0:
		stats.Status = "success"
	case len(errs) == len(components)+3:
		stats.Status = "error"
	default:
		stats.Status = "partial"
	}
	stats.Error = strings.Join(errs, "; ")
	e.log.Info("spread graph built",
		"status", stats.Status,
		"relationships_created", stats.RelationshipsCreated,
		"artifacts_processed", stats.ArtifactsProcessed,
		"origins_updated", stats.OriginsUpdated,
	)
	return stats
}

// GetSpreadView traverses outgoing spread edges up to depth hops, clamped to [1,5].
func (e *Engine) GetSpreadView(ctx context.Context, artifactID string, depth int) (*domain.SpreadView, error) {
	depth = ClampDepth(depth)
	sum, err := e.graph.Summary(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, domain.ErrNotFound
	}
	view := &domain.SpreadView{
		ArtifactID:   artifactID,
		IsComposite:  sum.IsComposite,
		Origin:       sum.Origin,
		AudioOrigin:  sum.AudioOrigin,
		VisualOrigin: sum.VisualOrigin,
		MaxDepth:     depth,
	}
	if view.Items, err = e.graph.Spread(ctx, artifactID, domain.ComponentNone, depth, spreadLimit); err != nil {
		return nil, err
	}
	if sum.IsComposite || sum.Type == domain.ContentVideo {
		if view.AudioItems, err = e.graph.Spread(ctx, artifactID, domain.ComponentAudio, depth, componentLimit); err != nil {
			return nil, err
		}
		if view.VisualItems, err = e.graph.Spread(ctx, artifactID, domain.ComponentVisual, depth, componentLimit); err != nil {
			return nil, err
		}
	}
	if view.Items == nil {
		view.Items = []domain.SpreadItem{}
	}
	view.TotalItems = len(view.Items) + len(view.AudioItems) + len(view.VisualItems)
	return view, nil
}

func lineageKey(id string) string {
	return fingerprint.Key("lineage", id)
}

func componentName(c domain.Component) string {
	if c == domain.ComponentNone {
		return "direct"
	}
	return string(c)
}
