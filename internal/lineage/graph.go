// Package lineage persists origin assignments and builds the spread graph between artifacts
// that share an origin.
package lineage

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/trace-backend/internal/domain"
)

// Graph is the store behind the engine. Neo4jGraph and MemoryGraph implement it.
type Graph interface {
	// SaveAssignment replaces the artifact's origin relationships with those of a.
	SaveAssignment(ctx context.Context, a domain.OriginAssignment) error
	// LoadAssignment returns nil, nil when the artifact is unknown.
	LoadAssignment(ctx context.Context, artifactID string) (*domain.OriginAssignment, error)
	// LinkSharedOrigins creates hop 1 spread edges between artifacts sharing an origin
	// for one component and returns the number created.
	LinkSharedOrigins(ctx context.Context, c domain.Component) (int, error)
	// ExtendTransitive runs one level of closure over plain spread edges.
	ExtendTransitive(ctx context.Context) (created int, shortened int, err error)
	CountArtifacts(ctx context.Context) (int, error)
	// RecomputeEngagement refreshes spread_count and engagement_score on every origin.
	RecomputeEngagement(ctx context.Context) (int, error)
	// Spread returns artifacts reachable from artifactID over at most maxDepth edges.
	Spread(ctx context.Context, artifactID string, c domain.Component, maxDepth, limit int) ([]domain.SpreadItem, error)
	// Summary returns nil, nil when the artifact is unknown.
	Summary(ctx context.Context, artifactID string) (*Summary, error)
}

type Summary struct {
	ArtifactID   string
	Type         domain.ContentType
	IsComposite  bool
	Origin       *domain.OriginRecord
	AudioOrigin  *domain.OriginRecord
	VisualOrigin *domain.OriginRecord
}

// Relationship types, by component.
var (
	originRel = map[domain.Component]string{
		domain.ComponentNone:   "ORIGINATED_FROM",
		domain.ComponentAudio:  "AUDIO_FROM",
		domain.ComponentVisual: "VISUAL_FROM",
	}
	spreadRel = map[domain.Component]string{
		domain.ComponentNone:   "SPREAD_TO",
		domain.ComponentAudio:  "AUDIO_SPREAD_TO",
		domain.ComponentVisual: "VISUAL_SPREAD_TO",
	}
	components = []domain.Component{domain.ComponentNone, domain.ComponentAudio, domain.ComponentVisual}
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// EngagementBucket maps a spread count to its discrete engagement tier.
func EngagementBucket(spreadCount int) int {
	switch {
	case spreadCount > 100:
		return 5
	case spreadCount > 50:
		return 4
	case spreadCount > 20:
		return 3
	case spreadCount > 5:
		return 2
	default:
		return 1
	}
}

// OriginID is the content hash of the hit, else a name-based uuid of its normalized URL.
func OriginID(h domain.OriginHit) string {
	if id := strings.TrimSpace(h.ContentHash); id != "" {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(normalizeURL(h.URL))).String()
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

type originLink struct {
	Component      domain.Component
	Record         domain.OriginRecord
	Confidence     float64
	MatchingFrames int
}

// links lists the found origins of an assignment with their component.
func links(a domain.OriginAssignment) []originLink {
	var out []originLink
	add := func(c domain.Component, o domain.Origin, conf float64, frames int) {
		h, ok := o.Hit()
		if !ok {
			return
		}
		rec := domain.OriginRecord{ID: OriginID(h), URL: h.URL, Title: h.Title, ChannelID: h.ChannelID, Timestamp: h.Timestamp}
		out = append(out, originLink{Component: c, Record: rec, Confidence: conf, MatchingFrames: frames})
	}
	switch {
	case a.Simple != nil:
		add(domain.ComponentNone, a.Simple.Origin, a.Simple.Confidence, 0)
	case a.Composite != nil:
		add(domain.ComponentAudio, a.Composite.Audio, a.Composite.AudioConfidence, 0)
		add(domain.ComponentVisual, a.Composite.Visual.Origin, a.Composite.VisualConfidence, a.Composite.Visual.MatchingFrames)
	}
	return out
}

func ClampDepth(d int) int {
	switch {
	case d < 1:
		return 1
	case d > 5:
		return 5
	default:
		return d
	}
}
