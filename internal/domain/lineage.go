package domain

import "time"

type Component string

const (
	ComponentNone   Component = ""
	ComponentAudio  Component = "audio"
	ComponentVisual Component = "visual"
)

type OriginRecord struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	Title           string     `json:"title,omitempty"`
	ChannelID       string     `json:"channel_id,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	SpreadCount     int        `json:"spread_count"`
	EngagementScore int        `json:"engagement_score"`
}

type SpreadItem struct {
	ArtifactID   string        `json:"artifact_id"`
	ArtifactType ContentType   `json:"artifact_type"`
	HopCount     int           `json:"hop_count"`
	Component    Component     `json:"component,omitempty"`
	Origin       *OriginRecord `json:"origin,omitempty"`
}

type SpreadView struct {
	ArtifactID   string        `json:"artifact_id"`
	IsComposite  bool          `json:"is_composite"`
	Origin       *OriginRecord `json:"origin,omitempty"`
	AudioOrigin  *OriginRecord `json:"audio_origin,omitempty"`
	VisualOrigin *OriginRecord `json:"visual_origin,omitempty"`
	MaxDepth     int           `json:"max_depth"`
	Items        []SpreadItem  `json:"spread_items"`
	AudioItems   []SpreadItem  `json:"audio_spread_items,omitempty"`
	VisualItems  []SpreadItem  `json:"visual_spread_items,omitempty"`
	TotalItems   int           `json:"total_items"`
}

// BuildStats reports one spread-graph batch run. Error is set on partial success.
type BuildStats struct {
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	Status               string    `json:"status"`
	DirectCreated        int       `json:"direct_relationships"`
	AudioCreated         int       `json:"audio_relationships"`
	VisualCreated        int       `json:"visual_relationships"`
	TransitiveCreated    int       `json:"multi_hop_relationships"`
	HopsShortened        int       `json:"hops_shortened"`
	RelationshipsCreated int       `json:"relationships_created"`
	ArtifactsProcessed   int       `json:"artifacts_processed"`
	OriginsUpdated       int       `json:"origins_updated"`
	Error                string    `json:"error,omitempty"`
}
