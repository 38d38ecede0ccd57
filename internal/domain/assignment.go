package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// IsComposite reports whether audio and visual origins come from different channels.
func IsComposite(audio Origin, visual VisualOrigin) bool {
	a, okA := audio.Hit()
	v, okV := visual.Origin.Hit()
	if !okA || !okV {
		return false
	}
	if a.ChannelID == "" || v.ChannelID == "" {
		return false
	}
	return a.ChannelID != v.ChannelID && visual.MatchingFrames >= 2
}

type SimpleAssignment struct {
	Origin     Origin  `json:"origin"`
	Confidence float64 `json:"confidence"`
}

// CompositeAssignment holds both components of a video.
// IsComposite is derived and cannot be set directly.
type CompositeAssignment struct {
	Audio            Origin       `json:"audio_origin"`
	Visual           VisualOrigin `json:"visual_origin"`
	AudioConfidence  float64      `json:"audio_confidence"`
	VisualConfidence float64      `json:"visual_confidence"`
	isComposite      bool
}

func (c CompositeAssignment) IsComposite() bool { return c.isComposite }

// OriginAssignment is the durable verdict for one artifact.
type OriginAssignment struct {
	ArtifactID string               `json:"artifact_id"`
	Type       ContentType          `json:"type"`
	Simple     *SimpleAssignment    `json:"simple,omitempty"`
	Composite  *CompositeAssignment `json:"composite,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

func NewSimpleAssignment(artifactID string, t ContentType, origin Origin, confidence float64) OriginAssignment {
	if !origin.Found() {
		confidence = 0
	}
	return OriginAssignment{
		ArtifactID: artifactID,
		Type:       t,
		Simple:     &SimpleAssignment{Origin: origin, Confidence: clamp01(confidence)},
		CreatedAt:  time.Now().UTC(),
	}
}

func NewCompositeAssignment(artifactID string, audio Origin, audioConfidence float64, visual VisualOrigin) OriginAssignment {
	return OriginAssignment{
		ArtifactID: artifactID,
		Type:       ContentVideo,
		Composite: &CompositeAssignment{
			Audio:            audio,
			Visual:           visual,
			AudioConfidence:  clamp01(audioConfidence),
			VisualConfidence: clamp01(visual.Confidence),
			isComposite:      IsComposite(audio, visual),
		},
		CreatedAt: time.Now().UTC(),
	}
}

func (a OriginAssignment) Found() bool {
	switch {
	case a.Simple != nil:
		return a.Simple.Origin.Found()
	case a.Composite != nil:
		return a.Composite.Audio.Found() || a.Composite.Visual.Origin.Found()
	default:
		return false
	}
}

func (a OriginAssignment) IsComposite() bool {
	return a.Composite != nil && a.Composite.isComposite
}

// Confidence is the simple confidence, or the stronger component for video.
func (a OriginAssignment) Confidence() float64 {
	switch {
	case a.Simple != nil:
		return a.Simple.Confidence
	case a.Composite != nil:
		if a.Composite.AudioConfidence > a.Composite.VisualConfidence {
			return a.Composite.AudioConfidence
		}
		return a.Composite.VisualConfidence
	default:
		return 0
	}
}

type assignmentJSON struct {
	ArtifactID  string               `json:"artifact_id"`
	Type        ContentType          `json:"type"`
	Found       bool                 `json:"found"`
	Confidence  float64              `json:"confidence"`
	IsComposite bool                 `json:"is_composite"`
	Simple      *SimpleAssignment    `json:"simple,omitempty"`
	Composite   *CompositeAssignment `json:"composite,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func (a OriginAssignment) MarshalJSON() ([]byte, error) {
	return json.Marshal(assignmentJSON{
		ArtifactID:  a.ArtifactID,
		Type:        a.Type,
		Found:       a.Found(),
		Confidence:  a.Confidence(),
		IsComposite: a.IsComposite(),
		Simple:      a.Simple,
		Composite:   a.Composite,
		CreatedAt:   a.CreatedAt,
	})
}

func (a *OriginAssignment) UnmarshalJSON(b []byte) error {
	var raw assignmentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if (raw.Simple == nil) == (raw.Composite == nil) {
		return fmt.Errorf("assignment: exactly one of simple or composite required")
	}
	*a = OriginAssignment{ArtifactID: raw.ArtifactID, Type: raw.Type, Simple: raw.Simple, CreatedAt: raw.CreatedAt}
	if raw.Composite != nil {
		c := *raw.Composite
		c.isComposite = IsComposite(c.Audio, c.Visual)
		a.Composite = &c
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
