package media

import (
	"fmt"
	"time"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/platform/localmedia"
)

const (
	BranchAudio  = "audio"
	BranchVisual = "visual"
)

// BranchError is a failure local to one resolution branch. It is carried in the result, not returned.
type BranchError struct {
	Branch   string       `json:"branch"`
	Stage    domain.Stage `json:"stage"`
	Reason   string       `json:"reason"`
	TimedOut bool         `json:"timed_out,omitempty"`
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%s branch failed at %s: %s", e.Branch, e.Stage, e.Reason)
}

type VideoOrigins struct {
	Audio  domain.AudioOrigin  `json:"audio"`
	Visual domain.VisualOrigin `json:"visual"`
}

type BranchConfidence struct {
	Audio  float64 `json:"audio"`
	Visual float64 `json:"visual"`
}

type VideoResult struct {
	Hash        string               `json:"hash"`
	Metadata    *localmedia.Metadata `json:"metadata,omitempty"`
	Origins     VideoOrigins         `json:"origins"`
	IsComposite bool                 `json:"is_composite"`
	Confidence  BranchConfidence     `json:"confidence"`
	AudioError  *BranchError         `json:"audio_error,omitempty"`
	VisualError *BranchError         `json:"visual_error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Err is the first branch failure, or nil when both branches completed.
func (r *VideoResult) Err() error {
	switch {
	case r == nil:
		return nil
	case r.VisualError != nil:
		return r.VisualError
	case r.AudioError != nil:
		return r.AudioError
	default:
		return nil
	}
}

// Assignment is the lineage verdict for the video.
func (r *VideoResult) Assignment() domain.OriginAssignment {
	return domain.NewCompositeAssignment(r.Hash, r.Origins.Audio.Origin, r.Origins.Audio.Confidence, r.Origins.Visual)
}

// Combine joins the two branch outcomes. It has no side effects.
func Combine(hash string, meta *localmedia.Metadata, audio domain.AudioOrigin, audioErr *BranchError, visual domain.VisualOrigin, visualErr *BranchError, now time.Time) *VideoResult {
	if !audio.Origin.Found() {
		audio.Confidence = 0
	}
	if !visual.Origin.Found() {
		visual.Confidence = 0
		visual.MatchingFrames = 0
	}
	return &VideoResult{
		Hash:        hash,
		Metadata:    meta,
		Origins:     VideoOrigins{Audio: audio, Visual: visual},
		IsComposite: domain.IsComposite(audio.Origin, visual),
		Confidence:  BranchConfidence{Audio: clamp01(audio.Confidence), Visual: clamp01(visual.Confidence)},
		AudioError:  audioErr,
		VisualError: visualErr,
		CreatedAt:   now.UTC(),
	}
}
