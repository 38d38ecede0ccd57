package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hitOn(channel string) OriginHit {
	return OriginHit{URL: "https://" + channel + ".example/x", ChannelID: channel, Score: 0.9, Provenance: ProvenanceFrameIndex}
}

func TestOriginJSONFoundCarriesHit(t *testing.T) {
	raw, err := json.Marshal(FoundOrigin(hitOn("a")))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, true, decoded["found"])
	assert.NotNil(t, decoded["hit"])

	var back Origin
	require.NoError(t, json.Unmarshal(raw, &back))
	h, ok := back.Hit()
	require.True(t, ok)
	assert.Equal(t, "a", h.ChannelID)
}

func TestOriginJSONRejectsFoundWithoutHit(t *testing.T) {
	var o Origin
	assert.Error(t, json.Unmarshal([]byte(`{"found":true}`), &o))
}

func TestNotFoundOrigin(t *testing.T) {
	o := NotFound("no audio track")
	assert.False(t, o.Found())
	assert.Equal(t, "", o.ChannelID())
	assert.Equal(t, "no audio track", o.Reason())
}

func TestIsCompositeTrueForDifferentChannels(t *testing.T) {
	visual := VisualOrigin{Origin: FoundOrigin(hitOn("B")), Confidence: 0.9, MatchingFrames: 3}
	assert.True(t, IsComposite(FoundOrigin(hitOn("A")), visual))
}

func TestIsCompositeFalseForSameChannel(t *testing.T) {
	visual := VisualOrigin{Origin: FoundOrigin(hitOn("A")), MatchingFrames: 3}
	assert.False(t, IsComposite(FoundOrigin(hitOn("A")), visual))
}

func TestIsCompositeFalseForSingleMatchingFrame(t *testing.T) {
	visual := VisualOrigin{Origin: FoundOrigin(hitOn("B")), MatchingFrames: 1}
	assert.False(t, IsComposite(FoundOrigin(hitOn("A")), visual))
}

func TestIsCompositeFalseWhenEitherNotFound(t *testing.T) {
	visual := VisualOrigin{Origin: FoundOrigin(hitOn("B")), MatchingFrames: 3}
	assert.False(t, IsComposite(NotFound("none"), visual))
	assert.False(t, IsComposite(FoundOrigin(hitOn("A")), VisualOrigin{Origin: NotFound("none")}))
}

func TestIsCompositeFalseForMissingChannel(t *testing.T) {
	visual := VisualOrigin{Origin: FoundOrigin(hitOn("B")), MatchingFrames: 3}
	assert.False(t, IsComposite(FoundOrigin(OriginHit{URL: "https://x"}), visual))
	noChan := VisualOrigin{Origin: FoundOrigin(OriginHit{URL: "https://y"}), MatchingFrames: 3}
	assert.False(t, IsComposite(FoundOrigin(hitOn("A")), noChan))
}

func TestOriginHitBeforeSortsUntimestampedLast(t *testing.T) {
	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	with := OriginHit{Timestamp: &ts}
	without := OriginHit{}
	assert.True(t, with.Before(without))
	assert.False(t, without.Before(with))
}
