package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/trace-backend/internal/domain"
)

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestEarliestOriginsPerChannel(t *testing.T) {
	results := []domain.RankedResult{
		{Score: 0.9, Hit: domain.OriginHit{URL: "a1", ChannelID: "A", Timestamp: day("2023-02-01")}},
		{Score: 0.8, Hit: domain.OriginHit{URL: "a2", ChannelID: "A", Timestamp: day("2023-01-01")}},
		{Score: 0.7, Hit: domain.OriginHit{URL: "b1", ChannelID: "B", Timestamp: day("2023-03-01")}},
	}
	origins := EarliestOrigins(results)
	require.Len(t, origins, 2)
	assert.Equal(t, "A", origins[0].ChannelID)
	assert.Equal(t, "a2", origins[0].URL)
	assert.Equal(t, "B", origins[1].ChannelID)
}

func TestEarliestOriginsUntimestampedLastAndCapped(t *testing.T) {
	results := []domain.RankedResult{
		{Hit: domain.OriginHit{URL: "n", ChannelID: "N"}},
		{Hit: domain.OriginHit{URL: "c", ChannelID: "C", Timestamp: day("2022-05-01")}},
		{Hit: domain.OriginHit{URL: "d", ChannelID: "D", Timestamp: day("2021-05-01")}},
		{Hit: domain.OriginHit{URL: "e", ChannelID: "E", Timestamp: day("2020-05-01")}},
	}
	origins := EarliestOrigins(results)
	require.Len(t, origins, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{origins[0].URL, origins[1].URL, origins[2].URL})
}

func TestEarliestOriginsTieKeepsFirstOccurrence(t *testing.T) {
	results := []domain.RankedResult{
		{Hit: domain.OriginHit{URL: "first", ChannelID: "A", Timestamp: day("2023-01-01")}},
		{Hit: domain.OriginHit{URL: "second", ChannelID: "A", Timestamp: day("2023-01-01")}},
	}
	origins := EarliestOrigins(results)
	require.Len(t, origins, 1)
	assert.Equal(t, "first", origins[0].URL)
}

func TestMergeScoresAndTruncates(t *testing.T) {
	local := []domain.LocalHit{{ContentHash: "l", SourceURL: "l", Similarity: 0.8, EngagementScore: 1}}
	ext := make([]domain.ExternalHit, 0, 12)
	for i := 0; i < 12; i++ {
		ext = append(ext, domain.ExternalHit{URL: "e", RelevanceScore: 0.5, FreshnessScore: 0.5})
	}
	merged := Merge(Candidates(local, ext))
	require.Len(t, merged, 13)
	assert.Equal(t, domain.HitLocal, merged[0].Kind)
	assert.InDelta(t, 0.96, merged[0].Score, 1e-9)
	assert.InDelta(t, 0.5, merged[1].Score, 1e-9)

	top := Top(merged)
	require.Len(t, top, 10)
	assert.Equal(t, merged[:10], top)
}

func TestEarliestOriginsSkipsResultsWithoutChannel(t *testing.T) {
	results := []domain.RankedResult{
		{Score: 0.9, Hit: domain.OriginHit{URL: "orphan", Timestamp: day("2001-01-01")}},
		{Score: 0.8, Hit: domain.OriginHit{URL: "b1", ChannelID: "B", Timestamp: day("2023-03-01")}},
	}
	origins := EarliestOrigins(results)
	require.Len(t, origins, 1)
	assert.Equal(t, "b1", origins[0].URL)
}

func TestConfidenceMeanOfTopThree(t *testing.T) {
	results := []domain.RankedResult{{Score: 0.9}, {Score: 0.6}, {Score: 0.3}, {Score: 0.1}}
	assert.InDelta(t, 0.6, Confidence(results), 1e-9)
	assert.Equal(t, 0.0, Confidence(nil))
	assert.InDelta(t, 1.2, Confidence([]domain.RankedResult{{Score: 1.4}, {Score: 1.0}}), 1e-9)
}
