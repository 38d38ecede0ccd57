package search

import (
	"sort"
	"strings"

	"github.com/yungbote/trace-backend/internal/domain"
)

const (
	maxRanked      = 10
	maxOrigins     = 3
	confidenceTopN = 3
)

func localScore(h domain.LocalHit) float64 {
	return h.Similarity * (1 + 0.2*h.EngagementScore)
}

func externalScore(h domain.ExternalHit) float64 {
	return 0.6*h.RelevanceScore + 0.4*h.FreshnessScore
}

// Candidates collects both sources, locals first.
func Candidates(local []domain.LocalHit, external []domain.ExternalHit) []domain.Hit {
	out := make([]domain.Hit, 0, len(local)+len(external))
	for _, h := range local {
		out = append(out, h)
	}
	for _, h := range external {
		out = append(out, h)
	}
	return out
}

// Merge scores every hit and sorts descending. Equal scores keep input order.
func Merge(hits []domain.Hit) []domain.RankedResult {
	out := make([]domain.RankedResult, 0, len(hits))
	for _, hit := range hits {
		switch h := hit.(type) {
		case domain.LocalHit:
			out = append(out, domain.RankedResult{
				Kind:    domain.HitLocal,
				Score:   localScore(h),
				Hit:     h.Origin(),
				Snippet: snippet(h.RawText),
			})
		case domain.ExternalHit:
			out = append(out, domain.RankedResult{
				Kind:    domain.HitExternal,
				Score:   externalScore(h),
				Hit:     h.Origin(),
				Snippet: snippet(h.Snippet),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Top returns at most the first ten merged results.
func Top(merged []domain.RankedResult) []domain.RankedResult {
	if len(merged) > maxRanked {
		return merged[:maxRanked]
	}
	return merged
}

// EarliestOrigins keeps the earliest result per channel, then orders channels by timestamp
// with untimestamped entries last. Results without a channel are skipped.
func EarliestOrigins(results []domain.RankedResult) []domain.OriginHit {
	index := map[string]int{}
	var picked []domain.OriginHit
	for _, r := range results {
		key := strings.TrimSpace(r.Hit.ChannelID)
		if key == "" {
			continue
		}
		i, seen := index[key]
		if !seen {
			index[key] = len(picked)
			picked = append(picked, r.Hit)
			continue
		}
		if r.Hit.Before(picked[i]) {
			picked[i] = r.Hit
		}
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].Before(picked[j]) })
	if len(picked) > maxOrigins {
		picked = picked[:maxOrigins]
	}
	return picked
}

// Confidence is the mean of the top three merged scores.
func Confidence(results []domain.RankedResult) float64 {
	n := len(results)
	if n > confidenceTopN {
		n = confidenceTopN
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, r := range results[:n] {
		sum += r.Score
	}
	return sum / float64(n)
}

func snippet(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > 280 {
		return string(r[:280])
	}
	return string(r)
}
