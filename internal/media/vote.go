package media

import (
	"sort"
	"strings"

	"github.com/yungbote/trace-backend/internal/domain"
)

// MinMatchingFrames is the vote count a channel needs before it counts as the visual origin.
const MinMatchingFrames = 2

const reasonNoVisualMajority = "no consistent visual origin found across frames"

type tally struct {
	channel string
	frames  int
	best    domain.OriginHit
}

// Vote combines per-frame hits by majority over channel id. A channel gets at most one vote per frame.
// Ties go to the higher best score, then to the smaller channel id.
func Vote(frames [][]domain.OriginHit) domain.VisualOrigin {
	byChannel := map[string]*tally{}
	for _, hits := range frames {
		voted := map[string]bool{}
		for _, h := range hits {
			ch := strings.TrimSpace(h.ChannelID)
			if ch == "" {
				continue
			}
			tl, ok := byChannel[ch]
			if !ok {
				tl = &tally{channel: ch, best: h}
				byChannel[ch] = tl
			} else if h.Score > tl.best.Score {
				tl.best = h
			}
			if !voted[ch] {
				voted[ch] = true
				tl.frames++
			}
		}
	}

	tallies := make([]*tally, 0, len(byChannel))
	for _, tl := range byChannel {
		tallies = append(tallies, tl)
	}
	sort.Slice(tallies, func(i, j int) bool {
		a, b := tallies[i], tallies[j]
		if a.frames != b.frames {
			return a.frames > b.frames
		}
		if a.best.Score != b.best.Score {
			return a.best.Score > b.best.Score
		}
		return a.channel < b.channel
	})

	if len(tallies) == 0 || tallies[0].frames < MinMatchingFrames {
		return domain.VisualOrigin{Origin: domain.NotFound(reasonNoVisualMajority)}
	}
	w := tallies[0]
	return domain.VisualOrigin{
		Origin:         domain.FoundOrigin(w.best),
		Confidence:     clamp01(w.best.Score),
		MatchingFrames: w.frames,
	}
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
