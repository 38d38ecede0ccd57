package gcp

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

const (
	fullMatchScore    = 0.95
	partialMatchScore = 0.75
)

// Vision resolves reverse-image matches through WEB_DETECTION.
type Vision struct {
	log        *logger.Logger
	client     *vision.ImageAnnotatorClient
	maxResults int32
}

// NewVisionFromEnv returns (nil, nil) unless GCP_VISION_ENABLED is true.
func NewVisionFromEnv(log *logger.Logger) (*Vision, error) {
	if !envutil.Bool("GCP_VISION_ENABLED", false) {
		return nil, nil
	}
	c, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &Vision{
		log:        log.With("service", "gcp.Vision"),
		client:     c,
		maxResults: int32(envutil.Int("GCP_VISION_MAX_RESULTS", 20)),
	}, nil
}

func (v *Vision) Close() error {
	if v == nil || v.client == nil {
		return nil
	}
	return v.client.Close()
}

func (v *Vision) Match(ctx context.Context, img []byte) ([]domain.OriginHit, error) {
	if len(img) == 0 {
		return nil, nil
	}
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{Requests: []*visionpb.AnnotateImageRequest{{
		Image:    &visionpb.Image{Content: img},
		Features: []*visionpb.Feature{{Type: visionpb.Feature_WEB_DETECTION, MaxResults: v.maxResults}},
	}}}
	start := time.Now()
	resp, err := v.client.BatchAnnotateImages(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.Current().ObserveUpstream("gcp_vision", "web_detection", outcome, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	return webDetectionHits(r0.WebDetection), nil
}

// webDetectionHits turns pages with matching images into hits, best match first.
func webDetectionHits(wd *visionpb.WebDetection) []domain.OriginHit {
	if wd == nil {
		return nil
	}
	seen := map[string]bool{}
	hits := []domain.OriginHit{}
	for _, page := range wd.PagesWithMatchingImages {
		if page == nil || strings.TrimSpace(page.Url) == "" || seen[page.Url] {
			continue
		}
		seen[page.Url] = true
		score := clamp01(float64(page.Score))
		switch {
		case len(page.FullMatchingImages) > 0:
			score = maxFloat(score, fullMatchScore)
		case len(page.PartialMatchingImages) > 0:
			score = maxFloat(score, partialMatchScore)
		}
		host := hostOf(page.Url)
		hits = append(hits, domain.OriginHit{
			URL:        page.Url,
			Title:      collapseWhitespace(stripTags(page.PageTitle)),
			Domain:     host,
			ChannelID:  host,
			Score:      score,
			Provenance: domain.ProvenanceReverseImage,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// stripTags drops the <b> highlighting Vision puts in page titles.
func stripTags(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
