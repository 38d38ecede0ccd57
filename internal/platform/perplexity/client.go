package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/httpx"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

const defaultScore = 0.5

// Client calls the metered web search API. Calls share one token bucket.
type Client struct {
	log        *logger.Logger
	apiURL     string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewFromEnv returns (nil, nil) when PERPLEXITY_API_KEY is unset.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	apiKey := envutil.String("PERPLEXITY_API_KEY", "")
	if apiKey == "" {
		return nil, nil
	}
	rps := envutil.Float("PERPLEXITY_RPS", 1)
	if rps <= 0 {
		return nil, fmt.Errorf("perplexity: PERPLEXITY_RPS must be > 0")
	}
	return New(log, Config{
		APIURL:  envutil.String("PERPLEXITY_API_URL", "https://api.perplexity.ai/search"),
		APIKey:  apiKey,
		Timeout: envutil.Duration("PERPLEXITY_TIMEOUT", 30*time.Second),
		RPS:     rps,
		Burst:   envutil.Int("PERPLEXITY_BURST", 2),
	}), nil
}

type Config struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

func New(log *logger.Logger, cfg Config) *Client {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		log:        log.With("service", "PerplexityClient"),
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
	}
}

type searchRequest struct {
	Query            string `json:"query"`
	MaxResults       int    `json:"max_results"`
	IncludeCitations bool   `json:"include_citations"`
	IncludeSources   bool   `json:"include_sources"`
}

type searchResult struct {
	ID             string   `json:"id"`
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Snippet        string   `json:"snippet"`
	Domain         string   `json:"domain"`
	RelevanceScore *float64 `json:"relevance_score"`
	FreshnessScore *float64 `json:"freshness_score"`
	PublishedDate  string   `json:"published_date"`
	Date           string   `json:"date"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]domain.ExternalHit, error) {
	ctx = ctxutil.Default(ctx)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 4
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("perplexity: rate limit wait: %w", err)
	}

	body, err := json.Marshal(searchRequest{Query: query, MaxResults: maxResults, IncludeCitations: true, IncludeSources: true})
	if err != nil {
		return nil, fmt.Errorf("perplexity: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("perplexity: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.Current().ObserveUpstream("perplexity", "search", "error", time.Since(start))
		return nil, fmt.Errorf("perplexity: search: %w", err)
	}
	raw, err := httpx.ReadBody(resp, 0)
	if err != nil {
		observability.Current().ObserveUpstream("perplexity", "search", "error", time.Since(start))
		return nil, fmt.Errorf("perplexity: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.Current().ObserveUpstream("perplexity", "search", "error", time.Since(start))
		return nil, httpx.NewStatusError("perplexity", resp, raw)
	}
	observability.Current().ObserveUpstream("perplexity", "search", "ok", time.Since(start))

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("perplexity: decode response: %w; raw=%s", err, httpx.TruncateBody(raw))
	}
	hits := make([]domain.ExternalHit, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		hits = append(hits, toHit(r))
	}
	c.log.Debug("Perplexity search complete", "results", len(hits))
	return hits, nil
}

func toHit(r searchResult) domain.ExternalHit {
	h := domain.ExternalHit{
		URL:            r.URL,
		Title:          r.Title,
		Snippet:        r.Snippet,
		Domain:         strings.TrimSpace(r.Domain),
		RelevanceScore: scoreOr(r.RelevanceScore),
		FreshnessScore: scoreOr(r.FreshnessScore),
		PublishedAt:    parseDate(r.PublishedDate),
	}
	if h.PublishedAt == nil {
		h.PublishedAt = parseDate(r.Date)
	}
	if h.Domain == "" {
		if u, err := url.Parse(r.URL); err == nil {
			h.Domain = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		}
	}
	return h
}

func scoreOr(v *float64) float64 {
	if v == nil {
		return defaultScore
	}
	switch {
	case *v < 0:
		return 0
	case *v > 1:
		return 1
	default:
		return *v
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "01/02/2006"}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
