// Package search routes text queries between the local similarity index and external search.
package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/fingerprint"
	"github.com/yungbote/trace-backend/internal/index"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type LocalIndex interface {
	SearchText(ctx context.Context, query string, limit int, minSimilarity float64) ([]domain.LocalHit, error)
	StoreText(ctx context.Context, doc index.Document) error
}

type ExternalSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]domain.ExternalHit, error)
}

type Config struct {
	LocalLimit         int
	LocalMinSimilarity float64
	MinLocalHits       int
	StrongSimilarity   float64
	ExternalMaxResults int
	StoreTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		LocalLimit:         5,
		LocalMinSimilarity: 0.70,
		MinLocalHits:       3,
		StrongSimilarity:   0.80,
		ExternalMaxResults: 10,
		StoreTimeout:       30 * time.Second,
	}
}

type Query struct {
	Text          string `json:"query"`
	Type          string `json:"query_type"`
	ForceExternal bool   `json:"force_external"`
}

type Result struct {
	QueryHash     string                `json:"query_hash"`
	Query         string                `json:"query"`
	QueryType     string                `json:"query_type"`
	UsedExternal  bool                  `json:"used_external"`
	ExternalError string                `json:"external_error,omitempty"`
	RankedResults []domain.RankedResult `json:"ranked_results"`
	Origins       []domain.OriginHit    `json:"origins"`
	Confidence    float64               `json:"confidence"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Earliest is the first origin, if any.
func (r *Result) Earliest() (domain.OriginHit, bool) {
	if r == nil || len(r.Origins) == 0 {
		return domain.OriginHit{}, false
	}
	return r.Origins[0], true
}

type Router struct {
	log      *logger.Logger
	cache    cache.Cache
	local    LocalIndex
	external ExternalSearcher
	cfg      Config
	pending  sync.WaitGroup
	now      func() time.Time
}

// NewRouter accepts a nil external searcher; queries then resolve local-only.
func NewRouter(log *logger.Logger, c cache.Cache, local LocalIndex, external ExternalSearcher, cfg Config) *Router {
	def := DefaultConfig()
	if cfg.LocalLimit <= 0 {
		cfg.LocalLimit = def.LocalLimit
	}
	if cfg.LocalMinSimilarity <= 0 {
		cfg.LocalMinSimilarity = def.LocalMinSimilarity
	}
	if cfg.MinLocalHits <= 0 {
		cfg.MinLocalHits = def.MinLocalHits
	}
	if cfg.StrongSimilarity <= 0 {
		cfg.StrongSimilarity = def.StrongSimilarity
	}
	if cfg.ExternalMaxResults <= 0 {
		cfg.ExternalMaxResults = def.ExternalMaxResults
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	return &Router{
		log:      log.With("service", "SearchRouter"),
		cache:    c,
		local:    local,
		external: external,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (r *Router) Resolve(ctx context.Context, q Query) (*Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	queryType := strings.TrimSpace(q.Type)
	if queryType == "" {
		queryType = "text"
	}
	hash := fingerprint.Text(q.Text)
	key := fingerprint.Key("search", hash)

	cached, ok, err := cache.GetJSON[Result](ctx, r.cache, key)
	if err != nil {
		r.log.Warn("search cache read failed", "query_hash", hash, "error", err)
	}
	if ok {
		observability.Current().IncResolution("cache")
		return &cached, nil
	}

	local, err := r.local.SearchText(ctx, text, r.cfg.LocalLimit, r.cfg.LocalMinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("search: local index: %w", err)
	}

	res := &Result{QueryHash: hash, Query: text, QueryType: queryType, CreatedAt: r.now().UTC()}

	var external []domain.ExternalHit
	if reason, need := r.needsExternal(local, q.ForceExternal); need {
		observability.Current().IncExternalFallback(reason)
		if r.external == nil {
			res.ExternalError = "external search not configured"
		} else {
			hits, extErr := r.external.Search(ctx, text, r.cfg.ExternalMaxResults)
			if extErr != nil {
				r.log.Warn("external search failed; using local results", "query_hash", hash, "error", extErr)
				res.ExternalError = extErr.Error()
			} else {
				external = hits
				res.UsedExternal = true
				r.persistExternal(hits)
			}
		}
	}

	merged := Merge(Candidates(local, external))
	res.RankedResults = Top(merged)
	res.Origins = EarliestOrigins(merged)
	res.Confidence = Confidence(merged)
	if res.UsedExternal {
		observability.Current().IncResolution("external")
	} else {
		observability.Current().IncResolution("local")
	}

	if err := cache.SetJSON(ctx, r.cache, key, res, cache.TTLSearch); err != nil {
		r.log.Warn("search cache write failed", "query_hash", hash, "error", err)
	}
	return res, nil
}

// needsExternal returns the fallback reason when the local hits are too few or too weak.
func (r *Router) needsExternal(local []domain.LocalHit, force bool) (string, bool) {
	if force {
		return "forced", true
	}
	if len(local) < r.cfg.MinLocalHits {
		return "few_local_hits", true
	}
	var best float64
	for _, h := range local {
		if h.Similarity > best {
			best = h.Similarity
		}
	}
	if best < r.cfg.StrongSimilarity {
		return "low_similarity", true
	}
	return "", false
}

// persistExternal indexes external hits in the background. Failures are logged only.
func (r *Router) persistExternal(hits []domain.ExternalHit) {
	for _, h := range hits {
		text := strings.TrimSpace(h.Title + "\n" + h.Snippet)
		if text == "" || h.URL == "" {
			continue
		}
		doc := index.Document{
			ContentHash: fingerprint.Text(h.URL),
			ContentType: domain.ContentText,
			RawText:     text,
			SourceURL:   h.URL,
			ChannelID:   h.Domain,
			Timestamp:   h.PublishedAt,
		}
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
			defer cancel()
			if err := r.local.StoreText(ctx, doc); err != nil {
				r.log.Warn("index external hit failed", "url", doc.SourceURL, "error", err)
			}
		}()
	}
}

// Wait blocks until background index writes finish.
func (r *Router) Wait() {
	r.pending.Wait()
}
