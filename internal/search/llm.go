package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

// JSONGenerator is satisfied by openai.Client.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)
}

// LLMSearcher asks a web-search-enabled model for candidate sources.
type LLMSearcher struct {
	log *logger.Logger
	gen JSONGenerator
}

func NewLLMSearcher(log *logger.Logger, gen JSONGenerator) *LLMSearcher {
	return &LLMSearcher{log: log.With("service", "LLMSearcher"), gen: gen}
}

const llmSearchSystem = `You locate where a piece of content was first published online.
Return web pages that contain or originally published the quoted content, earliest first.
Only include pages you found. Use an empty string for unknown dates.
relevance_score and freshness_score are between 0 and 1.`

var llmSearchSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []any{"results"},
	"properties": map[string]any{
		"results": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []any{"url", "title", "snippet", "domain", "relevance_score", "freshness_score", "published_date"},
				"properties": map[string]any{
					"url":             map[string]any{"type": "string"},
					"title":           map[string]any{"type": "string"},
					"snippet":         map[string]any{"type": "string"},
					"domain":          map[string]any{"type": "string"},
					"relevance_score": map[string]any{"type": "number"},
					"freshness_score": map[string]any{"type": "number"},
					"published_date":  map[string]any{"type": "string"},
				},
			},
		},
	},
}

func (s *LLMSearcher) Search(ctx context.Context, query string, maxResults int) ([]domain.ExternalHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	user := fmt.Sprintf("Find up to %d sources for this content:\n\n%q", maxResults, query)
	obj, err := s.gen.GenerateJSON(ctx, llmSearchSystem, user, "origin_search", llmSearchSchema)
	if err != nil {
		return nil, fmt.Errorf("llm search: %w", err)
	}
	items, _ := obj["results"].([]any)
	hits := make([]domain.ExternalHit, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		h := domain.ExternalHit{
			URL:            str(m["url"]),
			Title:          str(m["title"]),
			Snippet:        str(m["snippet"]),
			Domain:         strings.TrimPrefix(strings.ToLower(str(m["domain"])), "www."),
			RelevanceScore: unit(m["relevance_score"]),
			FreshnessScore: unit(m["freshness_score"]),
			PublishedAt:    parsePublished(str(m["published_date"])),
		}
		if h.URL == "" {
			continue
		}
		if h.Domain == "" {
			if u, err := url.Parse(h.URL); err == nil {
				h.Domain = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
			}
		}
		hits = append(hits, h)
		if len(hits) == maxResults {
			break
		}
	}
	s.log.Debug("LLM search complete", "results", len(hits))
	return hits, nil
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func unit(v any) float64 {
	f, ok := v.(float64)
	if !ok {
		return 0.5
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func parsePublished(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
