// Package index is the local similarity index over stored content embeddings.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/platform/qdrant"
)

const (
	NamespaceText  = "text"
	NamespaceImage = "image"
)

// VectorStore is satisfied by *qdrant.Store and *MemoryStore.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, points []qdrant.Point) error
	Search(ctx context.Context, namespace string, vector []float32, limit int, minScore float64, filter *qdrant.Filter) ([]qdrant.Match, error)
	Exists(ctx context.Context, namespace, id string) (bool, error)
}

type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Document struct {
	ContentHash     string
	ContentType     domain.ContentType
	RawText         string
	SourceURL       string
	ChannelID       string
	Timestamp       *time.Time
	EngagementScore float64
}

type Index struct {
	log      *logger.Logger
	store    VectorStore
	embedder Embedder
}

func New(log *logger.Logger, store VectorStore, embedder Embedder) *Index {
	return &Index{log: log.With("service", "LocalIndex"), store: store, embedder: embedder}
}

func (ix *Index) Search(ctx context.Context, namespace string, embedding []float32, limit int, minSimilarity float64) ([]domain.LocalHit, error) {
	matches, err := ix.store.Search(ctx, namespace, embedding, limit, minSimilarity, nil)
	if err != nil {
		return nil, fmt.Errorf("index: search %s: %w", namespace, err)
	}
	hits := make([]domain.LocalHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, hitFromPayload(m))
	}
	return hits, nil
}

// Store is a no-op when the content hash is already indexed in namespace.
func (ix *Index) Store(ctx context.Context, namespace string, doc Document, embedding []float32) error {
	if strings.TrimSpace(doc.ContentHash) == "" {
		return fmt.Errorf("index: content hash required")
	}
	exists, err := ix.store.Exists(ctx, namespace, doc.ContentHash)
	if err != nil {
		return fmt.Errorf("index: exists %s: %w", doc.ContentHash, err)
	}
	if exists {
		return nil
	}
	point := qdrant.Point{ID: doc.ContentHash, Vector: embedding, Payload: payloadFromDoc(doc)}
	if err := ix.store.Upsert(ctx, namespace, []qdrant.Point{point}); err != nil {
		return fmt.Errorf("index: store %s: %w", doc.ContentHash, err)
	}
	return nil
}

func (ix *Index) SearchText(ctx context.Context, query string, limit int, minSimilarity float64) ([]domain.LocalHit, error) {
	vec, err := ix.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	return ix.Search(ctx, NamespaceText, vec, limit, minSimilarity)
}

func (ix *Index) StoreText(ctx context.Context, doc Document) error {
	vec, err := ix.embedOne(ctx, doc.RawText)
	if err != nil {
		return err
	}
	return ix.Store(ctx, NamespaceText, doc, vec)
}

func (ix *Index) SearchImage(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]domain.LocalHit, error) {
	return ix.Search(ctx, NamespaceImage, embedding, limit, minSimilarity)
}

func (ix *Index) embedOne(ctx context.Context, text string) ([]float32, error) {
	if ix.embedder == nil {
		return nil, fmt.Errorf("index: no embedder configured")
	}
	vecs, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("index: embed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("index: embed returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

func payloadFromDoc(doc Document) map[string]any {
	p := map[string]any{
		"content_hash":     doc.ContentHash,
		"content_type":     string(doc.ContentType),
		"engagement_score": doc.EngagementScore,
	}
	if doc.RawText != "" {
		p["raw_text"] = doc.RawText
	}
	if doc.SourceURL != "" {
		p["source_url"] = doc.SourceURL
	}
	if doc.ChannelID != "" {
		p["channel_id"] = doc.ChannelID
	}
	if doc.Timestamp != nil {
		p["timestamp"] = doc.Timestamp.UTC().Format(time.RFC3339)
	}
	return p
}

func hitFromPayload(m qdrant.Match) domain.LocalHit {
	h := domain.LocalHit{
		ContentHash: stringField(m.Payload, "content_hash"),
		ContentType: domain.ContentType(stringField(m.Payload, "content_type")),
		RawText:     stringField(m.Payload, "raw_text"),
		SourceURL:   stringField(m.Payload, "source_url"),
		ChannelID:   stringField(m.Payload, "channel_id"),
		Similarity:  m.Score,
	}
	if h.ContentHash == "" {
		h.ContentHash = m.ID
	}
	if ts := stringField(m.Payload, "timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			h.Timestamp = &t
		}
	}
	switch v := m.Payload["engagement_score"].(type) {
	case float64:
		h.EngagementScore = v
	case int:
		h.EngagementScore = float64(v)
	case int64:
		h.EngagementScore = float64(v)
	}
	return h
}

func stringField(p map[string]any, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}
