package domain

import (
	"strings"
	"time"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
)

func ParseContentType(s string) (ContentType, bool) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentText, "":
		return ContentText, true
	case ContentImage:
		return ContentImage, true
	case ContentAudio:
		return ContentAudio, true
	case ContentVideo:
		return ContentVideo, true
	default:
		return "", false
	}
}

// Provenance names the candidate source that produced a hit.
type Provenance string

const (
	ProvenanceLocalIndex   Provenance = "local_index"
	ProvenanceExternal     Provenance = "external_search"
	ProvenanceReverseImage Provenance = "reverse_image"
	ProvenanceBatchMatch   Provenance = "batch_match"
	ProvenanceFrameIndex   Provenance = "frame_index"
)

// ContentArtifact is one piece of content identified by its fingerprint.
type ContentArtifact struct {
	ID              string      `json:"id"`
	Type            ContentType `json:"type"`
	RawText         string      `json:"raw_text,omitempty"`
	SourceURL       string      `json:"source_url,omitempty"`
	ChannelID       string      `json:"channel_id,omitempty"`
	PublishedAt     *time.Time  `json:"published_at,omitempty"`
	EngagementScore float64     `json:"engagement_score"`
}

// OriginHit is a single scored candidate source.
type OriginHit struct {
	URL         string     `json:"url"`
	Title       string     `json:"title,omitempty"`
	Domain      string     `json:"domain,omitempty"`
	ChannelID   string     `json:"channel_id,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Score       float64    `json:"score"`
	Provenance  Provenance `json:"provenance"`
	ContentHash string     `json:"content_hash,omitempty"`
}

// Before orders hits by timestamp ascending. Hits without a timestamp sort last.
func (h OriginHit) Before(other OriginHit) bool {
	switch {
	case h.Timestamp == nil:
		return false
	case other.Timestamp == nil:
		return true
	default:
		return h.Timestamp.Before(*other.Timestamp)
	}
}

// Hit is a candidate from one of the router's sources: LocalHit or ExternalHit.
type Hit interface {
	isHit()
	Origin() OriginHit
}

type LocalHit struct {
	ContentHash     string
	ContentType     ContentType
	RawText         string
	SourceURL       string
	ChannelID       string
	Timestamp       *time.Time
	EngagementScore float64
	Similarity      float64
}

func (LocalHit) isHit() {}

func (h LocalHit) Origin() OriginHit {
	return OriginHit{
		URL:         h.SourceURL,
		Title:       truncateRunes(h.RawText, 120),
		ChannelID:   h.ChannelID,
		Timestamp:   h.Timestamp,
		Score:       h.Similarity,
		Provenance:  ProvenanceLocalIndex,
		ContentHash: h.ContentHash,
	}
}

type ExternalHit struct {
	URL            string
	Title          string
	Snippet        string
	Domain         string
	RelevanceScore float64
	FreshnessScore float64
	PublishedAt    *time.Time
}

func (ExternalHit) isHit() {}

// Origin uses the domain as the channel identifier.
func (h ExternalHit) Origin() OriginHit {
	return OriginHit{
		URL:        h.URL,
		Title:      h.Title,
		Domain:     h.Domain,
		ChannelID:  h.Domain,
		Timestamp:  h.PublishedAt,
		Score:      h.RelevanceScore,
		Provenance: ProvenanceExternal,
	}
}

type HitKind string

const (
	HitLocal    HitKind = "local"
	HitExternal HitKind = "external"
)

// RankedResult is a merged entry. Score is for ordering only.
type RankedResult struct {
	Kind    HitKind   `json:"kind"`
	Score   float64   `json:"score"`
	Hit     OriginHit `json:"hit"`
	Snippet string    `json:"snippet,omitempty"`
}

func truncateRunes(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}
