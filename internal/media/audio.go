package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/fingerprint"
	"github.com/yungbote/trace-backend/internal/jobs"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/acrcloud"
	"github.com/yungbote/trace-backend/internal/platform/gcp"
	"github.com/yungbote/trace-backend/internal/platform/logger"
	"github.com/yungbote/trace-backend/internal/search"
)

const (
	ContentSpeech = "speech"
	ContentMusic  = "music"

	minTranscriptChars = 10
	maxQueryChars      = 500
)

type AudioResult struct {
	JobID         string             `json:"job_id,omitempty"`
	Hash          string             `json:"hash"`
	ContentType   string             `json:"content_type"`
	Transcription string             `json:"transcription,omitempty"`
	Music         *acrcloud.Music    `json:"music,omitempty"`
	Query         string             `json:"query,omitempty"`
	Origin        domain.Origin      `json:"origin"`
	Hits          []domain.OriginHit `json:"hits,omitempty"`
	Confidence    float64            `json:"confidence"`
	FromCache     bool               `json:"from_cache"`
	CreatedAt     time.Time          `json:"created_at"`
}

func (r *AudioResult) AudioOrigin() domain.AudioOrigin {
	return domain.AudioOrigin{
		Origin:        r.Origin,
		Confidence:    r.Confidence,
		ContentType:   r.ContentType,
		Transcription: r.Transcription,
	}
}

// IsLikelyMusic guesses from transcript segments. Few long segments or low recognition confidence read as music.
func IsLikelyMusic(segments []gcp.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	if len(segments) < 3 {
		for _, s := range segments {
			if s.Duration() > 10 {
				return true
			}
		}
	}
	var sum float64
	for _, s := range segments {
		sum += s.Confidence
	}
	return sum/float64(len(segments)) < 0.4
}

type AudioPipeline struct {
	log         *logger.Logger
	cache       cache.Cache
	tools       Tools
	transcriber Transcriber
	music       MusicIdentifier
	resolver    TextResolver
	lineage     LineageStore
	now         func() time.Time
}

// NewAudioPipeline accepts nil transcriber, music and lineage collaborators.
func NewAudioPipeline(log *logger.Logger, c cache.Cache, tools Tools, transcriber Transcriber, music MusicIdentifier, resolver TextResolver, store LineageStore) *AudioPipeline {
	return &AudioPipeline{
		log:         log.With("service", "AudioPipeline"),
		cache:       c,
		tools:       tools,
		transcriber: transcriber,
		music:       music,
		resolver:    resolver,
		lineage:     store,
		now:         time.Now,
	}
}

// ResolveAudio resolves a standalone audio clip and records its origin assignment.
func (p *AudioPipeline) ResolveAudio(ctx context.Context, src Source, t *jobs.Tracker) (*AudioResult, error) {
	if src.empty() {
		return nil, domain.ErrMissingSource
	}
	if src.Path == "" {
		t.Stage(ctx, domain.StageDownloading, "Downloading audio")
	}
	path, cleanup, err := materialize(ctx, p.tools, src, filepath.Ext(src.URL))
	defer cleanup()
	if err != nil {
		return nil, fmt.Errorf("media: audio source: %w", err)
	}

	t.Stage(ctx, domain.StageHashing, "Fingerprinting audio")
	res, err := p.resolveFile(ctx, path, t)
	if err != nil {
		return nil, err
	}
	res.JobID = t.ID()
	if !res.FromCache && p.lineage != nil {
		a := domain.NewSimpleAssignment(res.Hash, domain.ContentAudio, res.Origin, res.Confidence)
		if _, err := p.lineage.StoreOrigin(ctx, res.Hash, domain.ContentAudio, a); err != nil {
			p.log.Warn("audio lineage store failed", "hash", res.Hash, "error", err)
		}
	}
	return res, nil
}

// resolveFile is shared with the video audio branch. Only router failures are returned as errors.
func (p *AudioPipeline) resolveFile(ctx context.Context, path string, t *jobs.Tracker) (*AudioResult, error) {
	hash, err := fingerprint.FileMD5(path)
	if err != nil {
		return nil, fmt.Errorf("media: hash audio: %w", err)
	}
	key := fingerprint.Key("audio", hash)
	cached, ok, err := cache.GetJSON[AudioResult](ctx, p.cache, key)
	if err != nil {
		p.log.Warn("audio cache read failed", "hash", hash, "error", err)
	}
	if ok {
		observability.Current().IncPipelineResult("audio", "cache")
		cached.FromCache = true
		return &cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("media: read audio: %w", err)
	}
	start := time.Now()
	res, err := p.analyze(ctx, data, filepath.Base(path), t)
	if err != nil {
		return nil, err
	}
	observability.Current().ObserveStage("audio", "analyze", time.Since(start))
	res.Hash = hash
	res.CreatedAt = p.now().UTC()

	if err := cache.SetJSON(ctx, p.cache, key, res, cache.TTLAudio); err != nil {
		p.log.Warn("audio cache write failed", "hash", hash, "error", err)
	}
	return res, nil
}

func (p *AudioPipeline) analyze(ctx context.Context, data []byte, fileName string, t *jobs.Tracker) (*AudioResult, error) {
	res := &AudioResult{ContentType: ContentSpeech}

	var transcript *gcp.Transcript
	if p.transcriber != nil {
		t.Stage(ctx, domain.StageTranscribing, "Transcribing audio")
		tr, err := p.transcriber.Transcribe(ctx, data, fileName)
		if err != nil {
			p.log.Warn("transcription failed; trying music identification", "error", err)
		} else {
			transcript = tr
		}
	}
	if transcript != nil {
		res.Transcription = strings.TrimSpace(transcript.Text)
	}

	if transcript == nil || IsLikelyMusic(transcript.Segments) {
		done, err := p.analyzeMusic(ctx, data, res, t)
		if err != nil || done {
			return res, err
		}
		res.ContentType = ContentSpeech
	}

	if len([]rune(res.Transcription)) < minTranscriptChars {
		res.Origin = domain.NotFound("transcription too short")
		return res, nil
	}
	res.Query = truncateRunes(res.Transcription, maxQueryChars)
	return res, p.route(ctx, res, t)
}

// analyzeMusic reports done=false when identification is unavailable and speech handling should run instead.
func (p *AudioPipeline) analyzeMusic(ctx context.Context, data []byte, res *AudioResult, t *jobs.Tracker) (bool, error) {
	if p.music == nil {
		return false, nil
	}
	t.Stage(ctx, domain.StageIdentifyingMusic, "Identifying music")
	m, err := p.music.Identify(ctx, data)
	if err != nil {
		p.log.Warn("music identification failed; falling back to speech", "error", err)
		return false, nil
	}
	res.ContentType = ContentMusic
	res.Music = m
	if m == nil || strings.TrimSpace(m.Title) == "" || strings.TrimSpace(m.Artist) == "" {
		res.Origin = domain.NotFound("insufficient music metadata")
		return true, nil
	}
	res.Query = fmt.Sprintf("music %s by %s", strings.TrimSpace(m.Title), strings.TrimSpace(m.Artist))
	return true, p.route(ctx, res, t)
}

func (p *AudioPipeline) route(ctx context.Context, res *AudioResult, t *jobs.Tracker) error {
	t.Stage(ctx, domain.StageSearching, "Searching for origin")
	sr, err := p.resolver.Resolve(ctx, search.Query{Text: res.Query, Type: string(domain.ContentAudio)})
	if err != nil {
		return fmt.Errorf("media: route audio query: %w", err)
	}
	res.Hits = sr.Origins
	res.Confidence = sr.Confidence
	if hit, ok := sr.Earliest(); ok && len(sr.RankedResults) > 0 {
		res.Origin = domain.FoundOrigin(hit)
		return nil
	}
	res.Origin = domain.NotFound("no matching sources")
	res.Confidence = 0
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
