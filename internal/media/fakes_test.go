package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/lineage"
	"github.com/yungbote/trace-backend/internal/platform/acrcloud"
	"github.com/yungbote/trace-backend/internal/platform/gcp"
	"github.com/yungbote/trace-backend/internal/platform/localmedia"
	"github.com/yungbote/trace-backend/internal/search"
)

type fakeTools struct {
	dir      string
	hasAudio bool

	mu     sync.Mutex
	n      int
	frames []string
}

func newFakeTools(t *testing.T) *fakeTools {
	t.Helper()
	return &fakeTools{dir: t.TempDir(), hasAudio: true}
}

func (f *fakeTools) Probe(context.Context, string) (*localmedia.Metadata, error) {
	return &localmedia.Metadata{DurationSec: 12, Format: "mp4", HasAudio: f.hasAudio}, nil
}

func (f *fakeTools) ExtractAudio(_ context.Context, _ string, out string) (string, error) {
	return out, os.WriteFile(out, []byte("pcm-audio-track"), 0o644)
}

func (f *fakeTools) ExtractFrameAt(_ context.Context, _ string, at float64, out string) (string, error) {
	return out, os.WriteFile(out, []byte(fmt.Sprintf("frame@%.1f", at)), 0o644)
}

func (f *fakeTools) ExtractKeyframes(ctx context.Context, video string, dur float64, count int) ([]string, error) {
	var out []string
	for i, pos := range localmedia.FramePositions(dur, count) {
		p, err := f.ExtractFrameAt(ctx, video, pos, filepath.Join(f.dir, fmt.Sprintf("kf_%d.jpg", i)))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	f.mu.Lock()
	f.frames = append(f.frames, out...)
	f.mu.Unlock()
	return out, nil
}

func (f *fakeTools) Download(context.Context, string, string) (string, func(), error) {
	return "", func() {}, errors.New("download disabled in tests")
}

func (f *fakeTools) TempPath(suffix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return filepath.Join(f.dir, fmt.Sprintf("tmp_%d%s", f.n, suffix))
}

func (f *fakeTools) extractedFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

type fakeFrames struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
}

func (f *fakeFrames) Upload(_ context.Context, key string, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, key)
	return "https://frames.example/" + key, nil
}

func (f *fakeFrames) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeGPU struct {
	submitErr error
	state     domain.GPUJobState

	mu       sync.Mutex
	submits  int
	cancels  int
	statuses int
}

func (g *fakeGPU) Submit(_ context.Context, urls []string, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits++
	if g.submitErr != nil {
		return "", g.submitErr
	}
	return fmt.Sprintf("gpu-%d", len(urls)), nil
}

func (g *fakeGPU) Status(context.Context, string) (domain.GPUJobState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses++
	if g.state == "" {
		return domain.GPUDone, nil
	}
	return g.state, nil
}

func (g *fakeGPU) Result(context.Context, string) ([][]float32, error) {
	return [][]float32{{0}, {1}, {2}}, nil
}

func (g *fakeGPU) Cancel(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels++
	return nil
}

func (g *fakeGPU) counts() (submits, cancels int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits, g.cancels
}

// fakeFrameIndex answers by the frame number carried in the first embedding component.
type fakeFrameIndex struct {
	byFrame map[int][]domain.LocalHit
}

func (f *fakeFrameIndex) SearchImage(_ context.Context, emb []float32, _ int, _ float64) ([]domain.LocalHit, error) {
	return f.byFrame[int(emb[0])], nil
}

func frameHit(channel string, sim float64) domain.LocalHit {
	return domain.LocalHit{ContentHash: "img-" + channel, ContentType: domain.ContentImage, SourceURL: "https://" + channel + ".example/clip", ChannelID: channel, Similarity: sim}
}

type fakeTranscriber struct {
	transcript *gcp.Transcript
	err        error

	mu    sync.Mutex
	calls int
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string) (*gcp.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.transcript, f.err
}

func (f *fakeTranscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMusic struct {
	music *acrcloud.Music
	err   error
	calls int
}

func (f *fakeMusic) Identify(context.Context, []byte) (*acrcloud.Music, error) {
	f.calls++
	return f.music, f.err
}

type fakeResolver struct {
	origin domain.OriginHit
	err    error

	mu      sync.Mutex
	queries []string
}

func (f *fakeResolver) Resolve(_ context.Context, q search.Query) (*search.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q.Text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.origin.URL == "" {
		return &search.Result{Query: q.Text}, nil
	}
	return &search.Result{
		Query:         q.Text,
		RankedResults: []domain.RankedResult{{Kind: domain.HitExternal, Score: 0.7, Hit: f.origin}},
		Origins:       []domain.OriginHit{f.origin},
		Confidence:    0.7,
	}, nil
}

func (f *fakeResolver) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeLineage struct {
	mu     sync.Mutex
	stored []domain.OriginAssignment
}

func (f *fakeLineage) StoreOrigin(_ context.Context, id string, _ domain.ContentType, a domain.OriginAssignment) (lineage.StoreAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, a)
	return lineage.StoreAck{ArtifactID: id, CacheStored: true, GraphStored: true}, nil
}

func speechTranscript(text string) *gcp.Transcript {
	return &gcp.Transcript{
		Text: text,
		Segments: []gcp.Segment{
			{Text: "a", StartSec: 0, EndSec: 2, Confidence: 0.9},
			{Text: "b", StartSec: 2, EndSec: 4, Confidence: 0.9},
			{Text: "c", StartSec: 4, EndSec: 6, Confidence: 0.9},
		},
	}
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return p
}
