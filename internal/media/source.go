// Package media resolves the origin of audio clips and videos.
package media

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/lineage"
	"github.com/yungbote/trace-backend/internal/platform/acrcloud"
	"github.com/yungbote/trace-backend/internal/platform/gcp"
	"github.com/yungbote/trace-backend/internal/platform/localmedia"
	"github.com/yungbote/trace-backend/internal/search"
)

// Source is an uploaded file already on disk or a URL to download.
// Owned paths are removed once the pipeline is done with them.
type Source struct {
	Path  string
	URL   string
	Owned bool
}

func (s Source) empty() bool {
	return strings.TrimSpace(s.Path) == "" && strings.TrimSpace(s.URL) == ""
}

// Tools is the subset of localmedia.Tools the pipelines call.
type Tools interface {
	Probe(ctx context.Context, videoPath string) (*localmedia.Metadata, error)
	ExtractAudio(ctx context.Context, videoPath string, outPath string) (string, error)
	ExtractFrameAt(ctx context.Context, videoPath string, atSec float64, outPath string) (string, error)
	ExtractKeyframes(ctx context.Context, videoPath string, durationSec float64, count int) ([]string, error)
	Download(ctx context.Context, rawURL string, suffix string) (string, func(), error)
	TempPath(suffix string) string
}

type FrameStore interface {
	Upload(ctx context.Context, key string, r io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// GPU is the batch frame-embedding service.
type GPU interface {
	Submit(ctx context.Context, imageURLs []string, jobID string) (string, error)
	Status(ctx context.Context, handle string) (domain.GPUJobState, error)
	Result(ctx context.Context, handle string) ([][]float32, error)
	Cancel(ctx context.Context, handle string) error
}

type FrameIndex interface {
	SearchImage(ctx context.Context, embedding []float32, limit int, minSimilarity float64) ([]domain.LocalHit, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (*gcp.Transcript, error)
}

// MusicIdentifier returns (nil, nil) when the sample matches nothing.
type MusicIdentifier interface {
	Identify(ctx context.Context, sample []byte) (*acrcloud.Music, error)
}

type TextResolver interface {
	Resolve(ctx context.Context, q search.Query) (*search.Result, error)
}

type LineageStore interface {
	StoreOrigin(ctx context.Context, artifactID string, t domain.ContentType, a domain.OriginAssignment) (lineage.StoreAck, error)
}

// materialize returns a local path for src. cleanup is always non-nil.
func materialize(ctx context.Context, tools Tools, src Source, suffix string) (string, func(), error) {
	noop := func() {}
	if src.empty() {
		return "", noop, domain.ErrMissingSource
	}
	if p := strings.TrimSpace(src.Path); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", noop, errors.Join(domain.ErrMissingSource, err)
		}
		if src.Owned {
			return p, func() { _ = os.Remove(p) }, nil
		}
		return p, noop, nil
	}
	return tools.Download(ctx, strings.TrimSpace(src.URL), suffix)
}

// removeFiles deletes local temp files. Failures are logged by the caller only.
func removeFiles(paths []string) []error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errs
}
