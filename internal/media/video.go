package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/fingerprint"
	"github.com/yungbote/trace-backend/internal/jobs"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/localmedia"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type VideoConfig struct {
	FrameCount         int
	FrameSearchLimit   int
	FrameMinSimilarity float64
	GPUPollInterval    time.Duration
	GPUTimeout         time.Duration
	CancelOnTimeout    bool
	CleanupTimeout     time.Duration
}

func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		FrameCount:         3,
		FrameSearchLimit:   3,
		FrameMinSimilarity: 0.20,
		GPUPollInterval:    3 * time.Second,
		GPUTimeout:         300 * time.Second,
		CancelOnTimeout:    true,
		CleanupTimeout:     30 * time.Second,
	}
}

type VideoPipeline struct {
	log     *logger.Logger
	cache   cache.Cache
	tools   Tools
	frames  FrameStore
	gpu     GPU
	index   FrameIndex
	audio   *AudioPipeline
	lineage LineageStore
	cfg     VideoConfig
	now     func() time.Time
}

// NewVideoPipeline accepts nil frames, gpu and index; the visual branch then reports not configured.
func NewVideoPipeline(log *logger.Logger, c cache.Cache, tools Tools, frames FrameStore, gpu GPU, index FrameIndex, audio *AudioPipeline, store LineageStore, cfg VideoConfig) *VideoPipeline {
	def := DefaultVideoConfig()
	if cfg.FrameCount <= 0 {
		cfg.FrameCount = def.FrameCount
	}
	if cfg.FrameSearchLimit <= 0 {
		cfg.FrameSearchLimit = def.FrameSearchLimit
	}
	if cfg.FrameMinSimilarity <= 0 {
		cfg.FrameMinSimilarity = def.FrameMinSimilarity
	}
	if cfg.GPUPollInterval <= 0 {
		cfg.GPUPollInterval = def.GPUPollInterval
	}
	if cfg.GPUTimeout <= 0 {
		cfg.GPUTimeout = def.GPUTimeout
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = def.CleanupTimeout
	}
	return &VideoPipeline{
		log:     log.With("service", "VideoPipeline"),
		cache:   c,
		tools:   tools,
		frames:  frames,
		gpu:     gpu,
		index:   index,
		audio:   audio,
		lineage: store,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ResolveVideo runs the audio and visual branches concurrently and combines them.
// Branch failures are reported inside the result; only input and setup failures are returned.
func (p *VideoPipeline) ResolveVideo(ctx context.Context, src Source, t *jobs.Tracker) (*VideoResult, error) {
	if src.empty() {
		return nil, domain.ErrMissingSource
	}
	if src.Path == "" {
		t.Stage(ctx, domain.StageDownloading, "Downloading video")
	}
	videoPath, cleanup, err := materialize(ctx, p.tools, src, ".mp4")
	defer cleanup()
	if err != nil {
		return nil, fmt.Errorf("media: video source: %w", err)
	}

	t.Stage(ctx, domain.StageMetadata, "Reading video metadata")
	meta, err := p.tools.Probe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("media: probe: %w", err)
	}

	t.Stage(ctx, domain.StageHashing, "Fingerprinting video")
	track := p.extractTrack(ctx, videoPath, meta)
	defer p.removeLocal(track)
	hash, err := p.contentHash(ctx, videoPath, track)
	if err != nil {
		return nil, err
	}

	key := fingerprint.Key("video", hash)
	cached, ok, err := cache.GetJSON[VideoResult](ctx, p.cache, key)
	if err != nil {
		p.log.Warn("video cache read failed", "hash", hash, "error", err)
	}
	if ok {
		observability.Current().IncPipelineResult("video", "cache")
		return &cached, nil
	}

	var (
		g         errgroup.Group
		audio     domain.AudioOrigin
		audioErr  *BranchError
		visual    domain.VisualOrigin
		visualErr *BranchError
	)
	g.Go(func() error {
		defer recoverBranch(p.log, BranchAudio, &audioErr)
		start := time.Now()
		audio, audioErr = p.audioBranch(ctx, track, t)
		observability.Current().ObserveStage("video", "audio_branch", time.Since(start))
		return nil
	})
	g.Go(func() error {
		defer recoverBranch(p.log, BranchVisual, &visualErr)
		start := time.Now()
		visual, visualErr = p.visualBranch(ctx, videoPath, meta, hash, t)
		observability.Current().ObserveStage("video", "visual_branch", time.Since(start))
		return nil
	})
	_ = g.Wait()

	t.Stage(ctx, domain.StageCombiningOrigins, "Combining origins")
	res := Combine(hash, meta, audio, audioErr, visual, visualErr, p.now())
	t.Stage(ctx, domain.StageCheckingComposite, "Checking for composite media")
	if res.IsComposite {
		p.log.Info("composite video detected", "hash", hash,
			"audio_channel", res.Origins.Audio.Origin.ChannelID(),
			"visual_channel", res.Origins.Visual.Origin.ChannelID())
	}

	t.Stage(ctx, domain.StagePreparingResult, "Preparing result")
	if res.Err() != nil {
		// A branch failure is not cached so a resubmission can retry it.
		return res, nil
	}
	if err := cache.SetJSON(ctx, p.cache, key, res, cache.TTLVideo); err != nil {
		p.log.Warn("video cache write failed", "hash", hash, "error", err)
	}
	if p.lineage != nil {
		if _, err := p.lineage.StoreOrigin(ctx, hash, domain.ContentVideo, res.Assignment()); err != nil {
			p.log.Warn("video lineage store failed", "hash", hash, "error", err)
		}
	}
	return res, nil
}

// extractTrack returns "" when the video has no usable audio.
func (p *VideoPipeline) extractTrack(ctx context.Context, videoPath string, meta *localmedia.Metadata) string {
	if meta == nil || !meta.HasAudio {
		return ""
	}
	out, err := p.tools.ExtractAudio(ctx, videoPath, p.tools.TempPath(".wav"))
	if err != nil {
		p.log.Warn("audio track extraction failed", "error", err)
		return ""
	}
	return out
}

// contentHash hashes the first frame with the head of the audio track, or the whole file when no frame can be read.
func (p *VideoPipeline) contentHash(ctx context.Context, videoPath, track string) (string, error) {
	framePath, err := p.tools.ExtractFrameAt(ctx, videoPath, 0, p.tools.TempPath(".jpg"))
	if err == nil {
		defer p.removeLocal(framePath)
		frame, readErr := os.ReadFile(framePath)
		if readErr == nil {
			var prefix []byte
			if track != "" {
				if prefix, readErr = fingerprint.ReadPrefix(track, fingerprint.AudioPrefixBytes); readErr != nil {
					p.log.Warn("audio prefix read failed", "error", readErr)
					prefix = nil
				}
			}
			return fingerprint.Video(frame, prefix), nil
		}
		err = readErr
	}
	p.log.Warn("first frame unavailable; hashing whole file", "error", err)
	hash, err := fingerprint.FileMD5(videoPath)
	if err != nil {
		return "", fmt.Errorf("media: hash video: %w", err)
	}
	return hash, nil
}

func (p *VideoPipeline) audioBranch(ctx context.Context, track string, t *jobs.Tracker) (domain.AudioOrigin, *BranchError) {
	t.Stage(ctx, domain.StageAudioProcessing, "Processing audio track")
	if track == "" {
		t.Stage(ctx, domain.StageAudioWarning, "No audio track")
		return domain.AudioOrigin{Origin: domain.NotFound("no audio track")}, nil
	}
	if p.audio == nil {
		t.Stage(ctx, domain.StageAudioWarning, "Audio resolution not configured")
		return domain.AudioOrigin{Origin: domain.NotFound("audio resolution not configured")}, nil
	}
	res, err := p.audio.resolveFile(ctx, track, t)
	if err != nil {
		p.log.Warn("audio branch failed", "error", err)
		t.Stage(ctx, domain.StageAudioWarning, "Audio origin unavailable")
		return domain.AudioOrigin{Origin: domain.NotFound("audio resolution failed")},
			&BranchError{Branch: BranchAudio, Stage: domain.StageAudioProcessing, Reason: err.Error()}
	}
	t.Stage(ctx, domain.StageAudioComplete, "Audio origin resolved")
	return res.AudioOrigin(), nil
}

func (p *VideoPipeline) visualBranch(ctx context.Context, videoPath string, meta *localmedia.Metadata, hash string, t *jobs.Tracker) (domain.VisualOrigin, *BranchError) {
	fail := func(stage domain.Stage, err error) (domain.VisualOrigin, *BranchError) {
		p.log.Warn("visual branch failed", "stage", stage, "error", err)
		return domain.VisualOrigin{Origin: domain.NotFound("visual resolution failed")}, &BranchError{
			Branch:   BranchVisual,
			Stage:    stage,
			Reason:   err.Error(),
			TimedOut: errors.Is(err, domain.ErrGPUTimeout),
		}
	}
	if p.frames == nil || p.gpu == nil || p.index == nil {
		return domain.VisualOrigin{Origin: domain.NotFound("visual resolution not configured")}, nil
	}

	t.Stage(ctx, domain.StageExtractingFrames, "Extracting keyframes")
	var duration float64
	if meta != nil {
		duration = meta.DurationSec
	}
	framePaths, err := p.tools.ExtractKeyframes(ctx, videoPath, duration, p.cfg.FrameCount)
	defer p.removeLocal(framePaths...)
	if err != nil {
		return fail(domain.StageExtractingFrames, err)
	}

	t.Stage(ctx, domain.StageUploadingFrames, "Uploading keyframes")
	var keys []string
	defer func() { p.removeUploaded(ctx, keys) }()
	urls := make([]string, 0, len(framePaths))
	for i, fp := range framePaths {
		key := path.Join("frames", hash, fmt.Sprintf("%d%s", i, filepath.Ext(fp)))
		url, err := p.upload(ctx, key, fp)
		if err != nil {
			return fail(domain.StageUploadingFrames, err)
		}
		keys = append(keys, key)
		urls = append(urls, url)
	}

	t.Stage(ctx, domain.StageGPUJobSubmit, "Submitting frame embedding job")
	jobID := t.ID()
	if jobID == "" {
		jobID = hash
	}
	handle, err := p.gpu.Submit(ctx, urls, jobID)
	if err != nil {
		observability.Current().IncGPUOutcome("submit_failed")
		return fail(domain.StageGPUJobSubmit, err)
	}
	t.Stage(ctx, domain.StageGPUJobProcessing, "Waiting for frame embeddings")
	if err := p.waitGPU(ctx, handle, t); err != nil {
		return fail(domain.StageGPUJobProcessing, err)
	}

	t.Stage(ctx, domain.StageGettingGPUResults, "Fetching frame embeddings")
	embeddings, err := p.gpu.Result(ctx, handle)
	if err != nil {
		return fail(domain.StageGettingGPUResults, err)
	}

	t.Stage(ctx, domain.StageProcessingEmbeddings, "Searching frames")
	perFrame := make([][]domain.OriginHit, 0, len(embeddings))
	for _, emb := range embeddings {
		if len(emb) == 0 {
			perFrame = append(perFrame, nil)
			continue
		}
		local, err := p.index.SearchImage(ctx, emb, p.cfg.FrameSearchLimit, p.cfg.FrameMinSimilarity)
		if err != nil {
			return fail(domain.StageProcessingEmbeddings, err)
		}
		hits := make([]domain.OriginHit, 0, len(local))
		for _, h := range local {
			oh := h.Origin()
			oh.Provenance = domain.ProvenanceFrameIndex
			hits = append(hits, oh)
		}
		perFrame = append(perFrame, hits)
	}

	t.Stage(ctx, domain.StageFindingVisualOrigins, "Voting on visual origin")
	return Vote(perFrame), nil
}

func (p *VideoPipeline) upload(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	return p.frames.Upload(ctx, key, f)
}

// waitGPU polls until the job is done, failed, or the timeout passes. Polling keeps the stage percent
// and only refreshes the status text.
func (p *VideoPipeline) waitGPU(ctx context.Context, handle string, t *jobs.Tracker) error {
	start := time.Now()
	deadline := time.NewTimer(p.cfg.GPUTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.GPUPollInterval)
	defer ticker.Stop()

	for {
		state, err := p.gpu.Status(ctx, handle)
		if err != nil {
			observability.Current().IncGPUOutcome("status_failed")
			return fmt.Errorf("gpu status %s: %w", handle, err)
		}
		switch state {
		case domain.GPUDone:
			observability.Current().IncGPUOutcome("done")
			return nil
		case domain.GPUFailed:
			observability.Current().IncGPUOutcome("failed")
			return fmt.Errorf("gpu job %s: %w", handle, domain.ErrGPUFailed)
		}
		t.Stage(ctx, domain.StageGPUJobProcessing, fmt.Sprintf("GPU job %s (%ds elapsed)", state, int(time.Since(start).Seconds())))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			observability.Current().IncGPUOutcome("timeout")
			p.cancelGPU(ctx, handle)
			return fmt.Errorf("gpu job %s after %s: %w", handle, p.cfg.GPUTimeout, domain.ErrGPUTimeout)
		case <-ticker.C:
		}
	}
}

func (p *VideoPipeline) cancelGPU(ctx context.Context, handle string) {
	if !p.cfg.CancelOnTimeout {
		p.log.Warn("gpu job left running after timeout", "handle", handle)
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CleanupTimeout)
	defer cancel()
	if err := p.gpu.Cancel(cctx, handle); err != nil {
		observability.Current().IncGPUOutcome("cancel_failed")
		p.log.Warn("gpu job cancel failed", "handle", handle, "error", err)
		return
	}
	observability.Current().IncGPUOutcome("cancelled")
	p.log.Info("gpu job cancelled after timeout", "handle", handle)
}

func (p *VideoPipeline) removeLocal(paths ...string) {
	for _, err := range removeFiles(paths) {
		p.log.Warn("temp file cleanup failed", "error", err)
	}
}

func (p *VideoPipeline) removeUploaded(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CleanupTimeout)
	defer cancel()
	for _, key := range keys {
		if err := p.frames.Delete(cctx, key); err != nil {
			p.log.Warn("uploaded frame cleanup failed", "key", key, "error", err)
		}
	}
}

func recoverBranch(log *logger.Logger, branch string, out **BranchError) {
	if r := recover(); r != nil {
		log.Error("branch panic", "branch", branch, "panic", r)
		*out = &BranchError{Branch: branch, Reason: fmt.Sprintf("panic: %v", r)}
	}
}
