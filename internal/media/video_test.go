package media

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/trace-backend/internal/cache"
	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/jobs"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type videoHarness struct {
	tools    *fakeTools
	frames   *fakeFrames
	gpu      *fakeGPU
	tr       *fakeTranscriber
	resolver *fakeResolver
	lineage  *fakeLineage
	cache    *cache.Memory
	pipeline *VideoPipeline
}

func newVideoHarness(t *testing.T, gpu *fakeGPU) *videoHarness {
	t.Helper()
	h := &videoHarness{
		tools:    newFakeTools(t),
		frames:   &fakeFrames{},
		gpu:      gpu,
		tr:       &fakeTranscriber{transcript: speechTranscript("the narrator explains the scene in detail")},
		resolver: &fakeResolver{origin: hit("A", 0.7)},
		lineage:  &fakeLineage{},
		cache:    cache.NewMemory(),
	}
	index := &fakeFrameIndex{byFrame: map[int][]domain.LocalHit{
		0: {frameHit("B", 0.9), frameHit("C", 0.5)},
		1: {frameHit("B", 0.8)},
		2: {frameHit("B", 0.85)},
	}}
	audio := NewAudioPipeline(logger.Nop(), h.cache, h.tools, h.tr, nil, h.resolver, nil)
	h.pipeline = NewVideoPipeline(logger.Nop(), h.cache, h.tools, h.frames, h.gpu, index, audio, h.lineage, VideoConfig{
		GPUPollInterval: 5 * time.Millisecond,
		GPUTimeout:      40 * time.Millisecond,
		CancelOnTimeout: true,
	})
	return h
}

func TestResolveVideoDetectsComposite(t *testing.T) {
	h := newVideoHarness(t, &fakeGPU{})
	res, err := h.pipeline.ResolveVideo(context.Background(), Source{Path: writeInput(t, "clip.mp4", "video-bytes")}, nil)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, "A", res.Origins.Audio.Origin.ChannelID())
	assert.Equal(t, "B", res.Origins.Visual.Origin.ChannelID())
	assert.Equal(t, 3, res.Origins.Visual.MatchingFrames)
	assert.True(t, res.IsComposite)
	assert.InDelta(t, 0.9, res.Confidence.Visual, 1e-9)

	require.Len(t, h.lineage.stored, 1)
	assert.True(t, h.lineage.stored[0].IsComposite())
	assert.Equal(t, res.Hash, h.lineage.stored[0].ArtifactID)

	assert.ElementsMatch(t, h.frames.uploaded, h.frames.deleted)
	for _, p := range h.tools.extractedFrames() {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "frame %s not removed", p)
	}
}

func TestResolveVideoIsIdempotent(t *testing.T) {
	h := newVideoHarness(t, &fakeGPU{})
	src := Source{Path: writeInput(t, "clip.mp4", "video-bytes")}

	first, err := h.pipeline.ResolveVideo(context.Background(), src, nil)
	require.NoError(t, err)
	second, err := h.pipeline.ResolveVideo(context.Background(), src, nil)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, string(a), string(b))

	submits, _ := h.gpu.counts()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 1, h.tr.count())
	assert.Len(t, h.resolver.seen(), 1)
	assert.Len(t, h.lineage.stored, 1)
}

func TestResolveVideoGPUTimeoutIsDistinct(t *testing.T) {
	h := newVideoHarness(t, &fakeGPU{state: domain.GPURunning})
	res, err := h.pipeline.ResolveVideo(context.Background(), Source{Path: writeInput(t, "clip.mp4", "video-bytes")}, nil)
	require.NoError(t, err)

	require.NotNil(t, res.VisualError)
	assert.True(t, res.VisualError.TimedOut)
	assert.Equal(t, domain.StageGPUJobProcessing, res.VisualError.Stage)
	assert.False(t, res.Origins.Visual.Origin.Found())
	assert.True(t, res.Origins.Audio.Origin.Found())
	assert.False(t, res.IsComposite)
	assert.Nil(t, res.AudioError)

	_, cancels := h.gpu.counts()
	assert.Equal(t, 1, cancels)
	assert.Empty(t, h.lineage.stored)
	ok, err := h.cache.Exists(context.Background(), "video:"+res.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveVideoGPUFailureIsNotTimeout(t *testing.T) {
	h := newVideoHarness(t, &fakeGPU{state: domain.GPUFailed})
	res, err := h.pipeline.ResolveVideo(context.Background(), Source{Path: writeInput(t, "clip.mp4", "video-bytes")}, nil)
	require.NoError(t, err)

	require.NotNil(t, res.VisualError)
	assert.False(t, res.VisualError.TimedOut)
	assert.Contains(t, res.VisualError.Reason, domain.ErrGPUFailed.Error())
	_, cancels := h.gpu.counts()
	assert.Equal(t, 0, cancels)
}

func TestResolveVideoSubmitFailureCleansUpAndFailsJob(t *testing.T) {
	h := newVideoHarness(t, &fakeGPU{submitErr: errors.New("runpod unavailable")})
	ctx := context.Background()
	reporter := jobs.NewReporter(logger.Nop(), h.cache, nil)
	runner := jobs.NewRunner(ctx, logger.Nop(), reporter, h.cache, time.Minute)
	src := Source{Path: writeInput(t, "clip.mp4", "video-bytes")}

	id := runner.Submit(domain.JobKindVideo, func(ctx context.Context, t *jobs.Tracker) (any, error) {
		res, err := h.pipeline.ResolveVideo(ctx, src, t)
		if err != nil {
			return nil, err
		}
		return res, res.Err()
	})
	runner.Wait()

	job, ok, err := runner.Snapshot(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobError, job.Status)
	assert.Contains(t, job.Error, "runpod unavailable")

	raw, ok, err := runner.Result(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	var res VideoResult
	require.NoError(t, json.Unmarshal(raw, &res))
	require.NotNil(t, res.VisualError)
	assert.Equal(t, domain.StageGPUJobSubmit, res.VisualError.Stage)

	frames := h.tools.extractedFrames()
	require.Len(t, frames, 3)
	for _, p := range frames {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "frame %s not removed", p)
	}
	require.Len(t, h.frames.uploaded, 3)
	assert.ElementsMatch(t, h.frames.uploaded, h.frames.deleted)
}

func TestResolveVideoWithoutAudioTrack(t *testing.T) {
	h := newVideoHarness(t, &fakeGPU{})
	h.tools.hasAudio = false
	res, err := h.pipeline.ResolveVideo(context.Background(), Source{Path: writeInput(t, "clip.mp4", "silent")}, nil)
	require.NoError(t, err)

	assert.Nil(t, res.AudioError)
	assert.Equal(t, "no audio track", res.Origins.Audio.Origin.Reason())
	assert.True(t, res.Origins.Visual.Origin.Found())
	assert.False(t, res.IsComposite)
	assert.Equal(t, 0, h.tr.count())
}

func TestResolveVideoMissingSource(t *testing.T) {
	h := newVideoHarness(t, &fakeGPU{})
	_, err := h.pipeline.ResolveVideo(context.Background(), Source{}, nil)
	assert.ErrorIs(t, err, domain.ErrMissingSource)
}

func TestResolveVideoOwnedUploadIsRemoved(t *testing.T) {
	h := newVideoHarness(t, &fakeGPU{})
	path := writeInput(t, "upload.mp4", "video-bytes")
	_, err := h.pipeline.ResolveVideo(context.Background(), Source{Path: path, Owned: true}, nil)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
