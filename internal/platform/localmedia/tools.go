package localmedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/httpx"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

// Tools wraps ffmpeg and ffprobe. Every path it returns lives under the work root.
//
// REQUIRED BINARIES: ffmpeg, ffprobe.
type Tools interface {
	AssertReady(ctx context.Context) error

	Probe(ctx context.Context, videoPath string) (*Metadata, error)
	ExtractAudio(ctx context.Context, videoPath string, outPath string) (string, error)
	ExtractFrameAt(ctx context.Context, videoPath string, atSec float64, outPath string) (string, error)
	ExtractKeyframes(ctx context.Context, videoPath string, durationSec float64, count int) ([]string, error)

	Download(ctx context.Context, rawURL string, suffix string) (string, func(), error)
	WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error)
	TempPath(suffix string) string
}

type VideoStream struct {
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

type AudioStream struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
}

type Metadata struct {
	DurationSec float64      `json:"duration"`
	SizeBytes   int64        `json:"size_bytes"`
	Format      string       `json:"format"`
	BitRate     int64        `json:"bitrate"`
	Video       *VideoStream `json:"video,omitempty"`
	Audio       *AudioStream `json:"audio,omitempty"`
	HasAudio    bool         `json:"has_audio"`
}

type tools struct {
	log         *logger.Logger
	ffmpegPath  string
	ffprobePath string
	workRoot    string
	timeout     time.Duration
	maxDownload int64
	httpClient  *http.Client
}

func New(log *logger.Logger) Tools {
	return &tools{
		log:         log.With("service", "MediaTools"),
		ffmpegPath:  envutil.String("FFMPEG_PATH", "ffmpeg"),
		ffprobePath: envutil.String("FFPROBE_PATH", "ffprobe"),
		workRoot:    envutil.String("MEDIA_WORK_ROOT", filepath.Join(os.TempDir(), "trace-media")),
		timeout:     envutil.Duration("MEDIA_COMMAND_TIMEOUT", 5*time.Minute),
		maxDownload: int64(envutil.Int("MEDIA_MAX_DOWNLOAD_MB", 500)) << 20,
		httpClient:  &http.Client{Timeout: envutil.Duration("MEDIA_DOWNLOAD_TIMEOUT", 60*time.Second)},
	}
}

func (m *tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("create workRoot: %w", err)
	}
	return nil
}

func (m *tools) TempPath(suffix string) string {
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return filepath.Join(m.workRoot, uuid.NewString()+suffix)
}

func (m *tools) Probe(ctx context.Context, videoPath string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		FormatName string `json:"format_name"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Channels     int    `json:"channels"`
		SampleRate   string `json:"sample_rate"`
	} `json:"streams"`
}

func parseProbe(raw []byte) (*Metadata, error) {
	var p probeOutput
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	md := &Metadata{
		DurationSec: parseFloat(p.Format.Duration),
		SizeBytes:   int64(parseFloat(p.Format.Size)),
		Format:      p.Format.FormatName,
		BitRate:     int64(parseFloat(p.Format.BitRate)),
	}
	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			if md.Video == nil {
				md.Video = &VideoStream{Codec: s.CodecName, Width: s.Width, Height: s.Height, FPS: parseRate(s.AvgFrameRate)}
			}
		case "audio":
			if md.Audio == nil {
				sr, _ := strconv.Atoi(s.SampleRate)
				md.Audio = &AudioStream{Codec: s.CodecName, Channels: s.Channels, SampleRate: sr}
			}
		}
	}
	md.HasAudio = md.Audio != nil
	return md, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseRate reads ffprobe's "num/den" frame rates.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(s)
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return parseFloat(num) / d
}

// ExtractAudio writes a 16kHz mono WAV track.
func (m *tools) ExtractAudio(ctx context.Context, videoPath string, outPath string) (string, error) {
	if videoPath == "" || outPath == "" {
		return "", fmt.Errorf("videoPath and outPath required")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir outPath dir: %w", err)
	}
	args := []string{"-y", "-i", videoPath, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", outPath}
	if err := m.ffmpeg(ctx, args...); err != nil {
		return "", fmt.Errorf("ffmpeg extract audio: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("audio output missing at %s", outPath)
	}
	return outPath, nil
}

func (m *tools) ExtractFrameAt(ctx context.Context, videoPath string, atSec float64, outPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir frame dir: %w", err)
	}
	args := []string{"-y", "-ss", strconv.FormatFloat(atSec, 'f', 3, 64), "-i", videoPath, "-vframes", "1", "-q:v", "2", outPath}
	if err := m.ffmpeg(ctx, args...); err != nil {
		return "", fmt.Errorf("ffmpeg extract frame at %.3fs: %w", atSec, err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("frame output missing at %s", outPath)
	}
	return outPath, nil
}

// ExtractKeyframes grabs count frames spread over the video. Frames that fail are skipped.
func (m *tools) ExtractKeyframes(ctx context.Context, videoPath string, durationSec float64, count int) ([]string, error) {
	positions := FramePositions(durationSec, count)
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	out := make([]string, 0, len(positions))
	for i, pos := range positions {
		path := filepath.Join(m.workRoot, fmt.Sprintf("%s_frame_%d.jpg", base, i))
		if _, err := m.ExtractFrameAt(ctx, videoPath, pos, path); err != nil {
			m.log.Warn("Keyframe extraction failed", "position", pos, "error", err)
			continue
		}
		out = append(out, path)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no frames produced for %s", videoPath)
	}
	return out, nil
}

// FramePositions returns start, evenly spaced middles, and a point just before the end.
func FramePositions(durationSec float64, count int) []float64 {
	if count <= 0 {
		count = 3
	}
	if durationSec <= 0 || count == 1 {
		return []float64{0}
	}
	end := durationSec - 0.5
	if end < 0 {
		end = 0
	}
	out := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		if i == count-1 {
			out = append(out, end)
			continue
		}
		out = append(out, durationSec*float64(i)/float64(count-1))
	}
	return out
}

func (m *tools) ffmpeg(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), m.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, m.ffmpegPath, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w; out=%s", err, httpx.TruncateBody(out))
	}
	return nil
}

// Download streams rawURL into the work root. The cleanup func is always non-nil.
func (m *tools) Download(ctx context.Context, rawURL string, suffix string) (string, func(), error) {
	noop := func() {}
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", noop, fmt.Errorf("mkdir workRoot: %w", err)
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, rawURL, nil)
	if err != nil {
		return "", noop, fmt.Errorf("build download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", noop, fmt.Errorf("download %s: status=%d", rawURL, resp.StatusCode)
	}

	path := m.TempPath(suffix)
	f, err := os.Create(path)
	if err != nil {
		return "", noop, fmt.Errorf("create download file: %w", err)
	}
	cleanup := func() { _ = os.Remove(path) }
	n, err := io.Copy(f, io.LimitReader(resp.Body, m.maxDownload+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("write download: %w", err)
	}
	if n > m.maxDownload {
		cleanup()
		return "", noop, fmt.Errorf("download %s exceeds %d bytes", rawURL, m.maxDownload)
	}
	return path, cleanup, nil
}

func (m *tools) WriteTempFile(ctx context.Context, data []byte, suffix string) (string, func(), error) {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return "", func() {}, fmt.Errorf("mkdir workRoot: %w", err)
	}
	path := m.TempPath(suffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	return path, func() { _ = os.Remove(path) }, nil
}
