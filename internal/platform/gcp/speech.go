package gcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/httpx"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type Segment struct {
	Text       string  `json:"text"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence"`
}

func (s Segment) Duration() float64 {
	return s.EndSec - s.StartSec
}

type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

type Speech struct {
	log        *logger.Logger
	client     *speech.Client
	language   string
	model      string
	window     float64
	maxRetries int
}

// NewSpeechFromEnv returns (nil, nil) unless GCP_SPEECH_ENABLED is true.
func NewSpeechFromEnv(log *logger.Logger) (*Speech, error) {
	if !envutil.Bool("GCP_SPEECH_ENABLED", false) {
		return nil, nil
	}
	c, err := speech.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &Speech{
		log:        log.With("service", "gcp.Speech"),
		client:     c,
		language:   envutil.String("GCP_SPEECH_LANGUAGE", "en-US"),
		model:      envutil.String("GCP_SPEECH_MODEL", ""),
		window:     10,
		maxRetries: 4,
	}, nil
}

func (s *Speech) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Transcribe runs long-running recognition over inline audio and groups words into time windows.
func (s *Speech) Transcribe(ctx context.Context, audio []byte, fileName string) (*Transcript, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if len(audio) == 0 {
		return &Transcript{Language: s.language}, nil
	}
	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               s.language,
			Model:                      s.model,
			Encoding:                   inferSpeechEncoding(fileName),
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}

	start := time.Now()
	resp, err := s.retryLR(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := s.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.Current().ObserveUpstream("gcp_speech", "long_running_recognize", outcome, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize: %w", err)
	}
	return parseSpeechResponse(resp, s.language, s.window), nil
}

func inferSpeechEncoding(fileName string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

type speechWord struct {
	text  string
	start float64
	end   float64
	conf  float64
}

func parseSpeechResponse(resp *speechpb.LongRunningRecognizeResponse, language string, window float64) *Transcript {
	out := &Transcript{Language: language}
	if resp == nil {
		return out
	}
	var full strings.Builder
	words := []speechWord{}
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		txt := strings.TrimSpace(alt.Transcript)
		if txt == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(txt)
		for _, w := range alt.Words {
			if w == nil {
				continue
			}
			words = append(words, speechWord{
				text:  w.Word,
				start: durToSec(w.StartTime),
				end:   durToSec(w.EndTime),
				conf:  float64(w.Confidence),
			})
		}
	}
	out.Text = collapseWhitespace(full.String())
	out.Segments = groupByTime(words, window)
	return out
}

func groupByTime(words []speechWord, windowSec float64) []Segment {
	if len(words) == 0 {
		return nil
	}
	if windowSec <= 0 {
		windowSec = 10
	}
	segs := []Segment{}
	cur := Segment{StartSec: words[0].start, EndSec: words[0].end}
	var buf strings.Builder
	var confSum float64
	var confN int

	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt == "" {
			return
		}
		cur.Text = txt
		if confN > 0 {
			cur.Confidence = confSum / float64(confN)
		}
		segs = append(segs, cur)
		buf.Reset()
		confSum = 0
		confN = 0
	}

	for _, w := range words {
		if (w.start-cur.StartSec) >= windowSec && buf.Len() > 0 {
			flush()
			cur = Segment{StartSec: w.start, EndSec: w.end}
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.text)
		if w.end > cur.EndSec {
			cur.EndSec = w.end
		}
		if w.conf > 0 {
			confSum += w.conf
			confN++
		}
	}
	flush()
	return segs
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func (s *Speech) retryLR(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err
		if !retryableGRPC(err) || attempt == s.maxRetries {
			break
		}
		s.log.Warn("Speech call failed; retrying", "attempt", attempt+1, "backoff", backoff.String(), "error", err)
		if err := httpx.Sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}

func retryableGRPC(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
