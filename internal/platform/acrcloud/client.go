package acrcloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/httpx"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

const (
	identifyPath     = "/v1/identify"
	dataType         = "audio"
	signatureVersion = "1"

	statusSuccess  = 0
	statusNoResult = 1001
)

// Music is the best fingerprint match for a sample.
type Music struct {
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album,omitempty"`
	ReleaseDate string  `json:"release_date,omitempty"`
	Score       float64 `json:"score"`
}

type Client struct {
	log            *logger.Logger
	baseURL        string
	accessKey      string
	accessSecret   string
	maxSampleBytes int
	httpClient     *http.Client
	now            func() time.Time
}

// NewFromEnv returns (nil, nil) when ACRCLOUD_HOST is unset.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	host := envutil.String("ACRCLOUD_HOST", "")
	if host == "" {
		return nil, nil
	}
	key := envutil.String("ACRCLOUD_ACCESS_KEY", "")
	secret := envutil.String("ACRCLOUD_ACCESS_SECRET", "")
	if key == "" || secret == "" {
		return nil, fmt.Errorf("acrcloud: ACRCLOUD_ACCESS_KEY and ACRCLOUD_ACCESS_SECRET are required")
	}
	base := host
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return &Client{
		log:            log.With("service", "ACRCloudClient"),
		baseURL:        strings.TrimRight(base, "/"),
		accessKey:      key,
		accessSecret:   secret,
		maxSampleBytes: envutil.Int("ACRCLOUD_MAX_SAMPLE_BYTES", 1<<20),
		httpClient:     &http.Client{Timeout: envutil.Duration("ACRCLOUD_TIMEOUT", 30*time.Second)},
		now:            time.Now,
	}, nil
}

func sign(secret, accessKey, timestamp string) string {
	msg := strings.Join([]string{http.MethodPost, identifyPath, accessKey, dataType, signatureVersion, timestamp}, "\n")
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type identifyResponse struct {
	Status struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"status"`
	Metadata struct {
		Music []struct {
			Title   string `json:"title"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				Name string `json:"name"`
			} `json:"album"`
			ReleaseDate string  `json:"release_date"`
			Score       float64 `json:"score"`
		} `json:"music"`
	} `json:"metadata"`
}

// Identify returns (nil, nil) when the service has no match for the sample.
func (c *Client) Identify(ctx context.Context, sample []byte) (*Music, error) {
	ctx = ctxutil.Default(ctx)
	if len(sample) == 0 {
		return nil, fmt.Errorf("acrcloud: empty sample")
	}
	if c.maxSampleBytes > 0 && len(sample) > c.maxSampleBytes {
		sample = sample[:c.maxSampleBytes]
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"access_key":        c.accessKey,
		"data_type":         dataType,
		"signature_version": signatureVersion,
		"signature":         sign(c.accessSecret, c.accessKey, ts),
		"sample_bytes":      strconv.Itoa(len(sample)),
		"timestamp":         ts,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("acrcloud: write field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile("sample", "sample.wav")
	if err != nil {
		return nil, fmt.Errorf("acrcloud: create sample part: %w", err)
	}
	if _, err := fw.Write(sample); err != nil {
		return nil, fmt.Errorf("acrcloud: write sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("acrcloud: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+identifyPath, &body)
	if err != nil {
		return nil, fmt.Errorf("acrcloud: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.Current().ObserveUpstream("acrcloud", "identify", "error", time.Since(start))
		return nil, fmt.Errorf("acrcloud: identify: %w", err)
	}
	raw, err := httpx.ReadBody(resp, 1<<20)
	if err != nil {
		observability.Current().ObserveUpstream("acrcloud", "identify", "error", time.Since(start))
		return nil, fmt.Errorf("acrcloud: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.Current().ObserveUpstream("acrcloud", "identify", "error", time.Since(start))
		return nil, httpx.NewStatusError("acrcloud", resp, raw)
	}
	observability.Current().ObserveUpstream("acrcloud", "identify", "ok", time.Since(start))

	var parsed identifyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("acrcloud: decode response: %w", err)
	}
	switch parsed.Status.Code {
	case statusSuccess:
	case statusNoResult:
		return nil, nil
	default:
		return nil, fmt.Errorf("acrcloud: identify status %d: %s", parsed.Status.Code, parsed.Status.Msg)
	}
	if len(parsed.Metadata.Music) == 0 {
		return nil, nil
	}
	best := parsed.Metadata.Music[0]
	m := &Music{
		Title:       strings.TrimSpace(best.Title),
		Album:       strings.TrimSpace(best.Album.Name),
		ReleaseDate: best.ReleaseDate,
		Score:       best.Score / 100,
	}
	if len(best.Artists) > 0 {
		m.Artist = strings.TrimSpace(best.Artists[0].Name)
	}
	return m, nil
}
