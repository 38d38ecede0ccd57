package tineye

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/httpx"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

const maxOrigins = 10

type Image struct {
	Hash string
	Data []byte
}

// BatchResult maps each submitted image hash to its matches once the batch is complete.
type BatchResult struct {
	BatchID  string
	Complete bool
	Matches  map[string][]domain.OriginHit
}

type Client struct {
	log        *logger.Logger
	batchURL   string
	apiKey     string
	httpClient *http.Client
}

// NewFromEnv returns (nil, nil) when TINEYE_API_KEY is unset.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	key := envutil.String("TINEYE_API_KEY", "")
	if key == "" {
		return nil, nil
	}
	return New(log, envutil.String("TINEYE_BATCH_API_URL", "https://api.tineye.com/rest/search_batch/"), key,
		envutil.Duration("TINEYE_TIMEOUT", 2*time.Minute)), nil
}

func New(log *logger.Logger, batchURL, apiKey string, timeout time.Duration) *Client {
	if !strings.HasSuffix(batchURL, "/") {
		batchURL += "/"
	}
	return &Client{
		log:        log.With("service", "TinEyeClient"),
		batchURL:   batchURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type batchSubmitResponse struct {
	BatchID string `json:"batch_id"`
}

// SubmitBatch uploads every image in one request. File names carry the image hash.
func (c *Client) SubmitBatch(ctx context.Context, images []Image) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("tineye: empty batch")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, img := range images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images[]"; filename="%s.jpg"`, img.Hash))
		h.Set("Content-Type", "image/jpeg")
		pw, err := mw.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("tineye: create part: %w", err)
		}
		if _, err := pw.Write(img.Data); err != nil {
			return "", fmt.Errorf("tineye: write part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("tineye: close multipart: %w", err)
	}

	var out batchSubmitResponse
	if err := c.do(ctx, http.MethodPost, c.batchURL, &body, mw.FormDataContentType(), "search_batch", &out); err != nil {
		return "", err
	}
	if out.BatchID == "" {
		return "", fmt.Errorf("tineye: batch response missing batch_id")
	}
	return out.BatchID, nil
}

type match struct {
	Backlink  string  `json:"backlink"`
	Domain    string  `json:"domain"`
	CrawlDate string  `json:"crawl_date"`
	Score     float64 `json:"score"`
	ImageURL  string  `json:"image_url"`
}

type batchStatusResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
	Results []struct {
		Image   string  `json:"image"`
		Matches []match `json:"matches"`
	} `json:"results"`
}

func (c *Client) BatchResults(ctx context.Context, batchID string) (*BatchResult, error) {
	var out batchStatusResponse
	if err := c.do(ctx, http.MethodGet, c.batchURL+url.PathEscape(batchID), nil, "", "batch_results", &out); err != nil {
		return nil, err
	}
	res := &BatchResult{
		BatchID:  batchID,
		Complete: strings.EqualFold(out.Status, "complete"),
		Matches:  map[string][]domain.OriginHit{},
	}
	for _, r := range out.Results {
		hash := strings.TrimSuffix(r.Image, ".jpg")
		res.Matches[hash] = extractOrigins(r.Matches)
	}
	return res, nil
}

func extractOrigins(matches []match) []domain.OriginHit {
	out := make([]domain.OriginHit, 0, len(matches))
	for _, m := range matches {
		if strings.TrimSpace(m.Backlink) == "" {
			continue
		}
		score := m.Score / 100
		if score > 1 {
			score = 1
		}
		h := domain.OriginHit{
			URL:        m.Backlink,
			Title:      m.Domain,
			Domain:     m.Domain,
			ChannelID:  m.Domain,
			Score:      score,
			Provenance: domain.ProvenanceBatchMatch,
		}
		if ts, err := time.Parse("2006-01-02", strings.TrimSpace(m.CrawlDate)); err == nil {
			h.Timestamp = &ts
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > maxOrigins {
		out = out[:maxOrigins]
	}
	return out
}

func (c *Client) do(ctx context.Context, method, rawURL string, body *bytes.Buffer, contentType, op string, out any) error {
	ctx = ctxutil.Default(ctx)
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("tineye: parse url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return fmt.Errorf("tineye: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.Current().ObserveUpstream("tineye", op, "error", time.Since(start))
		return fmt.Errorf("tineye: %s: %w", op, err)
	}
	raw, err := httpx.ReadBody(resp, 0)
	if err != nil {
		observability.Current().ObserveUpstream("tineye", op, "error", time.Since(start))
		return fmt.Errorf("tineye: read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.Current().ObserveUpstream("tineye", op, "error", time.Since(start))
		return httpx.NewStatusError("tineye", resp, raw)
	}
	observability.Current().ObserveUpstream("tineye", op, "ok", time.Since(start))
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("tineye: decode %s response: %w", op, err)
	}
	return nil
}
