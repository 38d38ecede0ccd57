package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/ctxutil"
	"github.com/yungbote/trace-backend/internal/platform/envutil"
	"github.com/yungbote/trace-backend/internal/platform/httpx"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

// Client drives a serverless endpoint that returns one CLIP embedding per image URL.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFromEnv returns (nil, nil) unless both RUNPOD_API_KEY and RUNPOD_ENDPOINT_ID are set.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	apiKey := envutil.String("RUNPOD_API_KEY", "")
	endpoint := envutil.String("RUNPOD_ENDPOINT_ID", "")
	if apiKey == "" && endpoint == "" {
		return nil, nil
	}
	if apiKey == "" || endpoint == "" {
		return nil, fmt.Errorf("runpod: RUNPOD_API_KEY and RUNPOD_ENDPOINT_ID must both be set")
	}
	base := strings.TrimRight(envutil.String("RUNPOD_BASE_URL", "https://api.runpod.ai/v2"), "/")
	return New(log, base+"/"+url.PathEscape(endpoint), apiKey, envutil.Duration("RUNPOD_TIMEOUT", 30*time.Second)), nil
}

func New(log *logger.Logger, endpointURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		log:        log.With("service", "RunPodClient"),
		baseURL:    strings.TrimRight(endpointURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type runRequest struct {
	Input struct {
		Images []string `json:"images"`
		JobID  string   `json:"job_id,omitempty"`
	} `json:"input"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Output *struct {
		Embeddings [][]float32 `json:"embeddings"`
	} `json:"output,omitempty"`
}

// Submit queues an embedding job and returns the remote handle.
func (c *Client) Submit(ctx context.Context, imageURLs []string, jobID string) (string, error) {
	if len(imageURLs) == 0 {
		return "", fmt.Errorf("runpod: no images")
	}
	var body runRequest
	body.Input.Images = imageURLs
	body.Input.JobID = jobID

	var out jobResponse
	if err := c.do(ctx, http.MethodPost, "/run", body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("runpod: submit returned no job id")
	}
	return out.ID, nil
}

func (c *Client) Status(ctx context.Context, handle string) (domain.GPUJobState, error) {
	var out jobResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(handle), nil, &out); err != nil {
		return "", err
	}
	return MapStatus(out.Status), nil
}

func (c *Client) Result(ctx context.Context, handle string) ([][]float32, error) {
	var out jobResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(handle), nil, &out); err != nil {
		return nil, err
	}
	if MapStatus(out.Status) != domain.GPUDone {
		return nil, fmt.Errorf("runpod: job %s not complete (status=%s)", handle, out.Status)
	}
	if out.Output == nil || len(out.Output.Embeddings) == 0 {
		return nil, fmt.Errorf("runpod: job %s returned no embeddings", handle)
	}
	return out.Output.Embeddings, nil
}

func (c *Client) Cancel(ctx context.Context, handle string) error {
	return c.do(ctx, http.MethodPost, "/cancel/"+url.PathEscape(handle), nil, nil)
}

// MapStatus folds the serverless job states into queued, running, done and failed.
func MapStatus(s string) domain.GPUJobState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_QUEUE":
		return domain.GPUQueued
	case "IN_PROGRESS":
		return domain.GPURunning
	case "COMPLETED":
		return domain.GPUDone
	case "FAILED", "CANCELLED", "TIMED_OUT":
		return domain.GPUFailed
	default:
		return domain.GPUQueued
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	ctx = ctxutil.Default(ctx)
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("runpod: encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("runpod: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.Current().ObserveUpstream("runpod", op, "error", time.Since(start))
		return fmt.Errorf("runpod: %s: %w", op, err)
	}
	raw, err := httpx.ReadBody(resp, 0)
	if err != nil {
		observability.Current().ObserveUpstream("runpod", op, "error", time.Since(start))
		return fmt.Errorf("runpod: read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.Current().ObserveUpstream("runpod", op, "error", time.Since(start))
		return httpx.NewStatusError("runpod", resp, raw)
	}
	observability.Current().ObserveUpstream("runpod", op, "ok", time.Since(start))
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("runpod: decode %s response: %w; raw=%s", op, err, httpx.TruncateBody(raw))
	}
	return nil
}
