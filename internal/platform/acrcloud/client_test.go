package acrcloud

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestClient(rt roundTripFunc) *Client {
	return &Client{
		log:            logger.Nop(),
		baseURL:        "https://acr.test",
		accessKey:      "key",
		accessSecret:   "secret",
		maxSampleBytes: 4,
		httpClient:     &http.Client{Transport: rt},
		now:            func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func okResponse(body string) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}
}

func TestSignIsDeterministic(t *testing.T) {
	a := sign("secret", "key", "1700000000")
	b := sign("secret", "key", "1700000000")
	if a == "" || a != b {
		t.Fatalf("sign: want stable non-empty got=%q / %q", a, b)
	}
	if sign("other", "key", "1700000000") == a {
		t.Fatalf("sign: secret must change the signature")
	}
}

func TestIdentifySendsSignedMultipart(t *testing.T) {
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != identifyPath {
			t.Fatalf("path: want=%q got=%q", identifyPath, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("signature"); got != sign("secret", "key", "1700000000") {
			t.Fatalf("signature: got=%q", got)
		}
		if got := r.FormValue("sample_bytes"); got != "4" {
			t.Fatalf("sample_bytes: want=4 got=%q", got)
		}
		return okResponse(`{"status":{"code":0,"msg":"Success"},"metadata":{"music":[
			{"title":" Song ","artists":[{"name":"Band"}],"album":{"name":"LP"},"release_date":"2020-05-01","score":85}
		]}}`), nil
	})

	m, err := c.Identify(context.Background(), []byte("abcdefgh"))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if m == nil || m.Title != "Song" || m.Artist != "Band" || m.Album != "LP" {
		t.Fatalf("music: got=%+v", m)
	}
	if m.Score != 0.85 {
		t.Fatalf("score: want=0.85 got=%v", m.Score)
	}
}

func TestIdentifyNoResult(t *testing.T) {
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		return okResponse(`{"status":{"code":1001,"msg":"No result"}}`), nil
	})
	m, err := c.Identify(context.Background(), []byte("abc"))
	if err != nil || m != nil {
		t.Fatalf("no result: want=(nil, nil) got=(%v, %v)", m, err)
	}
}

func TestIdentifyServiceError(t *testing.T) {
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		return okResponse(`{"status":{"code":3001,"msg":"Missing/Invalid Access Key"}}`), nil
	})
	if _, err := c.Identify(context.Background(), []byte("abc")); err == nil {
		t.Fatalf("service error: expected error")
	}
}
