package tineye

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestClient(rt roundTripFunc) *Client {
	c := New(logger.Nop(), "https://tineye.test/rest/search_batch", "key", time.Second)
	c.httpClient = &http.Client{Transport: rt}
	return c
}

func okResponse(body string) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}
}

func TestSubmitBatchMultipart(t *testing.T) {
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		if got := r.URL.Query().Get("api_key"); got != "key" {
			t.Fatalf("api_key: got=%q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		files := r.MultipartForm.File["images[]"]
		if len(files) != 2 || files[0].Filename != "h1.jpg" || files[1].Filename != "h2.jpg" {
			t.Fatalf("files: got=%v", files)
		}
		return okResponse(`{"batch_id":"b-7"}`), nil
	})
	id, err := c.SubmitBatch(context.Background(), []Image{{Hash: "h1", Data: []byte("a")}, {Hash: "h2", Data: []byte("b")}})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if id != "b-7" {
		t.Fatalf("batch id: want=%q got=%q", "b-7", id)
	}
}

func TestBatchResultsExtractsOrigins(t *testing.T) {
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/rest/search_batch/b-7" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		return okResponse(`{"batch_id":"b-7","status":"complete","results":[
			{"image":"h1.jpg","matches":[
				{"backlink":"https://a.example/p","domain":"a.example","crawl_date":"2021-06-01","score":40},
				{"backlink":"https://b.example/p","domain":"b.example","score":92},
				{"backlink":"","domain":"c.example","score":99}
			]}
		]}`), nil
	})
	res, err := c.BatchResults(context.Background(), "b-7")
	if err != nil {
		t.Fatalf("BatchResults: %v", err)
	}
	if !res.Complete {
		t.Fatalf("complete: want=true got=false")
	}
	hits := res.Matches["h1"]
	if len(hits) != 2 {
		t.Fatalf("hits: want=2 got=%d", len(hits))
	}
	if hits[0].Domain != "b.example" || hits[0].Score != 0.92 {
		t.Fatalf("first hit: got=%+v", hits[0])
	}
	if hits[1].Timestamp == nil || hits[1].Provenance != domain.ProvenanceBatchMatch {
		t.Fatalf("second hit: got=%+v", hits[1])
	}
}

func TestSubmitBatchEmpty(t *testing.T) {
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request")
		return nil, nil
	})
	if _, err := c.SubmitBatch(context.Background(), nil); err == nil {
		t.Fatalf("empty batch: expected error")
	}
}
