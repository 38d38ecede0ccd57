package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/trace-backend/internal/platform/logger"
)

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return Message{}
}

func mustMessage(t *testing.T, channel string, event Event, data any) Message {
	t.Helper()
	msg, err := NewMessage(channel, event, data)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestHubOrderingAndReconnect(t *testing.T) {
	hub := NewHub(logger.Nop())
	channel := JobChannel("j1")

	clientA := hub.NewClient()
	hub.AddChannel(clientA, channel)
	hub.Publish(context.Background(), mustMessage(t, channel, EventJobProgress, map[string]any{"seq": 1}))
	hub.Publish(context.Background(), mustMessage(t, channel, EventJobDone, map[string]any{"seq": 2}))

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != EventJobProgress {
		t.Fatalf("first event: want=%s got=%s", EventJobProgress, got.Event)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != EventJobDone {
		t.Fatalf("second event: want=%s got=%s", EventJobDone, got.Event)
	}

	hub.CloseClient(clientA)
	hub.CloseClient(clientA)
	if _, ok := <-clientA.Outbound; ok {
		t.Fatalf("clientA outbound should be closed after disconnect")
	}

	clientB := hub.NewClient()
	hub.AddChannel(clientB, channel)
	hub.Broadcast(mustMessage(t, channel, EventJobFailed, nil))
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != EventJobFailed {
		t.Fatalf("reconnect event: want=%s got=%s", EventJobFailed, got.Event)
	}
}

func TestHubIgnoresOtherChannels(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := hub.NewClient()
	hub.AddChannel(c, JobChannel("mine"))
	hub.Broadcast(mustMessage(t, JobChannel("other"), EventJobProgress, nil))
	select {
	case msg := <-c.Outbound:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamStopsAfterTerminalMessage(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := hub.NewClient()
	channel := JobChannel("j2")
	hub.AddChannel(c, channel)
	hub.Broadcast(mustMessage(t, channel, EventJobProgress, map[string]any{"percent": 10}))
	hub.Broadcast(mustMessage(t, channel, EventJobDone, map[string]any{"percent": 100}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	hub.Stream(rec, req, c, func(m Message) bool { return m.Event == EventJobDone })

	body := rec.Body.String()
	if !strings.Contains(body, "event: JobProgress") || !strings.Contains(body, "event: JobDone") {
		t.Fatalf("stream body missing events: %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: want=%q got=%q", "text/event-stream", ct)
	}
}

func TestRedisBusForwardsAcrossHubs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	publisher := NewHub(logger.Nop())
	subscriber := NewHub(logger.Nop())
	pubBus, err := NewRedisBus(logger.Nop(), rdb, "test:sse")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	subBus, err := NewRedisBus(logger.Nop(), rdb, "test:sse")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	if err := publisher.AttachBus(ctx, pubBus); err != nil {
		t.Fatalf("attach publisher: %v", err)
	}
	if err := subscriber.AttachBus(ctx, subBus); err != nil {
		t.Fatalf("attach subscriber: %v", err)
	}

	c := subscriber.NewClient()
	channel := JobChannel("remote")
	subscriber.AddChannel(c, channel)
	publisher.Publish(ctx, mustMessage(t, channel, EventJobProgress, map[string]any{"percent": 55}))

	got := recvMessage(t, c.Outbound, 2*time.Second)
	if got.Event != EventJobProgress {
		t.Fatalf("forwarded event: want=%s got=%s", EventJobProgress, got.Event)
	}
	if !strings.Contains(string(got.Data), "55") {
		t.Fatalf("forwarded data: got=%s", got.Data)
	}
}
