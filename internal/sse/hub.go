// Package sse fans job progress out to server-sent-event subscribers, optionally across
// instances through a Redis pub/sub bus.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type Event string

const (
	EventJobProgress Event = "JobProgress"
	EventJobDone     Event = "JobDone"
	EventJobFailed   Event = "JobFailed"
)

type Message struct {
	Channel string          `json:"channel"`
	Event   Event           `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func NewMessage(channel string, event Event, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("sse: encode %s: %w", event, err)
	}
	return Message{Channel: channel, Event: event, Data: raw}, nil
}

func JobChannel(jobID string) string { return "job:" + jobID }

type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
	once     sync.Once
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
	bus           Bus
	heartbeat     time.Duration
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("service", "SSEHub"),
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     15 * time.Second,
	}
}

// AttachBus routes Publish through bus and broadcasts whatever the bus delivers.
func (h *Hub) AttachBus(ctx context.Context, bus Bus) error {
	if bus == nil {
		return nil
	}
	if err := bus.StartForwarder(ctx, h.Broadcast); err != nil {
		return err
	}
	h.mu.Lock()
	h.bus = bus
	h.mu.Unlock()
	return nil
}

// Publish sends msg through the bus when attached, else broadcasts locally.
func (h *Hub) Publish(ctx context.Context, msg Message) {
	h.mu.RLock()
	bus := h.bus
	h.mu.RUnlock()
	if bus == nil {
		h.Broadcast(msg)
		return
	}
	if err := bus.Publish(ctx, msg); err != nil {
		h.log.Warn("SSE bus publish failed; broadcasting locally", "channel", msg.Channel, "error", err)
		h.Broadcast(msg)
	}
}

func (h *Hub) NewClient() *Client {
	return &Client{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan Message, 32),
		done:     make(chan struct{}),
	}
}

func (h *Hub) AddChannel(c *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Channels[channel] = true
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[c] = true
	h.log.Debug("SSE client subscribed", "client_id", c.ID, "channel", channel)
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range c.Channels {
		if subs, ok := h.subscriptions[ch]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	c.Channels = make(map[string]bool)
}

func (h *Hub) Broadcast(msg Message) {
	if msg.Channel == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("Dropping SSE message; outbound buffer full", "client_id", c.ID)
		}
	}
}

// CloseClient unsubscribes c. Safe to call more than once.
func (h *Hub) CloseClient(c *Client) {
	c.once.Do(func() {
		h.RemoveClient(c)
		close(c.done)
		h.mu.Lock()
		close(c.Outbound)
		h.mu.Unlock()
	})
}

// Stream writes messages for c until the request ends or stop returns true for a sent message.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, c *Client, stop func(Message) bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	flusher.Flush()
	ctx := r.Context()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Debug("SSE client context done", "client_id", c.ID, "err", ctx.Err())
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-c.Outbound:
			if !ok {
				return
			}
			WriteMessage(w, msg)
			flusher.Flush()
			if stop != nil && stop(msg) {
				return
			}
		}
	}
}

func WriteMessage(w http.ResponseWriter, msg Message) {
	_, _ = fmt.Fprintf(w, "event: %s\n", msg.Event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", string(msg.Data))
}
