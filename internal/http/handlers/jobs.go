package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/http/response"
	"github.com/yungbote/trace-backend/internal/sse"
)

type JobReader interface {
	Snapshot(ctx context.Context, id string) (domain.Job, bool, error)
	Result(ctx context.Context, id string) (json.RawMessage, bool, error)
}

type JobHandler struct {
	jobs JobReader
	hub  *sse.Hub
}

func NewJobHandler(jobs JobReader, hub *sse.Hub) *JobHandler {
	return &JobHandler{jobs: jobs, hub: hub}
}

func jobID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", errors.New("job id is required"))
		return "", false
	}
	return id, true
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, found, err := h.jobs.Snapshot(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err, "job_lookup_failed")
		return
	}
	if !found {
		response.RespondError(c, http.StatusNotFound, "job_not_found", errors.New("job not found or expired"))
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs/:id/result
func (h *JobHandler) GetResult(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	raw, found, err := h.jobs.Result(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err, "job_lookup_failed")
		return
	}
	if found {
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
		return
	}
	job, known, err := h.jobs.Snapshot(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err, "job_lookup_failed")
		return
	}
	if !known {
		response.RespondError(c, http.StatusNotFound, "job_not_found", errors.New("job not found or expired"))
		return
	}
	if !job.Status.Terminal() {
		c.JSON(http.StatusAccepted, gin.H{"job": job})
		return
	}
	response.RespondError(c, http.StatusNotFound, "result_not_found", errors.New("job finished without a result"))
}

// GET /api/jobs/:id/stream
func (h *JobHandler) Stream(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	if h.hub == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "stream_unavailable", errors.New("progress streaming not configured"))
		return
	}

	// Subscribe before reading the snapshot so no update falls in between.
	client := h.hub.NewClient()
	h.hub.AddChannel(client, sse.JobChannel(id))
	defer h.hub.CloseClient(client)

	job, found, err := h.jobs.Snapshot(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err, "job_lookup_failed")
		return
	}
	if !found {
		response.RespondError(c, http.StatusNotFound, "job_not_found", errors.New("job not found or expired"))
		return
	}
	if msg, err := sse.NewMessage(sse.JobChannel(id), snapshotEvent(job), job); err == nil {
		client.Outbound <- msg
	}

	h.hub.Stream(c.Writer, c.Request, client, func(msg sse.Message) bool {
		return msg.Event == sse.EventJobDone || msg.Event == sse.EventJobFailed
	})
}

func snapshotEvent(job domain.Job) sse.Event {
	switch job.Status {
	case domain.JobComplete:
		return sse.EventJobDone
	case domain.JobError:
		return sse.EventJobFailed
	default:
		return sse.EventJobProgress
	}
}
