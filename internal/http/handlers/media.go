package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/http/response"
	"github.com/yungbote/trace-backend/internal/jobs"
	"github.com/yungbote/trace-backend/internal/media"
	"github.com/yungbote/trace-backend/internal/platform/apierr"
)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,6}$`)

type AudioResolver interface {
	ResolveAudio(ctx context.Context, src media.Source, t *jobs.Tracker) (*media.AudioResult, error)
}

type VideoResolver interface {
	ResolveVideo(ctx context.Context, src media.Source, t *jobs.Tracker) (*media.VideoResult, error)
}

type JobSubmitter interface {
	Submit(kind domain.JobKind, fn jobs.Func) string
}

// Uploads hands out scratch paths for uploaded files.
type Uploads interface {
	TempPath(suffix string) string
}

type MediaHandler struct {
	runner  JobSubmitter
	audio   AudioResolver
	video   VideoResolver
	uploads Uploads
}

func NewMediaHandler(runner JobSubmitter, audio AudioResolver, video VideoResolver, uploads Uploads) *MediaHandler {
	return &MediaHandler{runner: runner, audio: audio, video: video, uploads: uploads}
}

type jobAccepted struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	Poll   string           `json:"poll_url"`
	Stream string           `json:"stream_url"`
}

func accepted(id string) jobAccepted {
	return jobAccepted{
		JobID:  id,
		Status: domain.JobStarting,
		Poll:   "/api/jobs/" + id,
		Stream: "/api/jobs/" + id + "/stream",
	}
}

// POST /api/audio
func (h *MediaHandler) SubmitAudio(c *gin.Context) {
	if h.audio == nil {
		respondErr(c, apierr.New(http.StatusServiceUnavailable, "audio_unavailable", errors.New("audio resolution not configured")), "audio_unavailable")
		return
	}
	src, err := h.source(c, ".wav")
	if err != nil {
		respondErr(c, err, "invalid_source")
		return
	}
	id := h.runner.Submit(domain.JobKindAudio, func(ctx context.Context, t *jobs.Tracker) (any, error) {
		res, err := h.audio.ResolveAudio(ctx, src, t)
		if res == nil {
			return nil, err
		}
		return res, err
	})
	response.RespondAccepted(c, accepted(id))
}

// POST /api/video?sync=true
func (h *MediaHandler) SubmitVideo(c *gin.Context) {
	if h.video == nil {
		respondErr(c, apierr.New(http.StatusServiceUnavailable, "video_unavailable", errors.New("video resolution not configured")), "video_unavailable")
		return
	}
	sync, _ := strconv.ParseBool(c.Query("sync"))
	src, err := h.source(c, ".mp4")
	if err != nil {
		respondErr(c, err, "invalid_source")
		return
	}

	if sync {
		res, err := h.video.ResolveVideo(c.Request.Context(), src, nil)
		if err != nil {
			respondErr(c, err, "video_failed")
			return
		}
		response.RespondOK(c, res)
		return
	}

	id := h.runner.Submit(domain.JobKindVideo, func(ctx context.Context, t *jobs.Tracker) (any, error) {
		res, err := h.video.ResolveVideo(ctx, src, t)
		if err != nil {
			return nil, err
		}
		return res, res.Err()
	})
	response.RespondAccepted(c, accepted(id))
}

// source takes the multipart "file" field, else the "url" form field.
func (h *MediaHandler) source(c *gin.Context, defaultExt string) (media.Source, error) {
	if fh, err := c.FormFile("file"); err == nil {
		if h.uploads == nil {
			return media.Source{}, apierr.BadRequest("uploads_unavailable", errors.New("file uploads not configured; pass a url"))
		}
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		if !extPattern.MatchString(ext) {
			ext = defaultExt
		}
		path := h.uploads.TempPath(ext)
		if err := c.SaveUploadedFile(fh, path); err != nil {
			return media.Source{}, fmt.Errorf("save upload: %w", err)
		}
		return media.Source{Path: path, Owned: true}, nil
	}

	raw := strings.TrimSpace(c.PostForm("url"))
	if raw == "" {
		return media.Source{}, domain.ErrMissingSource
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return media.Source{}, apierr.BadRequest("invalid_url", fmt.Errorf("url must be an absolute http(s) url: %q", raw))
	}
	return media.Source{URL: u.String()}, nil
}
