package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/trace-backend/internal/http/response"
	"github.com/yungbote/trace-backend/internal/scheduler"
)

type BatchScheduler interface {
	ForceRun(ctx context.Context, name string) (any, error)
	Status() []scheduler.JobState
}

type AdminHandler struct {
	scheduler BatchScheduler
}

func NewAdminHandler(s BatchScheduler) *AdminHandler {
	return &AdminHandler{scheduler: s}
}

type batchRunResponse struct {
	Job    string `json:"job"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// POST /api/admin/batch/:name/run
// A failing run still answers 200 with its partial result and error.
func (h *AdminHandler) RunBatch(c *gin.Context) {
	name := c.Param("name")
	out, err := h.scheduler.ForceRun(c.Request.Context(), name)
	var unknown *scheduler.ErrUnknownJob
	if errors.As(err, &unknown) {
		response.RespondError(c, http.StatusNotFound, "unknown_job", err)
		return
	}
	res := batchRunResponse{Job: name, Result: out}
	if err != nil {
		res.Error = err.Error()
	}
	response.RespondOK(c, res)
}

// GET /api/admin/batch
func (h *AdminHandler) BatchStatus(c *gin.Context) {
	response.RespondOK(c, gin.H{"jobs": h.scheduler.Status()})
}
