package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/http/response"
)

const defaultSpreadDepth = 3

type LineageReader interface {
	GetOrigin(ctx context.Context, artifactID string) (*domain.OriginAssignment, error)
	GetSpreadView(ctx context.Context, artifactID string, depth int) (*domain.SpreadView, error)
}

type LineageHandler struct {
	lineage LineageReader
}

func NewLineageHandler(lineage LineageReader) *LineageHandler {
	return &LineageHandler{lineage: lineage}
}

// GET /api/lineage/:id
func (h *LineageHandler) GetOrigin(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	a, err := h.lineage.GetOrigin(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err, "lineage_lookup_failed")
		return
	}
	response.RespondOK(c, a)
}

// GET /api/lineage/:id/spread?depth=N
func (h *LineageHandler) GetSpread(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	depth := defaultSpreadDepth
	if raw := strings.TrimSpace(c.Query("depth")); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_depth", fmt.Errorf("depth must be an integer: %q", raw))
			return
		}
		depth = d
	}
	view, err := h.lineage.GetSpreadView(c.Request.Context(), id, depth)
	if err != nil {
		respondErr(c, err, "spread_lookup_failed")
		return
	}
	response.RespondOK(c, view)
}
