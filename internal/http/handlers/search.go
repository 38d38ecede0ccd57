package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/http/response"
	"github.com/yungbote/trace-backend/internal/search"
)

type TextResolver interface {
	Resolve(ctx context.Context, q search.Query) (*search.Result, error)
}

type SearchHandler struct {
	router TextResolver
}

func NewSearchHandler(router TextResolver) *SearchHandler {
	return &SearchHandler{router: router}
}

// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var q search.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(q.Text) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_query", errors.New("query is required"))
		return
	}
	ct, ok := domain.ParseContentType(q.Type)
	if !ok {
		response.RespondError(c, http.StatusBadRequest, "invalid_query_type", errors.New("query_type must be text, image, audio or video"))
		return
	}
	q.Type = string(ct)

	res, err := h.router.Resolve(c.Request.Context(), q)
	if err != nil {
		respondErr(c, err, "search_failed")
		return
	}
	response.RespondOK(c, res)
}
