package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/trace-backend/internal/domain"
	"github.com/yungbote/trace-backend/internal/http/response"
	"github.com/yungbote/trace-backend/internal/platform/apierr"
)

// respondErr maps domain sentinels onto 4xx codes and everything else onto a 500 with fallbackCode.
func respondErr(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, domain.ErrMissingSource):
		err = apierr.BadRequest("missing_source", err)
	case errors.Is(err, domain.ErrNotFound):
		err = apierr.NotFound("not_found", err)
	}
	_ = c.Error(err)
	response.RespondAPIError(c, err, fallbackCode)
}
