package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/trace-backend/internal/http/response"
	"github.com/yungbote/trace-backend/internal/imagesearch"
)

const maxImageBytes = 20 << 20

type ImageResolver interface {
	ResolveImage(ctx context.Context, data []byte) (*imagesearch.Result, error)
}

type ImageHandler struct {
	images ImageResolver
}

func NewImageHandler(images ImageResolver) *ImageHandler {
	return &ImageHandler{images: images}
}

// POST /api/image
func (h *ImageHandler) Resolve(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", errors.New("multipart field \"file\" is required"))
		return
	}
	if fh.Size > maxImageBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", fmt.Errorf("image exceeds %d bytes", maxImageBytes))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_file", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_file", err)
		return
	}

	res, err := h.images.ResolveImage(c.Request.Context(), data)
	if err != nil {
		respondErr(c, err, "image_search_failed")
		return
	}
	response.RespondOK(c, res)
}
