package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/internal/media"
)

type MediaHandler struct {
	capture *media.Adapter
}

func NewMediaHandler(capture *media.Adapter) *MediaHandler {
	return &MediaHandler{capture: capture}
}

// Get proxies a stored snapshot or upload from the object store.
func (h *MediaHandler) Get(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" || strings.Contains(key, "..") {
		badRequest(c, "invalid media key")
		return
	}
	data, contentType, err := h.capture.Open(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, contentType, data)
}
