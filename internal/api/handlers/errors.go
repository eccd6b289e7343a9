package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/session"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

// StatusClientClosedRequest is returned for scans the operator cancelled.
const StatusClientClosedRequest = 499

const (
	msgMediaInput    = "MEDIA INPUT ERROR"
	msgUplinkFailure = "NEURAL UPLINK FAILURE: CHECK API STATUS"
	msgRegistryEmpty = "REGISTRY EMPTY"
	msgSceneClear    = "SCENE CLEAR // NO SUBJECTS DETECTED"
	msgDuplicate     = "SUBJECT ALREADY IN REGISTRY"

	duplicateDismissMs = 4000
)

// writeError maps domain errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: msgMediaInput, Code: dto.CodeInvalidInput})
	case errors.Is(err, media.ErrNoMedia),
		errors.Is(err, media.ErrUnsupportedMedia),
		errors.Is(err, gateway.ErrInvalidMedia):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msgMediaInput + ": " + err.Error(), Code: dto.CodeInvalidInput})
	case errors.Is(err, session.ErrInvalidStatus),
		errors.Is(err, storage.ErrMissingID):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: dto.CodeInvalidInput})
	case errors.Is(err, session.ErrRegistryEmpty):
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: msgRegistryEmpty, Code: dto.CodeRegistryEmpty})
	case errors.Is(err, session.ErrLiveUnavailable):
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: err.Error(), Code: dto.CodeLiveUnavailable})
	case errors.Is(err, storage.ErrDuplicate):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: msgDuplicate, Code: dto.CodeDuplicateFound, AutoDismissMs: duplicateDismissMs})
	case errors.Is(err, session.ErrIncidentExists):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error(), Code: dto.CodeIncidentExists})
	case errors.Is(err, gateway.ErrUplinkFailure):
		slog.Warn("classification uplink failure", "error", err)
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: msgUplinkFailure, Code: dto.CodeUplinkFailure})
	case errors.Is(err, session.ErrScanCancelled):
		c.JSON(StatusClientClosedRequest, dto.ErrorResponse{Error: err.Error(), Code: dto.CodeScanCancelled})
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, session.ErrTargetNotFound),
		errors.Is(err, media.ErrObjectNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error(), Code: dto.CodeNotFound})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error(), Code: dto.CodeInternal})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: msg, Code: dto.CodeInvalidInput})
}

// readUpload pulls the multipart file named field. A missing file is ErrNoMedia.
func readUpload(c *gin.Context, field string) (media.Upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return media.Upload{}, err
		}
		return media.Upload{}, media.ErrNoMedia
	}
	f, err := fh.Open()
	if err != nil {
		return media.Upload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return media.Upload{}, err
	}
	return media.Upload{
		FileName: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

func mediaRef(m *media.Captured) *dto.Media {
	if m == nil {
		return nil
	}
	return &dto.Media{URL: m.URL, MimeType: m.MimeType, FileName: m.FileName, Digest: m.Digest}
}
