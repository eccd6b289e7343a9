package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/session"
	"github.com/your-org/sentinel/pkg/dto"
)

// ScanQueue hands scans to the asynchronous worker.
type ScanQueue interface {
	PublishScan(ctx context.Context, job models.ScanJob) error
}

type SessionHandler struct {
	session *session.Session
	live    bool
	queue   ScanQueue
	capture *media.Adapter
}

func NewSessionHandler(s *session.Session, liveAvailable bool, queue ScanQueue, capture *media.Adapter) *SessionHandler {
	return &SessionHandler{session: s, live: liveAvailable, queue: queue, capture: capture}
}

func (h *SessionHandler) asyncEnabled() bool {
	return h.queue != nil && h.capture != nil && h.capture.Stored()
}

func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, dto.SessionResponse{
		Mode:          string(h.session.Mode()),
		LiveAvailable: h.live,
		Incidents:     len(h.session.Incidents()),
		Targets:       len(h.session.Targets()),
		AsyncScans:    h.asyncEnabled(),
	})
}

func (h *SessionHandler) SetMode(c *gin.Context) {
	var req dto.ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	mode, err := gateway.ParseMode(req.Mode)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.session.SetMode(mode); err != nil {
		writeError(c, err)
		return
	}
	h.Get(c)
}

func (h *SessionHandler) Dashboard(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Dashboard())
}

// Scan classifies an upload. With ?async=true and a queue configured, the
// media is stored and the job is queued; the outcome arrives over the WebSocket.
func (h *SessionHandler) Scan(c *gin.Context) {
	up, err := readUpload(c, "file")
	if err != nil {
		writeError(c, err)
		return
	}
	scanID := c.GetHeader("X-Scan-ID")
	if scanID == "" {
		scanID = c.PostForm("scan_id")
	}

	if c.Query("async") == "true" && h.asyncEnabled() {
		h.enqueue(c, scanID, up)
		return
	}

	res, err := h.session.Scan(c.Request.Context(), scanID, up)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := dto.ScanResponse{
		ScanID:     res.ScanID,
		Incident:   res.Incident,
		Detections: res.Detections,
		Media:      mediaRef(res.Media),
		Duplicate:  res.Duplicate,
		Actions:    actionsFor(res.Incident),
	}
	if res.Incident == nil {
		resp.Message = msgSceneClear
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) enqueue(c *gin.Context, scanID string, up media.Upload) {
	captured, err := h.capture.Capture(c.Request.Context(), up)
	if err != nil {
		writeError(c, err)
		return
	}
	job := models.ScanJob{
		ScanID:      scanID,
		MediaKey:    captured.Key,
		MediaURL:    captured.URL,
		FileName:    captured.FileName,
		MimeType:    captured.MimeType,
		Mode:        string(h.session.Mode()),
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if job.ScanID == "" {
		job.ScanID = captured.Digest[:16] + "-" + job.Mode
	}
	if err := h.queue.PublishScan(c.Request.Context(), job); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.QueuedScanResponse{ScanID: job.ScanID, Status: "queued", Media: mediaRef(captured)})
}

func (h *SessionHandler) CancelScan(c *gin.Context) {
	if !h.session.CancelScan(c.Param("id")) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "no scan in flight with that id", Code: dto.CodeNotFound})
		return
	}
	c.Status(http.StatusNoContent)
}

// actionsFor lists what the console offers for a freshly scanned incident.
func actionsFor(inc *models.Incident) []string {
	switch {
	case inc == nil:
		return []string{}
	case inc.Emergency:
		return []string{"Archive & Dispatch"}
	default:
		return []string{"Archive"}
	}
}
