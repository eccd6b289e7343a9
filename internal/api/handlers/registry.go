package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/session"
	"github.com/your-org/sentinel/pkg/dto"
)

type RegistryHandler struct {
	session *session.Session
}

func NewRegistryHandler(s *session.Session) *RegistryHandler {
	return &RegistryHandler{session: s}
}

func (h *RegistryHandler) List(c *gin.Context) {
	targets := h.session.Targets()
	resp := make([]dto.Target, 0, len(targets))
	for _, t := range targets {
		resp = append(resp, dto.NewTarget(t))
	}
	c.JSON(http.StatusOK, dto.TargetListResponse{Targets: resp, Total: len(resp)})
}

// Create adds a person of interest from a multipart mugshot plus optional
// name, bio, status and risk_level fields.
func (h *RegistryHandler) Create(c *gin.Context) {
	up, err := readUpload(c, "file")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.session.AddTarget(c.Request.Context(), session.TargetInput{
		Name:      c.PostForm("name"),
		Bio:       c.PostForm("bio"),
		Status:    models.SubjectStatus(c.PostForm("status")),
		RiskLevel: models.RiskLevel(c.PostForm("risk_level")),
		Upload:    up,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := dto.AddTargetResponse{Target: dto.NewTarget(res.Subject)}
	for _, m := range res.NearDuplicateOf {
		resp.NearDuplicateOf = append(resp.NearDuplicateOf, dto.NearDuplicate{
			Target:     dto.NewTarget(m.Subject),
			Similarity: m.Score,
		})
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *RegistryHandler) Delete(c *gin.Context) {
	if err := h.session.RemoveTarget(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// BiometricScan compares an uploaded scene against the whole registry.
func (h *RegistryHandler) BiometricScan(c *gin.Context) {
	// an empty registry is rejected before the upload is even read
	if len(h.session.Targets()) == 0 {
		writeError(c, session.ErrRegistryEmpty)
		return
	}
	up, err := readUpload(c, "file")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.session.BiometricScan(c.Request.Context(), up)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := dto.BiometricResponse{
		Matches:    make([]dto.BiometricMatch, 0, len(res.Matches)),
		Detections: res.Detections,
		Media:      mediaRef(res.Media),
	}
	for _, m := range res.Matches {
		resp.Matches = append(resp.Matches, dto.BiometricMatch{
			Target:        dto.NewTarget(m.Subject),
			Type:          m.Type,
			Confidence:    m.Confidence,
			Location:      m.Subject.LocationInImage,
			AutoConfirmed: m.AutoConfirmed,
			Incident:      m.Incident,
		})
	}
	if len(res.Detections) == 0 {
		resp.Message = msgSceneClear
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RegistryHandler) Confirm(c *gin.Context) {
	var req dto.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	inc, err := h.session.ConfirmMatch(c.Request.Context(), session.ConfirmInput{
		TargetID:    req.TargetID,
		Confidence:  req.Confidence,
		SnapshotURL: req.SnapshotURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inc)
}
