package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/internal/incident"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/session"
	"github.com/your-org/sentinel/pkg/dto"
)

type IncidentHandler struct {
	session *session.Session
}

func NewIncidentHandler(s *session.Session) *IncidentHandler {
	return &IncidentHandler{session: s}
}

// List returns archived incidents, newest first. ?status= and ?type= filter.
func (h *IncidentHandler) List(c *gin.Context) {
	status := models.IncidentStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "unknown status filter")
		return
	}
	var typ models.IncidentType
	if raw := c.Query("type"); raw != "" {
		t, ok := models.ParseIncidentType(raw)
		if !ok {
			badRequest(c, "unknown type filter")
			return
		}
		typ = t
	}

	out := make([]models.Incident, 0)
	for _, inc := range h.session.Incidents() {
		if status != "" && inc.Status != status {
			continue
		}
		if typ != "" && inc.Type != typ {
			continue
		}
		out = append(out, inc)
	}
	c.JSON(http.StatusOK, dto.IncidentListResponse{Incidents: out, Total: len(out)})
}

// Create archives an incident the operator accepted from a scan. A missing id
// is assigned here; the derived flags are recomputed from the type.
func (h *IncidentHandler) Create(c *gin.Context) {
	var inc models.Incident
	if err := c.ShouldBindJSON(&inc); err != nil {
		badRequest(c, err.Error())
		return
	}
	if t, ok := models.ParseIncidentType(string(inc.Type)); ok {
		inc.Type = t
	} else {
		badRequest(c, "unknown incident type")
		return
	}
	if inc.ID == "" {
		inc.ID = incident.NewID(incident.PrefixManual)
	}
	incident.Derive(&inc, string(inc.Type))
	saved, err := h.session.Add(c.Request.Context(), &inc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (h *IncidentHandler) UpdateStatus(c *gin.Context) {
	var req dto.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	updated, err := h.session.UpdateStatus(c.Request.Context(), c.Param("id"), models.IncidentStatus(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *IncidentHandler) Delete(c *gin.Context) {
	if err := h.session.Remove(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
