package handlers

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/internal/geo"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/session"
	"github.com/your-org/sentinel/pkg/dto"
)

type MapHandler struct {
	geo     *geo.Client
	session *session.Session
}

func NewMapHandler(g *geo.Client, s *session.Session) *MapHandler {
	return &MapHandler{geo: g, session: s}
}

func (h *MapHandler) Route(c *gin.Context) {
	var q dto.RouteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	r, err := h.geo.Route(c.Request.Context(),
		models.Coordinates{Lat: *q.FromLat, Lng: *q.FromLng},
		models.Coordinates{Lat: *q.ToLat, Lng: *q.ToLng},
		q.Mode)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *MapHandler) Facilities(c *gin.Context) {
	var q dto.FacilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}
	fs, err := h.geo.Facilities(c.Request.Context(), models.Coordinates{Lat: *q.Lat, Lng: *q.Lng}, q.Radius, q.Kind)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, dto.FacilityListResponse{Facilities: fs, Total: len(fs)})
}

// SOS dispatches to the nearest hospital.
func (h *MapHandler) SOS(c *gin.Context) {
	var req dto.SOSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.geo.SOS(c.Request.Context(), models.Coordinates{Lat: *req.Lat, Lng: *req.Lng}, req.Mode)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, dto.SOSResponse{Facility: d.Facility, Route: d.Route, ETA: eta(d.Route.DurationS)})
}

// Report files a field report with evidence. Form fields: file, type, lat, lng.
func (h *MapHandler) Report(c *gin.Context) {
	t, ok := models.ParseIncidentType(c.PostForm("type"))
	if !ok {
		badRequest(c, "unknown incident type")
		return
	}
	var coords *models.Coordinates
	if lat, lng := c.PostForm("lat"), c.PostForm("lng"); lat != "" && lng != "" {
		la, errLat := strconv.ParseFloat(lat, 64)
		ln, errLng := strconv.ParseFloat(lng, 64)
		if errLat != nil || errLng != nil {
			badRequest(c, "invalid coordinates")
			return
		}
		coords = &models.Coordinates{Lat: la, Lng: ln}
	}
	up, err := readUpload(c, "file")
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.session.ReportIncident(c.Request.Context(), session.ReportInput{Type: t, Coords: coords, Upload: up})
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if res.Incident != nil {
		status = http.StatusCreated
	}
	c.JSON(status, dto.ReportResponse{Verification: res.Verification, Incident: res.Incident, Archived: res.Incident != nil})
}

func eta(seconds float64) string {
	mins := int(math.Ceil(seconds / 60))
	if mins < 1 {
		mins = 1
	}
	if mins == 1 {
		return "1 Min"
	}
	return fmt.Sprintf("%d Mins", mins)
}
