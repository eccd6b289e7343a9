// Package dto holds the HTTP and WebSocket wire types of the console API.
package dto

import (
	"time"

	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/geo"
	"github.com/your-org/sentinel/internal/models"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidInput    = "INVALID_INPUT"
	CodeDuplicateFound  = "DUPLICATE_FOUND"
	CodeRegistryEmpty   = "REGISTRY_EMPTY"
	CodeUplinkFailure   = "UPLINK_FAILURE"
	CodeScanCancelled   = "SCAN_CANCELLED"
	CodeNotFound        = "NOT_FOUND"
	CodeLiveUnavailable = "LIVE_UNAVAILABLE"
	CodeIncidentExists  = "INCIDENT_EXISTS"
	CodeInternal        = "INTERNAL"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// AutoDismissMs hints how long the console should show the notice.
	AutoDismissMs int `json:"auto_dismiss_ms,omitempty"`
}

type SessionResponse struct {
	Mode          string `json:"mode"`
	LiveAvailable bool   `json:"live_available"`
	Incidents     int    `json:"incidents"`
	Targets       int    `json:"targets"`
	AsyncScans    bool   `json:"async_scans"`
}

type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type Media struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name"`
	Digest   string `json:"digest"`
}

type ScanResponse struct {
	ScanID     string             `json:"scan_id"`
	Incident   *models.Incident   `json:"incident,omitempty"`
	Detections []models.Detection `json:"detections"`
	Media      *Media             `json:"media,omitempty"`
	Duplicate  bool               `json:"duplicate"`
	// Actions the console offers for the incident, e.g. "Archive & Dispatch".
	Actions []string `json:"actions"`
	Message string   `json:"message,omitempty"`
}

type QueuedScanResponse struct {
	ScanID string `json:"scan_id"`
	Status string `json:"status"`
	Media  *Media `json:"media"`
}

type IncidentListResponse struct {
	Incidents []models.Incident `json:"incidents"`
	Total     int               `json:"total"`
}

type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Target is a registry entry without its image payload or faceprint.
type Target struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Status     models.SubjectStatus `json:"status"`
	RiskLevel  models.RiskLevel     `json:"risk_level"`
	Bio        string               `json:"bio"`
	MugshotURL string               `json:"mugshot_url"`
	MimeType   string               `json:"mime_type,omitempty"`
	Faceprint  bool                 `json:"has_faceprint"`
	CreatedAt  time.Time            `json:"created_at"`
}

func NewTarget(s models.IdentifiedSubject) Target {
	return Target{
		ID:         s.ID,
		Name:       s.Name,
		Status:     s.Status,
		RiskLevel:  s.RiskLevel,
		Bio:        s.Bio,
		MugshotURL: s.MugshotURL,
		MimeType:   s.MugshotMimeType,
		Faceprint:  len(s.Faceprint) > 0,
		CreatedAt:  s.CreatedAt,
	}
}

type TargetListResponse struct {
	Targets []Target `json:"targets"`
	Total   int      `json:"total"`
}

type NearDuplicate struct {
	Target     Target  `json:"target"`
	Similarity float32 `json:"similarity"`
}

type AddTargetResponse struct {
	Target          Target          `json:"target"`
	NearDuplicateOf []NearDuplicate `json:"near_duplicate_of,omitempty"`
}

type BiometricMatch struct {
	Target        Target           `json:"target"`
	Type          string           `json:"type"`
	Confidence    float64          `json:"confidence"`
	Location      string           `json:"location_in_image,omitempty"`
	AutoConfirmed bool             `json:"auto_confirmed"`
	Incident      *models.Incident `json:"incident,omitempty"`
}

type BiometricResponse struct {
	Matches    []BiometricMatch   `json:"matches"`
	Detections []models.Detection `json:"detections"`
	Media      *Media             `json:"media,omitempty"`
	Message    string             `json:"message,omitempty"`
}

type ConfirmRequest struct {
	TargetID    string  `json:"target_id" binding:"required"`
	Confidence  float64 `json:"confidence"`
	SnapshotURL string  `json:"snapshot_url"`
}

// Coordinates are pointers so a zero latitude or longitude still binds.
type RouteQuery struct {
	FromLat *float64 `form:"from_lat" binding:"required"`
	FromLng *float64 `form:"from_lng" binding:"required"`
	ToLat   *float64 `form:"to_lat" binding:"required"`
	ToLng   *float64 `form:"to_lng" binding:"required"`
	Mode    string   `form:"mode"`
}

type FacilityQuery struct {
	Lat    *float64 `form:"lat" binding:"required"`
	Lng    *float64 `form:"lng" binding:"required"`
	Radius int      `form:"radius_m"`
	Kind   string   `form:"kind"`
}

type FacilityListResponse struct {
	Facilities []geo.Facility `json:"facilities"`
	Total      int            `json:"total"`
}

type SOSRequest struct {
	Lat  *float64 `json:"lat" binding:"required"`
	Lng  *float64 `json:"lng" binding:"required"`
	Mode string   `json:"mode"`
}

// SOSResponse is the dispatch card: destination, route and ETA.
type SOSResponse struct {
	Facility geo.Facility `json:"facility"`
	Route    geo.Route    `json:"route"`
	ETA      string       `json:"eta"`
}

type ReportResponse struct {
	Verification *gateway.Verification `json:"verification"`
	Incident     *models.Incident      `json:"incident,omitempty"`
	Archived     bool                  `json:"archived"`
}

// WSEvent is pushed to console WebSocket clients.
type WSEvent struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}
