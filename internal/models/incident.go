package models

import (
	"strings"
	"time"
)

type IncidentType string

const (
	IncidentVehicleCollision  IncidentType = "Vehicle Collision"
	IncidentPersonFall        IncidentType = "Person Fall"
	IncidentRobbery           IncidentType = "Thief / Robbery"
	IncidentWomenSafety       IncidentType = "Women Safety"
	IncidentWeaponViolence    IncidentType = "Weapon / Violence"
	IncidentSuspicious        IncidentType = "Suspicious Behavior"
	IncidentTrafficCongestion IncidentType = "Traffic Congestion"
)

// IncidentTypes lists the closed set of incident classifications in display order.
var IncidentTypes = []IncidentType{
	IncidentVehicleCollision,
	IncidentPersonFall,
	IncidentRobbery,
	IncidentWomenSafety,
	IncidentWeaponViolence,
	IncidentSuspicious,
	IncidentTrafficCongestion,
}

// ParseIncidentType matches s case-insensitively against the closed set.
func ParseIncidentType(s string) (IncidentType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range IncidentTypes {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

type IncidentStatus string

const (
	StatusNeedsReview IncidentStatus = "Needs Review"
	StatusConfirmed   IncidentStatus = "Confirmed"
	StatusFalseAlarm  IncidentStatus = "False Alarm"
	StatusResolved    IncidentStatus = "Resolved"
)

func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusNeedsReview, StatusConfirmed, StatusFalseAlarm, StatusResolved:
		return true
	}
	return false
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Incident is a classified safety/security event. Only Status may change
// after the record is built.
type Incident struct {
	ID                string             `json:"id"`
	Type              IncidentType       `json:"type"`
	Status            IncidentStatus     `json:"status"`
	Timestamp         string             `json:"timestamp"`
	SavedAt           time.Time          `json:"saved_at"`
	Location          string             `json:"location"`
	LocationCoords    *Coordinates       `json:"location_coords,omitempty"`
	Confidence        float64            `json:"confidence"`
	VideoRef          string             `json:"video_ref"`
	SnapshotURL       string             `json:"snapshot_url"`
	LocalVideoURL     string             `json:"local_video_url,omitempty"`
	Description       string             `json:"description"`
	DetectedObjects   []string           `json:"detected_objects"`
	IdentifiedSubject *IdentifiedSubject `json:"identified_subject,omitempty"`
	LicensePlate      string             `json:"license_plate,omitempty"`
	Emergency         bool               `json:"emergency"`
	AlertLabel        string             `json:"alert_label,omitempty"`
	AutoConfirmed     bool               `json:"auto_confirmed,omitempty"`
}

// Saved reports whether the record has been committed to the store.
func (i *Incident) Saved() bool {
	return !i.SavedAt.IsZero()
}
