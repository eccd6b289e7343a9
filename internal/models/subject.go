package models

import "time"

type SubjectStatus string

const (
	SubjectClear   SubjectStatus = "Clear"
	SubjectFlagged SubjectStatus = "Flagged"
	SubjectWanted  SubjectStatus = "Wanted"
	SubjectUnknown SubjectStatus = "Unknown"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// IdentifiedSubject is a registry entry for a person of interest. Two entries
// with the same MugshotBase64 are the same subject.
type IdentifiedSubject struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Status          SubjectStatus `json:"status"`
	RiskLevel       RiskLevel     `json:"risk_level"`
	Bio             string        `json:"bio"`
	MatchConfidence float64       `json:"match_confidence"`
	MugshotURL      string        `json:"mugshot_url"`
	MugshotBase64   string        `json:"mugshot_base64"`
	MugshotMimeType string        `json:"mugshot_mime_type,omitempty"`
	// LocationInImage is filled per detection and is not part of the identity.
	LocationInImage string    `json:"location_in_image,omitempty"`
	Faceprint       []float32 `json:"faceprint,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
