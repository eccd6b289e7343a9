package models

// TargetMatchType is the detection type a classifier uses for a face that
// matches a registry reference.
const TargetMatchType = "Target Match"

// Detection is one raw classification result, before normalization.
type Detection struct {
	Type            string   `json:"type"`
	Confidence      float64  `json:"confidence"`
	Description     string   `json:"description"`
	DetectedObjects []string `json:"detectedObjects"`
	Location        string   `json:"location,omitempty"`
	Timestamp       string   `json:"timestamp,omitempty"`
	LicensePlate    string   `json:"licensePlate,omitempty"`
	MatchedTargetID string   `json:"matchedTargetId,omitempty"`
	LocationInImage string   `json:"locationInImage,omitempty"`
}

// ScanJob is the message published to NATS for asynchronous classification.
type ScanJob struct {
	ScanID      string `json:"scan_id"`
	MediaKey    string `json:"media_key"`
	MediaURL    string `json:"media_url"`
	FileName    string `json:"file_name"`
	MimeType    string `json:"mime_type"`
	Mode        string `json:"mode"`
	SubmittedAt string `json:"submitted_at"`
}

// ScanOutcome is published by the worker once a queued scan is classified.
type ScanOutcome struct {
	ScanID     string      `json:"scan_id"`
	Incident   *Incident   `json:"incident,omitempty"`
	Detections []Detection `json:"detections"`
	Error      string      `json:"error,omitempty"`
}
