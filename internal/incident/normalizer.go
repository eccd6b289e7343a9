// Package incident turns raw classifier detections into Incident records and
// applies the biometric auto-confirmation policy.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
)

// AutoConfirmThreshold is the confidence at or above which a Target Match is
// archived without operator review.
const AutoConfirmThreshold = 0.80

const defaultConfidence = 0.95

// Id prefixes by origin.
const (
	PrefixAlert    = "ALERT"
	PrefixAuto     = "AUTO"
	PrefixBiolock  = "BIOLOCK"
	PrefixManual   = "MAN"
	PrefixRegistry = "TGT"
)

var highRiskKeywords = []string{
	"collision", "accident", "crash", "weapon", "violence",
	"robbery", "thief", "women", "sos", "fall", "assault",
}

// Writer is the store write path used for auto-confirmed matches.
type Writer interface {
	SaveIncident(ctx context.Context, inc *models.Incident) error
}

// Context carries what the normalizer knows about the source media.
type Context struct {
	FileName      string
	SnapshotURL   string
	LocalVideoURL string
	Location      string
	Coords        *models.Coordinates
}

// Match is a detection resolved against a registry subject.
type Match struct {
	Subject       models.IdentifiedSubject `json:"subject"`
	Type          string                   `json:"type"`
	Confidence    float64                  `json:"confidence"`
	AutoConfirmed bool                     `json:"auto_confirmed"`
	// Incident is set when the match was archived automatically.
	Incident *models.Incident `json:"incident,omitempty"`
}

type Normalizer struct {
	store Writer
	now   func() time.Time
	newID func(prefix string) string
}

type Option func(*Normalizer)

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func WithIDs(newID func(prefix string) string) Option {
	return func(n *Normalizer) { n.newID = newID }
}

func NewNormalizer(store Writer, opts ...Option) *Normalizer {
	n := &Normalizer{store: store, now: time.Now, newID: NewID}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewID returns PREFIX-<uuidv4>.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// ShouldAutoConfirm is the single auto-confirmation rule.
func ShouldAutoConfirm(detectionType string, confidence float64) bool {
	return detectionType == models.TargetMatchType && confidence >= AutoConfirmThreshold
}

// IsHighRisk reports whether a type names an emergency.
func IsHighRisk(t string) bool {
	t = strings.ToLower(t)
	for _, kw := range highRiskKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// Select returns the first high-risk detection in source order, else the
// first detection, else nil.
func Select(detections []models.Detection) *models.Detection {
	if len(detections) == 0 {
		return nil
	}
	for i := range detections {
		if detections[i].Type != "" && IsHighRisk(detections[i].Type) {
			return &detections[i]
		}
	}
	return &detections[0]
}

// Normalize builds a Needs Review incident from the selected detection. It
// returns nil when there is nothing to report. The record is not persisted.
func (n *Normalizer) Normalize(detections []models.Detection, c Context) *models.Incident {
	d := Select(detections)
	if d == nil {
		return nil
	}

	t := MapType(d.Type)
	inc := &models.Incident{
		ID:              n.newID(PrefixAlert),
		Type:            t,
		Status:          models.StatusNeedsReview,
		Timestamp:       d.Timestamp,
		Location:        firstNonEmpty(d.Location, c.Location, "ACTIVE SECTOR"),
		LocationCoords:  c.Coords,
		Confidence:      normalizeConfidence(d.Confidence),
		VideoRef:        c.FileName,
		SnapshotURL:     c.SnapshotURL,
		LocalVideoURL:   c.LocalVideoURL,
		Description:     firstNonEmpty(d.Description, "Neural analysis complete. Threat pattern identified."),
		DetectedObjects: append([]string{}, d.DetectedObjects...),
		LicensePlate:    d.LicensePlate,
	}
	if inc.Timestamp == "" {
		inc.Timestamp = n.now().Format("15:04:05")
	}
	Derive(inc, d.Type)
	return inc
}

// Derive sets the emergency flag and alert label from the incident type and
// the classifier's raw type.
func Derive(inc *models.Incident, rawType string) {
	inc.Emergency = IsHighRisk(rawType) || IsHighRisk(string(inc.Type))
	inc.AlertLabel = AlertLabel(inc.Type)
}

func AlertLabel(t models.IncidentType) string {
	s := strings.ToLower(string(t))
	switch {
	case containsAny(s, "weapon", "violence", "assault"):
		return "CRITICAL THREAT"
	case containsAny(s, "collision", "accident", "crash"):
		return "ACCIDENT ALERT"
	case containsAny(s, "women", "sos"):
		return "SAFETY SOS"
	case containsAny(s, "fall", "medical"):
		return "MEDICAL ALERT"
	}
	return "NEURAL FLAG"
}

// MapType maps a free-form classifier type onto the closed enumeration.
func MapType(raw string) models.IncidentType {
	if t, ok := models.ParseIncidentType(raw); ok {
		return t
	}
	s := strings.ToLower(raw)
	switch {
	case containsAny(s, "collision", "accident", "crash"):
		return models.IncidentVehicleCollision
	case containsAny(s, "weapon", "violence", "assault", "gun", "knife"):
		return models.IncidentWeaponViolence
	case containsAny(s, "robbery", "thief", "theft", "larceny"):
		return models.IncidentRobbery
	case containsAny(s, "women", "sos", "harass", "stalk"):
		return models.IncidentWomenSafety
	case containsAny(s, "fall", "medical", "collapse"):
		return models.IncidentPersonFall
	case containsAny(s, "traffic", "congestion", "jam"):
		return models.IncidentTrafficCongestion
	}
	return models.IncidentSuspicious
}

// ResolveMatches pairs detections with registry subjects. Matches that pass
// ShouldAutoConfirm are persisted before this returns; a failed save leaves
// the match for operator review and is reported in the joined error.
func (n *Normalizer) ResolveMatches(ctx context.Context, detections []models.Detection, registry []models.IdentifiedSubject, c Context) ([]Match, error) {
	byID := make(map[string]models.IdentifiedSubject, len(registry))
	for _, s := range registry {
		byID[s.ID] = s
	}

	var (
		matches []Match
		errs    []error
	)
	for _, d := range detections {
		subject, ok := byID[d.MatchedTargetID]
		if !ok {
			continue
		}
		confidence := clamp(d.Confidence)
		subject = embeddable(subject)
		subject.MatchConfidence = confidence
		subject.LocationInImage = d.LocationInImage

		m := Match{Subject: subject, Type: d.Type, Confidence: confidence}
		if ShouldAutoConfirm(d.Type, confidence) {
			inc := n.autoConfirmed(subject, confidence, c)
			inc.SavedAt = n.now()
			if err := n.store.SaveIncident(ctx, inc); err != nil {
				slog.Error("auto-confirm save failed", "target_id", subject.ID, "error", err)
				errs = append(errs, fmt.Errorf("auto-confirm %s: %w", subject.ID, err))
			} else {
				observability.AutoConfirmations.Inc()
				observability.IncidentsArchived.WithLabelValues(string(inc.Type)).Inc()
				m.AutoConfirmed = true
				m.Incident = inc
			}
		}
		matches = append(matches, m)
	}
	return matches, errors.Join(errs...)
}

func (n *Normalizer) autoConfirmed(subject models.IdentifiedSubject, confidence float64, c Context) *models.Incident {
	desc := fmt.Sprintf("Target %s (ID: %s) matched against registry. System auto-confirmed biometric signature via visual comparison.",
		subject.Name, subject.ID)
	inc := &models.Incident{
		ID:                n.newID(PrefixAuto),
		Type:              models.IncidentSuspicious,
		Status:            models.StatusConfirmed,
		Timestamp:         "00:01",
		Location:          firstNonEmpty(c.Location, "SECTOR ALPHA // BIOMETRIC LOCK"),
		LocationCoords:    c.Coords,
		Confidence:        confidence,
		VideoRef:          firstNonEmpty(c.FileName, "High-Res Scan"),
		SnapshotURL:       c.SnapshotURL,
		Description:       desc,
		DetectedObjects:   []string{"Human", "Target"},
		IdentifiedSubject: &subject,
		AutoConfirmed:     true,
	}
	Derive(inc, models.TargetMatchType)
	return inc
}

// ConfirmedMatch builds the incident for a match the operator locked manually.
func (n *Normalizer) ConfirmedMatch(subject models.IdentifiedSubject, confidence float64, c Context) *models.Incident {
	subject = embeddable(subject)
	subject.MatchConfidence = clamp(confidence)
	inc := &models.Incident{
		ID:                n.newID(PrefixBiolock),
		Type:              models.IncidentSuspicious,
		Status:            models.StatusConfirmed,
		Timestamp:         "00:01",
		Location:          firstNonEmpty(c.Location, "SECTOR ALPHA // OPERATOR CONFIRMED"),
		LocationCoords:    c.Coords,
		Confidence:        clamp(confidence),
		VideoRef:          firstNonEmpty(c.FileName, "Manual Cross-Match"),
		SnapshotURL:       c.SnapshotURL,
		Description:       fmt.Sprintf("Target %s manually verified by operator after Uncertainty Audit.", subject.Name),
		DetectedObjects:   []string{"Human", models.TargetMatchType},
		IdentifiedSubject: &subject,
	}
	Derive(inc, models.TargetMatchType)
	return inc
}

// ManualReport builds a field report incident once its evidence passed the
// authenticity audit. score is the audit's 0-100 overall score.
func (n *Normalizer) ManualReport(t models.IncidentType, score int, c Context) *models.Incident {
	inc := &models.Incident{
		ID:              n.newID(PrefixManual),
		Type:            t,
		Status:          models.StatusNeedsReview,
		Timestamp:       "LIVE",
		Location:        firstNonEmpty(c.Location, "FIELD VERIFIED SECTOR"),
		LocationCoords:  c.Coords,
		Confidence:      clamp(float64(score) / 100),
		VideoRef:        "Field Evidence",
		SnapshotURL:     c.SnapshotURL,
		Description:     fmt.Sprintf("MANUAL REPORT: %s. Biometrically and neurally verified as real-world imagery.", t),
		DetectedObjects: []string{"Visual Evidence"},
	}
	Derive(inc, string(t))
	return inc
}

// embeddable strips fields that are too heavy or private to copy into an incident.
func embeddable(s models.IdentifiedSubject) models.IdentifiedSubject {
	s.MugshotBase64 = ""
	s.Faceprint = nil
	return s
}

func normalizeConfidence(c float64) float64 {
	if c <= 0 {
		return defaultConfidence
	}
	return clamp(c)
}

func clamp(c float64) float64 {
	return min(max(c, 0), 1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
