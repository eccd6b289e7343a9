package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/incident"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/storage"
)

type TargetInput struct {
	Name      string
	Bio       string
	Status    models.SubjectStatus
	RiskLevel models.RiskLevel
	Upload    media.Upload
}

type TargetResult struct {
	Subject models.IdentifiedSubject `json:"subject"`
	// NearDuplicateOf lists existing entries with a similar faceprint. It is
	// advisory; only identical images are rejected.
	NearDuplicateOf []storage.TargetMatch `json:"near_duplicate_of,omitempty"`
}

// AddTarget registers a person of interest. An image identical to an
// existing entry fails with storage.ErrDuplicate and leaves the registry as is.
func (s *Session) AddTarget(ctx context.Context, in TargetInput) (*TargetResult, error) {
	captured, err := s.capture.Capture(ctx, in.Upload)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	n := len(s.targets)
	s.mu.RUnlock()

	subject := models.IdentifiedSubject{
		ID:              incident.NewID(incident.PrefixRegistry),
		Name:            in.Name,
		Status:          in.Status,
		RiskLevel:       in.RiskLevel,
		Bio:             in.Bio,
		MugshotURL:      captured.Ref(),
		MugshotBase64:   captured.Base64,
		MugshotMimeType: captured.MimeType,
		CreatedAt:       s.now(),
	}
	if subject.Name == "" {
		subject.Name = fmt.Sprintf("Target-%d", n+1)
	}
	if subject.Status == "" {
		subject.Status = models.SubjectWanted
	}
	if subject.RiskLevel == "" {
		subject.RiskLevel = models.RiskHigh
	}
	if subject.Bio == "" {
		subject.Bio = "Registry entry added by operator. Awaiting field identification."
	}

	result := &TargetResult{}
	if s.faces != nil {
		fp, err := s.faces.Faceprint(ctx, in.Upload.Data)
		if err != nil {
			slog.Warn("faceprint unavailable", "error", err)
		} else {
			subject.Faceprint = fp
			near, err := s.store.NearestTargets(ctx, fp, s.nearDup, 3)
			if err != nil {
				slog.Warn("near-duplicate lookup failed", "error", err)
			}
			for i := range near {
				near[i].Subject.MugshotBase64 = ""
				near[i].Subject.Faceprint = nil
			}
			result.NearDuplicateOf = near
		}
	}

	if err := s.store.SaveTarget(ctx, &subject); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			observability.RegistryDuplicates.Inc()
		}
		return nil, err
	}

	s.mu.Lock()
	s.targets = append(s.targets, subject)
	sortTargets(s.targets)
	s.mu.Unlock()

	result.Subject = subject
	s.notify(EventTargetAdded, subject)
	return result, nil
}

func (s *Session) RemoveTarget(ctx context.Context, id string) error {
	if err := s.store.DeleteTarget(ctx, id); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	s.mu.Lock()
	kept := s.targets[:0]
	for _, t := range s.targets {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	s.targets = kept
	s.mu.Unlock()
	s.notify(EventTargetRemoved, map[string]string{"id": id})
	return nil
}

type BiometricResult struct {
	Matches    []incident.Match   `json:"matches"`
	Detections []models.Detection `json:"detections"`
	Media      *media.Captured    `json:"media"`
}

// BiometricScan compares a scene against every registry reference. With an
// empty registry it fails before touching media, gateway or store.
func (s *Session) BiometricScan(ctx context.Context, up media.Upload) (*BiometricResult, error) {
	targets := s.Targets()
	if len(targets) == 0 {
		return nil, ErrRegistryEmpty
	}

	captured, err := s.capture.Capture(ctx, up)
	if err != nil {
		return nil, err
	}

	refs := make([]gateway.Reference, len(targets))
	for i, t := range targets {
		refs[i] = gateway.Reference{ID: t.ID, Name: t.Name, MugshotBase64: t.MugshotBase64, MimeType: t.MugshotMimeType}
	}
	detections, err := s.gateway.Classify(ctx, gateway.Request{
		MediaBase64: captured.Base64,
		MimeType:    captured.MimeType,
		FileName:    captured.FileName,
		Mode:        s.Mode(),
		References:  refs,
	})
	if err != nil {
		return nil, err
	}

	matches, err := s.normalizer.ResolveMatches(ctx, detections, targets, incident.Context{SnapshotURL: captured.Ref()})
	if err != nil {
		slog.Warn("biometric auto-confirm incomplete", "error", err)
	}
	for i := range matches {
		if matches[i].Incident == nil {
			continue
		}
		saved, err := s.refreshIncident(ctx, matches[i].Incident.ID, EventIncidentCreated)
		if err != nil {
			slog.Warn("reload auto-confirmed incident", "id", matches[i].Incident.ID, "error", err)
			continue
		}
		matches[i].Incident = saved
	}
	if matches == nil {
		matches = []incident.Match{}
	}
	return &BiometricResult{Matches: matches, Detections: detections, Media: captured}, nil
}

type ConfirmInput struct {
	TargetID    string
	Confidence  float64
	SnapshotURL string
}

// ConfirmMatch archives a match the operator locked after review.
func (s *Session) ConfirmMatch(ctx context.Context, in ConfirmInput) (*models.Incident, error) {
	var (
		subject models.IdentifiedSubject
		found   bool
	)
	for _, t := range s.Targets() {
		if t.ID == in.TargetID {
			subject, found = t, true
			break
		}
	}
	if !found {
		return nil, ErrTargetNotFound
	}
	inc := s.normalizer.ConfirmedMatch(subject, in.Confidence, incident.Context{SnapshotURL: in.SnapshotURL})
	return s.Add(ctx, inc)
}

type ReportInput struct {
	Type   models.IncidentType
	Coords *models.Coordinates
	Upload media.Upload
}

type ReportResult struct {
	Verification *gateway.Verification `json:"verification"`
	// Incident is nil when the evidence failed the audit.
	Incident *models.Incident `json:"incident,omitempty"`
}

// ReportIncident files a field report. The evidence image is audited first
// and only archived when judged real.
func (s *Session) ReportIncident(ctx context.Context, in ReportInput) (*ReportResult, error) {
	captured, err := s.capture.Capture(ctx, in.Upload)
	if err != nil {
		return nil, err
	}
	v, err := s.gateway.Verify(ctx, gateway.VerifyRequest{
		MediaBase64: captured.Base64,
		MimeType:    captured.MimeType,
		ClaimedType: in.Type,
		Coords:      in.Coords,
		Mode:        s.Mode(),
	})
	if err != nil {
		return nil, err
	}
	result := &ReportResult{Verification: v}
	if !v.IsReal {
		return result, nil
	}

	inc := s.normalizer.ManualReport(in.Type, v.Audit.OverallScore, incident.Context{
		SnapshotURL: captured.Ref(),
		Coords:      in.Coords,
	})
	saved, err := s.Add(ctx, inc)
	if err != nil {
		return nil, err
	}
	result.Incident = saved
	return result, nil
}
