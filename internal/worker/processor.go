// Package worker classifies queued scans and publishes their outcomes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/incident"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/queue"
)

type Reloader interface {
	Reload(ctx context.Context, key, fileName string) (*media.Captured, error)
}

type Classifier interface {
	Classify(ctx context.Context, req gateway.Request) ([]models.Detection, error)
}

type Publisher interface {
	PublishOutcome(ctx context.Context, kind string, out models.ScanOutcome) error
}

type Processor struct {
	media      Reloader
	gateway    Classifier
	normalizer *incident.Normalizer
	publisher  Publisher
}

func NewProcessor(m Reloader, g Classifier, n *incident.Normalizer, p Publisher) *Processor {
	return &Processor{media: m, gateway: g, normalizer: n, publisher: p}
}

// Handle classifies one job. Classification and media failures are reported
// in the outcome rather than retried; only a failed publish is returned so
// the job is redelivered.
func (p *Processor) Handle(ctx context.Context, job models.ScanJob) error {
	start := time.Now()
	out := p.process(ctx, job)
	if err := p.publisher.PublishOutcome(ctx, queue.OutcomeKindScanned, out); err != nil {
		return fmt.Errorf("publish outcome for %s: %w", job.ScanID, err)
	}
	slog.Info("scan processed",
		"scan_id", job.ScanID,
		"detections", len(out.Detections),
		"failed", out.Error != "",
		"duration", time.Since(start))
	return nil
}

func (p *Processor) process(ctx context.Context, job models.ScanJob) models.ScanOutcome {
	out := models.ScanOutcome{ScanID: job.ScanID, Detections: []models.Detection{}}

	mode, err := gateway.ParseMode(job.Mode)
	if err != nil {
		slog.Warn("unknown scan mode, classifying simulated", "scan_id", job.ScanID, "mode", job.Mode)
		mode = gateway.ModeSimulated
	}

	captured, err := p.media.Reload(ctx, job.MediaKey, job.FileName)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if job.MimeType != "" {
		captured.MimeType = job.MimeType
	}

	detections, err := p.gateway.Classify(ctx, gateway.Request{
		MediaBase64: captured.Base64,
		MimeType:    captured.MimeType,
		FileName:    captured.FileName,
		Mode:        mode,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrUplinkFailure) {
			slog.Warn("queued scan uplink failure", "scan_id", job.ScanID, "error", err)
		}
		out.Error = err.Error()
		return out
	}

	c := incident.Context{FileName: captured.FileName, SnapshotURL: captured.Ref()}
	if strings.HasPrefix(captured.MimeType, "video/") {
		c.LocalVideoURL = captured.Ref()
	}
	out.Detections = detections
	out.Incident = p.normalizer.Normalize(detections, c)
	return out
}
