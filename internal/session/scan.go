package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/incident"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/models"
)

// ScanResult is the outcome of one upload scan. The incident is not archived;
// the operator decides.
type ScanResult struct {
	ScanID     string             `json:"scan_id"`
	Incident   *models.Incident   `json:"incident,omitempty"`
	Detections []models.Detection `json:"detections"`
	Media      *media.Captured    `json:"media"`
	// Duplicate is set when this call joined an identical in-flight scan.
	Duplicate bool `json:"duplicate"`
}

// Scan runs capture, classification and normalization in sequence. A second
// submission of identical bytes while the first is in flight waits for and
// shares the first result. A caller whose ctx ends, or whose scan is
// cancelled with CancelScan, gets ErrScanCancelled and never a result. A
// caller that joined a scan which another caller cancelled runs it again.
func (s *Session) Scan(ctx context.Context, scanID string, up media.Upload) (*ScanResult, error) {
	if len(up.Data) == 0 {
		return nil, media.ErrNoMedia
	}
	if scanID == "" {
		scanID = uuid.NewString()
	}
	mode := s.Mode()
	key := string(mode) + ":" + media.Digest(up.Data)

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))

	if !s.register(scanID, func() { cancelWait(); cancelWork() }) {
		cancelWork()
		return nil, fmt.Errorf("scan %s already running", scanID)
	}
	defer s.unregister(scanID)

	for {
		leader := false
		ch := s.scans.DoChan(key, func() (any, error) {
			leader = true
			return s.runScan(workCtx, up, mode)
		})

		select {
		case <-waitCtx.Done():
			cancelWork()
			slog.Info("scan abandoned", "scan_id", scanID, "error", waitCtx.Err())
			return nil, ErrScanCancelled
		case res := <-ch:
			if waitCtx.Err() != nil {
				cancelWork()
				return nil, ErrScanCancelled
			}
			if res.Err != nil {
				if errors.Is(res.Err, context.Canceled) {
					if !leader {
						// the scan we joined was cancelled by its own caller
						slog.Info("joined scan was cancelled, rerunning", "scan_id", scanID)
						continue
					}
					cancelWork()
					return nil, ErrScanCancelled
				}
				cancelWork()
				return nil, res.Err
			}
			cancelWork()
			out := *res.Val.(*ScanResult)
			out.ScanID = scanID
			out.Duplicate = !leader
			return &out, nil
		}
	}
}

// CancelScan cancels an in-flight scan. It reports whether the id was known.
func (s *Session) CancelScan(scanID string) bool {
	s.scanMu.Lock()
	cancel, ok := s.inflight[scanID]
	s.scanMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Session) register(scanID string, cancel context.CancelFunc) bool {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if _, exists := s.inflight[scanID]; exists {
		return false
	}
	s.inflight[scanID] = cancel
	return true
}

func (s *Session) unregister(scanID string) {
	s.scanMu.Lock()
	delete(s.inflight, scanID)
	s.scanMu.Unlock()
}

func (s *Session) runScan(ctx context.Context, up media.Upload, mode gateway.Mode) (*ScanResult, error) {
	captured, err := s.capture.Capture(ctx, up)
	if err != nil {
		return nil, err
	}

	detections, err := s.gateway.Classify(ctx, gateway.Request{
		MediaBase64: captured.Base64,
		MimeType:    captured.MimeType,
		FileName:    captured.FileName,
		Mode:        mode,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	c := incident.Context{FileName: captured.FileName, SnapshotURL: captured.Ref()}
	if strings.HasPrefix(captured.MimeType, "video/") {
		c.LocalVideoURL = captured.Ref()
	}
	return &ScanResult{
		Incident:   s.normalizer.Normalize(detections, c),
		Detections: detections,
		Media:      captured,
	}, nil
}
