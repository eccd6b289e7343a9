package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/incident"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/models"
)

type stubMedia struct{ err error }

func (s stubMedia) Reload(_ context.Context, key, fileName string) (*media.Captured, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &media.Captured{Key: key, URL: "/v1/media/" + key, Base64: "AAAA", MimeType: "video/mp4", FileName: fileName}, nil
}

type stubGateway struct {
	detections []models.Detection
	err        error
	mode       gateway.Mode
}

func (s *stubGateway) Classify(_ context.Context, req gateway.Request) ([]models.Detection, error) {
	s.mode = req.Mode
	return s.detections, s.err
}

type capturePublisher struct {
	kind string
	outs []models.ScanOutcome
	err  error
}

func (c *capturePublisher) PublishOutcome(_ context.Context, kind string, out models.ScanOutcome) error {
	if c.err != nil {
		return c.err
	}
	c.kind = kind
	c.outs = append(c.outs, out)
	return nil
}

func job() models.ScanJob {
	return models.ScanJob{ScanID: "scan-1", MediaKey: "media/k/weapon_test.mp4", FileName: "weapon_test.mp4", Mode: "live"}
}

func TestHandlePublishesNormalizedIncident(t *testing.T) {
	gw := &stubGateway{detections: []models.Detection{
		{Type: "Suspicious Behavior", Confidence: 0.5},
		{Type: "Weapon / Violence", Confidence: 0.98, Description: "armed subject"},
	}}
	pub := &capturePublisher{}
	p := NewProcessor(stubMedia{}, gw, incident.NewNormalizer(nil), pub)

	require.NoError(t, p.Handle(context.Background(), job()))

	assert.Equal(t, gateway.ModeLive, gw.mode)
	assert.Equal(t, "scanned", pub.kind)
	require.Len(t, pub.outs, 1)
	out := pub.outs[0]
	assert.Empty(t, out.Error)
	assert.Len(t, out.Detections, 2)
	require.NotNil(t, out.Incident)
	assert.Equal(t, models.IncidentWeaponViolence, out.Incident.Type)
	assert.True(t, out.Incident.Emergency)
	assert.Equal(t, "/v1/media/media/k/weapon_test.mp4", out.Incident.LocalVideoURL)
	assert.False(t, out.Incident.Saved())
}

func TestHandleReportsUplinkFailureWithoutRetry(t *testing.T) {
	gw := &stubGateway{err: fmt.Errorf("%w: quota", gateway.ErrUplinkFailure)}
	pub := &capturePublisher{}
	p := NewProcessor(stubMedia{}, gw, incident.NewNormalizer(nil), pub)

	require.NoError(t, p.Handle(context.Background(), job()))
	require.Len(t, pub.outs, 1)
	assert.Contains(t, pub.outs[0].Error, "neural uplink failure")
	assert.Nil(t, pub.outs[0].Incident)
	assert.NotNil(t, pub.outs[0].Detections)
}

func TestHandleReportsMissingMedia(t *testing.T) {
	pub := &capturePublisher{}
	p := NewProcessor(stubMedia{err: media.ErrObjectNotFound}, &stubGateway{}, incident.NewNormalizer(nil), pub)

	require.NoError(t, p.Handle(context.Background(), job()))
	require.Len(t, pub.outs, 1)
	assert.NotEmpty(t, pub.outs[0].Error)
}

func TestHandleReturnsPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("nats down")}
	p := NewProcessor(stubMedia{}, &stubGateway{}, incident.NewNormalizer(nil), pub)

	err := p.Handle(context.Background(), job())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan-1")
}

func TestUnknownModeFallsBackToSimulated(t *testing.T) {
	gw := &stubGateway{}
	p := NewProcessor(stubMedia{}, gw, incident.NewNormalizer(nil), &capturePublisher{})
	j := job()
	j.Mode = "warp"
	require.NoError(t, p.Handle(context.Background(), j))
	assert.Equal(t, gateway.ModeSimulated, gw.mode)
}
