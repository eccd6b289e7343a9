package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/natsserver"
)

func startBroker(t *testing.T) (*Producer, *Consumer) {
	t.Helper()
	srv, err := natsserver.Start(natsserver.Config{Port: server.RANDOM_PORT, StoreDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	p, err := NewProducer(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.EnsureStreams(ctx))

	c, err := NewConsumer(srv.ClientURL())
	require.NoError(t, err)
	c.fetchWait = 200 * time.Millisecond
	return p, c
}

func TestScanJobRoundTrip(t *testing.T) {
	p, c := startBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan models.ScanJob, 1)
	require.NoError(t, c.ConsumeScans(ctx, "test-workers", func(_ context.Context, job models.ScanJob) error {
		got <- job
		return nil
	}, 2))

	job := models.ScanJob{ScanID: "scan-1", MediaKey: "media/abc/weapon.mp4", FileName: "weapon.mp4", MimeType: "video/mp4", Mode: "simulated"}
	require.NoError(t, p.PublishScan(context.Background(), job))

	select {
	case recv := <-got:
		assert.Equal(t, job, recv)
	case <-time.After(5 * time.Second):
		t.Fatal("scan job not delivered")
	}

	cancel()
	c.Close()
}

func TestScanRedeliveredOnHandlerError(t *testing.T) {
	p, c := startBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	var attempts atomic.Int32
	done := make(chan struct{})
	require.NoError(t, c.ConsumeScans(ctx, "flaky", func(_ context.Context, _ models.ScanJob) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, 1))

	require.NoError(t, p.PublishScan(context.Background(), models.ScanJob{ScanID: "scan-retry", Mode: "simulated"}))

	select {
	case <-done:
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(10 * time.Second):
		t.Fatal("scan job not redelivered")
	}

	cancel()
	c.Close()
}

func TestDuplicateScanIDIsDeduplicated(t *testing.T) {
	p, c := startBroker(t)
	defer c.Close()

	job := models.ScanJob{ScanID: "same-id", Mode: "live"}
	require.NoError(t, p.PublishScan(context.Background(), job))
	require.NoError(t, p.PublishScan(context.Background(), job))

	depth, err := p.QueueDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), depth)
}

func TestOutcomeFanOut(t *testing.T) {
	p, c := startBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan models.ScanOutcome, 1)
	require.NoError(t, c.ConsumeOutcomes(ctx, "api-1", func(_ context.Context, out models.ScanOutcome) error {
		got <- out
		return nil
	}))

	out := models.ScanOutcome{
		ScanID:     "scan-9",
		Detections: []models.Detection{{Type: "Weapon / Violence", Confidence: 0.98}},
		Incident:   &models.Incident{ID: "ALERT-1", Type: models.IncidentWeaponViolence},
	}
	require.NoError(t, p.PublishOutcome(context.Background(), OutcomeKindScanned, out))

	select {
	case recv := <-got:
		assert.Equal(t, "scan-9", recv.ScanID)
		require.NotNil(t, recv.Incident)
		assert.Equal(t, "ALERT-1", recv.Incident.ID)
		require.Len(t, recv.Detections, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("outcome not delivered")
	}

	cancel()
	c.Close()
}

func TestPing(t *testing.T) {
	p, c := startBroker(t)
	defer c.Close()
	require.NoError(t, p.Ping())
	p.Close()
	assert.ErrorIs(t, p.Ping(), ErrNotConnected)
}
