// Package queue carries asynchronous scans over NATS JetStream. Jobs go to
// the SCANS work queue; classified outcomes come back on INCIDENTS.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/sentinel/internal/models"
)

const (
	ScansStreamName      = "SCANS"
	ScansSubjectBase     = "scans"
	IncidentsStreamName  = "INCIDENTS"
	IncidentsSubjectBase = "incidents"

	// OutcomeKindScanned is the subject suffix for classified async scans.
	OutcomeKindScanned = "scanned"
)

var ErrNotConnected = errors.New("nats not connected")

func connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL, "sentinel-producer")
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the streams if missing, retrying while NATS starts.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        ScansStreamName,
			Subjects:    []string{ScansSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      30 * time.Minute,
			MaxMsgs:     10000,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
			Description: "Queued media scans awaiting classification",
		},
		{
			Name:        IncidentsStreamName,
			Subjects:    []string{IncidentsSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     100000,
			Storage:     jetstream.FileStorage,
			Description: "Classified scan outcomes for console fan-out",
		},
	}

	const maxAttempts = 30
	for attempt := 1; ; attempt++ {
		err := p.createStreams(ctx, streams)
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("%w (after %d attempts)", err, maxAttempts)
		}
		slog.Warn("ensure nats streams, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (p *Producer) createStreams(ctx context.Context, streams []jetstream.StreamConfig) error {
	for _, cfg := range streams {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		slog.Info("ensured nats stream", "name", cfg.Name)
	}
	return nil
}

// PublishScan queues a job on scans.<mode>. The scan id doubles as the
// JetStream message id, so a resubmitted job inside the dedupe window is dropped.
func (p *Producer) PublishScan(ctx context.Context, job models.ScanJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal scan job: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", ScansSubjectBase, job.Mode)
	if _, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(job.ScanID)); err != nil {
		return fmt.Errorf("publish scan: %w", err)
	}
	return nil
}

func (p *Producer) PublishOutcome(ctx context.Context, kind string, out models.ScanOutcome) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", IncidentsSubjectBase, kind)
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

// QueueDepth returns the number of scans not yet taken by a worker.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, ScansStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
