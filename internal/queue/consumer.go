package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/sentinel/internal/models"
)

type ScanHandler func(ctx context.Context, job models.ScanJob) error

type OutcomeHandler func(ctx context.Context, out models.ScanOutcome) error

type Consumer struct {
	nc        *nats.Conn
	js        jetstream.JetStream
	fetchWait time.Duration
	wg        sync.WaitGroup
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL, "sentinel-consumer")
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js, fetchWait: 5 * time.Second}, nil
}

// ConsumeScans pulls jobs from SCANS with workerCount concurrent handlers.
// Failed jobs are redelivered up to three times; undecodable ones are dropped.
func (c *Consumer) ConsumeScans(ctx context.Context, name string, handler ScanHandler, workerCount int) error {
	if workerCount < 1 {
		workerCount = 1
	}
	cons, err := c.consumer(ctx, ScansStreamName, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    3,
		FilterSubject: ScansSubjectBase + ".>",
	})
	if err != nil {
		return err
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(msgCh)
		c.fetchLoop(ctx, cons, workerCount, func(msg jetstream.Msg) bool {
			select {
			case msgCh <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	for i := 0; i < workerCount; i++ {
		c.wg.Add(1)
		go func(worker int) {
			defer c.wg.Done()
			for msg := range msgCh {
				var job models.ScanJob
				if err := json.Unmarshal(msg.Data(), &job); err != nil {
					slog.Error("drop undecodable scan job", "subject", msg.Subject(), "error", err)
					_ = msg.Term()
					continue
				}
				settle(msg, handler(ctx, job), "scan_id", job.ScanID, "worker", worker)
			}
		}(i)
	}

	slog.Info("scan consumer started", "consumer", name, "workers", workerCount)
	return nil
}

// ConsumeOutcomes delivers outcomes published after the consumer was created.
func (c *Consumer) ConsumeOutcomes(ctx context.Context, name string, handler OutcomeHandler) error {
	cons, err := c.consumer(ctx, IncidentsStreamName, jetstream.ConsumerConfig{
		Name:          name,
		Durable:       name,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: IncidentsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.fetchLoop(ctx, cons, 10, func(msg jetstream.Msg) bool {
			var out models.ScanOutcome
			if err := json.Unmarshal(msg.Data(), &out); err != nil {
				slog.Error("drop undecodable outcome", "subject", msg.Subject(), "error", err)
				_ = msg.Term()
				return true
			}
			settle(msg, handler(ctx, out), "scan_id", out.ScanID)
			return true
		})
	}()

	slog.Info("outcome consumer started", "consumer", name)
	return nil
}

func (c *Consumer) consumer(ctx context.Context, streamName string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", streamName, err)
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Name, err)
	}
	return cons, nil
}

// fetchLoop pulls batches until ctx ends or deliver returns false.
func (c *Consumer) fetchLoop(ctx context.Context, cons jetstream.Consumer, batchSize int, deliver func(jetstream.Msg) bool) {
	for ctx.Err() == nil {
		batch, err := cons.Fetch(batchSize, jetstream.FetchMaxWait(c.fetchWait))
		if err != nil {
			if ctx.Err() != nil || c.nc.IsClosed() {
				return
			}
			slog.Warn("fetch error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for msg := range batch.Messages() {
			if !deliver(msg) {
				return
			}
		}
	}
}

func settle(msg jetstream.Msg, err error, attrs ...any) {
	if err != nil {
		slog.Error("handle message", append(attrs, "subject", msg.Subject(), "error", err)...)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// Close drains in-flight handlers. Cancel the ctx passed to Consume* first.
func (c *Consumer) Close() {
	c.nc.Close()
	c.wg.Wait()
}
