package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/sentinel/internal/api"
	"github.com/your-org/sentinel/internal/api/handlers"
	"github.com/your-org/sentinel/internal/api/ws"
	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/geo"
	"github.com/your-org/sentinel/internal/incident"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/natsserver"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/queue"
	"github.com/your-org/sentinel/internal/session"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults plus environment when empty)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting Sentinel API service",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Driver,
		"ai_provider", cfg.AI.Provider,
		"simulated", cfg.AI.Simulated(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openStore(cfg)
	defer store.Close()

	checks := map[string]handlers.Check{"store": store.Ping}

	// Object store is optional; without it media is classified inline only.
	var objects media.ObjectStore
	if cfg.MinIO.Enabled() {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		objects = minioStore
		checks["minio"] = minioStore.Ping
	}
	capture := media.NewAdapter(objects)

	gw, err := gateway.NewFromConfig(ctx, cfg.AI)
	if err != nil {
		slog.Error("init classification gateway", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	deps := session.Deps{
		Store:                  store,
		Capture:                capture,
		Gateway:                gw,
		Normalizer:             incident.NewNormalizer(store),
		Notifier:               hub,
		NearDuplicateThreshold: cfg.Vision.NearDuplicateThreshold,
	}
	faces, closeFaces, err := vision.Open(cfg.Vision)
	if err != nil {
		slog.Warn("faceprints unavailable, registry near-duplicate advisory disabled", "error", err)
	} else {
		defer closeFaces()
		deps.Faces = faces
		slog.Info("faceprint model loaded")
	}

	sess := session.New(deps)
	if err := sess.Hydrate(ctx); err != nil {
		slog.Error("hydrate session", "error", err)
		os.Exit(1)
	}

	var scanQueue handlers.ScanQueue
	if cfg.NATS.Enabled() {
		natsURL := cfg.NATS.URL
		if cfg.NATS.Embedded {
			ns, err := natsserver.Start(natsserver.Config{Port: cfg.NATS.Port, StoreDir: cfg.NATS.StoreDir})
			if err != nil {
				slog.Error("start embedded nats", "error", err)
				os.Exit(1)
			}
			defer ns.Shutdown()
			natsURL = ns.ClientURL()
		}

		producer, err := queue.NewProducer(natsURL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		checks["nats"] = func(context.Context) error { return producer.Ping() }

		consumer, err := queue.NewConsumer(natsURL)
		if err != nil {
			slog.Error("create outcome consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		err = consumer.ConsumeOutcomes(ctx, "api-outcomes", func(ctx context.Context, out models.ScanOutcome) error {
			hub.Broadcast("scan.completed", out)
			return nil
		})
		if err != nil {
			slog.Warn("start outcome consumer", "error", err)
		}

		if capture.Stored() {
			scanQueue = producer
		} else {
			slog.Warn("nats configured without an object store, async scans run inline")
		}
		go reportQueueDepth(ctx, producer)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:        cfg.Server.APIKey,
		MaxUploadMB:   cfg.Server.MaxUploadMB,
		Session:       sess,
		Capture:       capture,
		Geo:           geo.New(cfg.Geo),
		Hub:           hub,
		LiveAvailable: gw.Live(),
		Queue:         scanQueue,
		Checks:        checks,
	})

	// Uploads and live classification can take a while, so the write
	// timeout covers the AI timeout with headroom.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.AI.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

func openStore(cfg *config.Config) storage.Store {
	switch cfg.Storage.Driver {
	case "postgres":
		return storage.NewPostgresStore(cfg.Database)
	default:
		return storage.NewBadgerStore(cfg.Storage.BadgerDir)
	}
}

func reportQueueDepth(ctx context.Context, producer *queue.Producer) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := producer.QueueDepth(ctx)
			if err == nil {
				observability.ScanQueueDepth.Set(float64(depth))
			}
		}
	}
}
