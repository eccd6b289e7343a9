// Package gateway sends captured media to an external vision classifier and
// returns raw detections. Without a credential every call runs against the
// deterministic simulator.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
)

var (
	// ErrUplinkFailure wraps any failure of a live classification call.
	ErrUplinkFailure = errors.New("neural uplink failure")
	ErrInvalidMedia  = errors.New("media payload is not valid base64")
)

type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// ParseMode accepts "live" and "simulated"; anything else is an error.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLive:
		return ModeLive, nil
	case ModeSimulated:
		return ModeSimulated, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Reference is a registry subject whose image is attached for face comparison.
type Reference struct {
	ID            string
	Name          string
	MugshotBase64 string
	MimeType      string
}

type Request struct {
	MediaBase64 string
	MimeType    string
	FileName    string
	Mode        Mode
	References  []Reference
}

type VerifyRequest struct {
	MediaBase64 string
	MimeType    string
	ClaimedType models.IncidentType
	Coords      *models.Coordinates
	Mode        Mode
}

// Verification is the authenticity audit of a field report image.
type Verification struct {
	IsReal bool   `json:"is_real"`
	Reason string `json:"reason"`
	Audit  Audit  `json:"audit"`
}

type Audit struct {
	OverallScore int      `json:"overall_score"`
	Authenticity string   `json:"authenticity"`
	ContextMatch string   `json:"context_match"`
	Findings     []string `json:"findings"`
}

type Gateway struct {
	provider Provider
	sim      *Simulator
	limiter  *rate.Limiter
	timeout  time.Duration
}

// New builds a gateway around provider. A nil provider forces simulated mode.
func New(provider Provider, cfg config.AIConfig) *Gateway {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		provider: provider,
		sim:      NewSimulator(),
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60), burst),
		timeout:  timeout,
	}
}

// NewFromConfig picks the provider named in cfg. No credential means no provider.
func NewFromConfig(ctx context.Context, cfg config.AIConfig) (*Gateway, error) {
	if cfg.Simulated() {
		return New(nil, cfg), nil
	}
	var (
		provider Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider = NewOpenAIProvider(cfg.APIKey, cfg.Model, "")
	default:
		provider, err = NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	}
	if err != nil {
		return nil, err
	}
	return New(provider, cfg), nil
}

// Live reports whether a live provider is configured.
func (g *Gateway) Live() bool {
	return g.provider != nil
}

func (g *Gateway) Classify(ctx context.Context, req Request) ([]models.Detection, error) {
	media, err := decodeMedia(req.MediaBase64)
	if err != nil {
		observability.Classifications.WithLabelValues(string(req.Mode), "invalid").Inc()
		return nil, err
	}

	if req.Mode != ModeLive || g.provider == nil {
		detections := g.sim.Classify(req)
		observability.Classifications.WithLabelValues(string(ModeSimulated), "ok").Inc()
		return detections, nil
	}

	prompt := Prompt{
		Kind:        KindDetections,
		Instruction: classifyInstruction(req.References),
		Images:      []Image{{Data: media, MimeType: req.MimeType}},
	}
	for _, ref := range req.References {
		data, err := base64.StdEncoding.DecodeString(ref.MugshotBase64)
		if err != nil {
			slog.Warn("skip reference with invalid image", "target_id", ref.ID, "error", err)
			continue
		}
		prompt.Images = append(prompt.Images, Image{
			Label:    "REFERENCE " + ref.ID + " (" + ref.Name + ")",
			Data:     data,
			MimeType: ref.MimeType,
		})
	}

	raw, err := g.generate(ctx, prompt)
	if err != nil {
		observability.Classifications.WithLabelValues(string(ModeLive), "failed").Inc()
		return nil, err
	}
	detections, err := parseDetections(raw)
	if err != nil {
		observability.Classifications.WithLabelValues(string(ModeLive), "failed").Inc()
		slog.Warn("unparseable classifier response", "provider", g.provider.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUplinkFailure, err)
	}
	observability.Classifications.WithLabelValues(string(ModeLive), "ok").Inc()
	return detections, nil
}

// Verify audits a field report image for authenticity before it is archived.
func (g *Gateway) Verify(ctx context.Context, req VerifyRequest) (*Verification, error) {
	media, err := decodeMedia(req.MediaBase64)
	if err != nil {
		return nil, err
	}
	if req.Mode != ModeLive || g.provider == nil {
		return g.sim.Verify(req), nil
	}

	raw, err := g.generate(ctx, Prompt{
		Kind:        KindVerification,
		Instruction: verifyInstruction(req.ClaimedType, req.Coords),
		Images:      []Image{{Data: media, MimeType: req.MimeType}},
	})
	if err != nil {
		return nil, err
	}
	var v Verification
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: decode verification: %v", ErrUplinkFailure, err)
	}
	v.Audit.OverallScore = min(max(v.Audit.OverallScore, 0), 100)
	return &v, nil
}

func (g *Gateway) generate(ctx context.Context, prompt Prompt) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUplinkFailure, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.provider.Generate(callCtx, prompt)
	observability.ClassificationDuration.WithLabelValues(g.provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("classifier call failed", "provider", g.provider.Name(), "error", err)
		return "", fmt.Errorf("%w: %v", ErrUplinkFailure, err)
	}
	return raw, nil
}

func decodeMedia(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, ErrInvalidMedia
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(data) == 0 {
		return nil, ErrInvalidMedia
	}
	return data, nil
}

// parseDetections accepts a bare JSON array or an object wrapping it under
// "detections".
func parseDetections(raw string) ([]models.Detection, error) {
	body := bytes.TrimSpace([]byte(raw))
	body = bytes.TrimPrefix(body, []byte("```json"))
	body = bytes.TrimPrefix(body, []byte("```"))
	body = bytes.TrimSuffix(body, []byte("```"))
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty response")
	}

	var detections []models.Detection
	if body[0] == '[' {
		if err := json.Unmarshal(body, &detections); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
	} else {
		var wrapped struct {
			Detections []models.Detection `json:"detections"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
		detections = wrapped.Detections
	}

	out := detections[:0]
	for _, d := range detections {
		if strings.TrimSpace(d.Type) == "" {
			continue
		}
		if d.DetectedObjects == nil {
			d.DetectedObjects = []string{}
		}
		out = append(out, d)
	}
	return out, nil
}
