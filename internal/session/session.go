// Package session holds the console's in-memory view of incidents and the
// registry. The store is the source of truth: every mutation is written there
// first and the cache is refreshed from what the store returns.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/incident"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/storage"
)

var (
	ErrRegistryEmpty   = errors.New("registry empty")
	ErrScanCancelled   = errors.New("scan cancelled")
	ErrInvalidStatus   = errors.New("invalid incident status")
	ErrLiveUnavailable = errors.New("live mode requires an AI credential")
	ErrTargetNotFound  = errors.New("registry target not found")
	// ErrIncidentExists is returned by Add for an id that is already archived.
	ErrIncidentExists = errors.New("incident already archived")
)

// Events pushed to the notifier.
const (
	EventIncidentCreated = "incident.created"
	EventIncidentUpdated = "incident.updated"
	EventIncidentDeleted = "incident.deleted"
	EventTargetAdded     = "registry.added"
	EventTargetRemoved   = "registry.removed"
	EventModeChanged     = "mode.changed"
)

type Capturer interface {
	Capture(ctx context.Context, up media.Upload) (*media.Captured, error)
}

type Classifier interface {
	Live() bool
	Classify(ctx context.Context, req gateway.Request) ([]models.Detection, error)
	Verify(ctx context.Context, req gateway.VerifyRequest) (*gateway.Verification, error)
}

// Faceprinter computes a face embedding from raw image bytes.
type Faceprinter interface {
	Faceprint(ctx context.Context, image []byte) ([]float32, error)
}

type Notifier interface {
	Broadcast(event string, data any)
}

type Deps struct {
	Store      storage.Store
	Capture    Capturer
	Gateway    Classifier
	Normalizer *incident.Normalizer
	// Faces is optional. When set, registry adds get a near-duplicate advisory.
	Faces                  Faceprinter
	Notifier               Notifier
	NearDuplicateThreshold float64
	Now                    func() time.Time
}

type Session struct {
	store      storage.Store
	capture    Capturer
	gateway    Classifier
	normalizer *incident.Normalizer
	faces      Faceprinter
	notifier   Notifier
	nearDup    float64
	now        func() time.Time

	mu        sync.RWMutex
	incidents map[string]models.Incident
	targets   []models.IdentifiedSubject
	simulated bool

	// addMu makes the exists check and the write in Add one step.
	addMu sync.Mutex

	scans    singleflight.Group
	scanMu   sync.Mutex
	inflight map[string]context.CancelFunc
}

func New(d Deps) *Session {
	s := &Session{
		store:      d.Store,
		capture:    d.Capture,
		gateway:    d.Gateway,
		normalizer: d.Normalizer,
		faces:      d.Faces,
		notifier:   d.Notifier,
		nearDup:    d.NearDuplicateThreshold,
		now:        d.Now,
		incidents:  make(map[string]models.Incident),
		simulated:  !d.Gateway.Live(),
		inflight:   make(map[string]context.CancelFunc),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.normalizer == nil {
		s.normalizer = incident.NewNormalizer(d.Store, incident.WithClock(s.now))
	}
	if s.nearDup == 0 {
		s.nearDup = 0.92
	}
	return s
}

// Hydrate loads incidents and the registry from the store. Call once at startup.
func (s *Session) Hydrate(ctx context.Context) error {
	var (
		incidents []models.Incident
		targets   []models.IdentifiedSubject
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		incidents, err = s.store.GetAllIncidents(gctx)
		if err != nil {
			return fmt.Errorf("load incidents: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		targets, err = s.store.GetAllTargets(gctx)
		if err != nil {
			return fmt.Errorf("load registry: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = make(map[string]models.Incident, len(incidents))
	for _, inc := range incidents {
		s.incidents[inc.ID] = inc
	}
	sortTargets(targets)
	s.targets = targets
	slog.Info("session hydrated", "incidents", len(incidents), "targets", len(targets))
	return nil
}

// Incidents returns the cached incidents, most recently saved first.
func (s *Session) Incidents() []models.Incident {
	s.mu.RLock()
	out := make([]models.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Session) Targets() []models.IdentifiedSubject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.IdentifiedSubject(nil), s.targets...)
}

func (s *Session) Mode() gateway.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.simulated {
		return gateway.ModeSimulated
	}
	return gateway.ModeLive
}

// SetMode switches between live and simulated classification. Stored
// records are not touched.
func (s *Session) SetMode(m gateway.Mode) error {
	if m == gateway.ModeLive && !s.gateway.Live() {
		return ErrLiveUnavailable
	}
	s.mu.Lock()
	s.simulated = m != gateway.ModeLive
	s.mu.Unlock()
	s.notify(EventModeChanged, map[string]string{"mode": string(m)})
	return nil
}

// Add archives a new incident. Archived incidents are immutable except for
// their status, so an id that is already stored fails with ErrIncidentExists.
// SavedAt and AutoConfirmed are owned by the server.
func (s *Session) Add(ctx context.Context, inc *models.Incident) (*models.Incident, error) {
	if inc == nil || inc.ID == "" {
		return nil, storage.ErrMissingID
	}
	rec := *inc
	if rec.Status == "" {
		rec.Status = models.StatusNeedsReview
	}
	if !rec.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	rec.SavedAt = s.now()
	rec.AutoConfirmed = false
	rec.SnapshotURL = persistable(rec.SnapshotURL)
	rec.LocalVideoURL = persistable(rec.LocalVideoURL)

	s.addMu.Lock()
	defer s.addMu.Unlock()

	_, err := s.store.GetIncident(ctx, rec.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrIncidentExists, rec.ID)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("check incident: %w", err)
	}
	if err := s.store.SaveIncident(ctx, &rec); err != nil {
		return nil, fmt.Errorf("archive incident: %w", err)
	}
	observability.IncidentsArchived.WithLabelValues(string(rec.Type)).Inc()
	return s.refreshIncident(ctx, rec.ID, EventIncidentCreated)
}

func (s *Session) refreshIncident(ctx context.Context, id, event string) (*models.Incident, error) {
	saved, err := s.store.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload incident: %w", err)
	}
	s.mu.Lock()
	s.incidents[saved.ID] = *saved
	s.mu.Unlock()
	s.notify(event, saved)
	return saved, nil
}

func (s *Session) UpdateStatus(ctx context.Context, id string, status models.IncidentStatus) (*models.Incident, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	updated, err := s.store.UpdateIncidentStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	s.mu.Lock()
	s.incidents[updated.ID] = *updated
	s.mu.Unlock()
	s.notify(EventIncidentUpdated, updated)
	return updated, nil
}

// Remove deletes an incident. Removing an unknown id succeeds.
func (s *Session) Remove(ctx context.Context, id string) error {
	if err := s.store.DeleteIncident(ctx, id); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	s.mu.Lock()
	delete(s.incidents, id)
	s.mu.Unlock()
	s.notify(EventIncidentDeleted, map[string]string{"id": id})
	return nil
}

// Dashboard summarizes the cached incidents.
func (s *Session) Dashboard() incident.Summary {
	return incident.Summarize(s.Incidents(), s.now())
}

func (s *Session) notify(event string, data any) {
	if s.notifier != nil {
		s.notifier.Broadcast(event, data)
	}
}

// persistable drops inline data URIs; records only reference media.
func persistable(url string) string {
	if strings.HasPrefix(url, "data:") {
		return ""
	}
	return url
}

func sortTargets(ts []models.IdentifiedSubject) {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].CreatedAt.Before(ts[j].CreatedAt) })
}
