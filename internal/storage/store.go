package storage

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/goccy/go-json"

	"github.com/your-org/sentinel/internal/models"
)

// SchemaVersion is stamped into both backends on first use.
const SchemaVersion = 1

var (
	// ErrDuplicate is returned by SaveTarget when an entry with an identical
	// reference image already exists.
	ErrDuplicate = errors.New("duplicate registry entry")
	ErrNotFound  = errors.New("record not found")
	ErrMissingID = errors.New("record id is required")
)

// Store is the two-table incident/registry store. Implementations open
// lazily on first use and tolerate concurrent writes to different keys.
type Store interface {
	SaveIncident(ctx context.Context, inc *models.Incident) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	GetAllIncidents(ctx context.Context) ([]models.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, status models.IncidentStatus) (*models.Incident, error)
	DeleteIncident(ctx context.Context, id string) error

	SaveTarget(ctx context.Context, subject *models.IdentifiedSubject) error
	GetAllTargets(ctx context.Context) ([]models.IdentifiedSubject, error)
	DeleteTarget(ctx context.Context, id string) error
	NearestTargets(ctx context.Context, faceprint []float32, threshold float64, limit int) ([]TargetMatch, error)

	Ping(ctx context.Context) error
	Close() error
}

// encodeRecord and decodeRecord are the record codec shared by every backend,
// so a badger value and a postgres JSONB record hold the same document.
func encodeRecord(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeRecord(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// TargetMatch is a registry entry whose faceprint is close to a query faceprint.
type TargetMatch struct {
	Subject models.IdentifiedSubject `json:"subject"`
	Score   float32                  `json:"score"`
}

// cosine returns the cosine similarity of two vectors, 0 when either is empty
// or the lengths differ.
func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func rankMatches(matches []TargetMatch, limit int) []TargetMatch {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
