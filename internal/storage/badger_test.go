package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/models"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s := NewInMemoryBadgerStore()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleIncident(id string) *models.Incident {
	return &models.Incident{
		ID:              id,
		Type:            models.IncidentWeaponViolence,
		Status:          models.StatusNeedsReview,
		Timestamp:       "0:05",
		SavedAt:         time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC),
		Location:        "SECTOR 7G",
		LocationCoords:  &models.Coordinates{Lat: 40.7128, Lng: -74.006},
		Confidence:      0.98,
		VideoRef:        "weapon_test.mp4",
		SnapshotURL:     "/v1/media/media/abc/weapon_test.mp4",
		Description:     "Armed individual near the entrance",
		DetectedObjects: []string{"person", "handgun"},
		LicensePlate:    "KA-01-1234",
		Emergency:       true,
		AlertLabel:      "CRITICAL THREAT",
		IdentifiedSubject: &models.IdentifiedSubject{
			ID:        "TGT-1",
			Name:      "Target-1",
			Status:    models.SubjectWanted,
			RiskLevel: models.RiskHigh,
			CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestSaveIncidentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	want := sampleIncident("ALERT-1")
	require.NoError(t, s.SaveIncident(ctx, want))

	all, err := s.GetAllIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	if diff := cmp.Diff(*want, all[0]); diff != "" {
		t.Errorf("round-tripped incident mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveIncidentUpserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	inc := sampleIncident("ALERT-1")
	require.NoError(t, s.SaveIncident(ctx, inc))
	inc.Description = "updated"
	require.NoError(t, s.SaveIncident(ctx, inc))

	all, err := s.GetAllIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "updated", all[0].Description)
}

func TestSaveIncidentRequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveIncident(context.Background(), &models.Incident{})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestDeleteIncidentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveIncident(ctx, sampleIncident("ALERT-1")))
	require.NoError(t, s.SaveIncident(ctx, sampleIncident("ALERT-2")))

	require.NoError(t, s.DeleteIncident(ctx, "ALERT-1"))
	once, err := s.GetAllIncidents(ctx)
	require.NoError(t, err)

	require.NoError(t, s.DeleteIncident(ctx, "ALERT-1"))
	twice, err := s.GetAllIncidents(ctx)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(once, twice))
	require.Len(t, twice, 1)
	assert.Equal(t, "ALERT-2", twice[0].ID)

	require.NoError(t, s.DeleteIncident(ctx, "never-existed"))
}

func TestUpdateIncidentStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveIncident(ctx, sampleIncident("ALERT-1")))

	updated, err := s.UpdateIncidentStatus(ctx, "ALERT-1", models.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, updated.Status)
	assert.Equal(t, "Armed individual near the entrance", updated.Description)

	got, err := s.GetIncident(ctx, "ALERT-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	_, err = s.UpdateIncidentStatus(ctx, "missing", models.StatusResolved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetIncidentNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetIncident(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func target(id, mugshot string) *models.IdentifiedSubject {
	return &models.IdentifiedSubject{
		ID:            id,
		Name:          id,
		Status:        models.SubjectWanted,
		RiskLevel:     models.RiskHigh,
		MugshotBase64: mugshot,
	}
}

func TestSaveTargetRejectsIdenticalImage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveTarget(ctx, target("TGT-1", "aGVsbG8=")))
	err := s.SaveTarget(ctx, target("TGT-2", "aGVsbG8="))
	assert.ErrorIs(t, err, ErrDuplicate)

	targets, err := s.GetAllTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

func TestSaveTargetAcceptsDifferentImages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveTarget(ctx, target("TGT-1", "aGVsbG8=")))
	require.NoError(t, s.SaveTarget(ctx, target("TGT-2", "d29ybGQ=")))

	targets, err := s.GetAllTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}

func TestSaveTargetConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.SaveTarget(ctx, target(fmt.Sprintf("TGT-%d", i), "c2FtZQ=="))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicate)
	}
	assert.Equal(t, 1, succeeded)
}

func TestDeleteTargetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveTarget(ctx, target("TGT-1", "aGVsbG8=")))
	require.NoError(t, s.DeleteTarget(ctx, "TGT-1"))
	require.NoError(t, s.DeleteTarget(ctx, "TGT-1"))

	targets, err := s.GetAllTargets(ctx)
	require.NoError(t, err)
	assert.Empty(t, targets)

	// The image is free again once its entry is gone.
	require.NoError(t, s.SaveTarget(ctx, target("TGT-2", "aGVsbG8=")))
}

func TestConcurrentIncidentWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.SaveIncident(ctx, sampleIncident(fmt.Sprintf("ALERT-%d", i))))
		}(i)
	}
	wg.Wait()

	all, err := s.GetAllIncidents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestNearestTargets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := target("TGT-A", "YQ==")
	a.Faceprint = []float32{1, 0, 0}
	b := target("TGT-B", "Yg==")
	b.Faceprint = []float32{0.9, 0.1, 0}
	c := target("TGT-C", "Yw==")
	c.Faceprint = []float32{0, 1, 0}
	noPrint := target("TGT-D", "ZA==")
	for _, subj := range []*models.IdentifiedSubject{a, b, c, noPrint} {
		require.NoError(t, s.SaveTarget(ctx, subj))
	}

	matches, err := s.NearestTargets(ctx, []float32{1, 0, 0}, 0.9, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "TGT-A", matches[0].Subject.ID)
	assert.Equal(t, "TGT-B", matches[1].Subject.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestLazyOpenAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := NewBadgerStore(dir)
	assert.Nil(t, s.db, "store must not open before first use")

	require.NoError(t, s.SaveIncident(ctx, sampleIncident("ALERT-1")))
	require.NoError(t, s.Close())

	// Reopening the same directory re-runs schema setup against the stamped version.
	reopened := NewBadgerStore(dir)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.Ping(ctx))
	require.NoError(t, reopened.Ping(ctx))

	all, err := reopened.GetAllIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ALERT-1", all[0].ID)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.Zero(t, cosine(nil, []float32{1}))
	assert.Zero(t, cosine([]float32{1, 2}, []float32{1}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestStoredRecordIsSharedJSONDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	want := sampleIncident("ALERT-doc")
	require.NoError(t, s.SaveIncident(ctx, want))

	db, err := s.open()
	require.NoError(t, err)
	var raw []byte
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(incidentKeyPrefix + want.ID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	}))

	// the postgres status update patches the "status" key in place
	assert.Contains(t, string(raw), `"status":"Needs Review"`)
	assert.Contains(t, string(raw), `"saved_at":`)

	var got models.Incident
	require.NoError(t, decodeRecord(raw, &got))
	if diff := cmp.Diff(*want, got); diff != "" {
		t.Errorf("decoded record mismatch (-want +got):\n%s", diff)
	}
}
