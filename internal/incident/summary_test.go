package incident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/models"
)

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 5, 12, 18, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return time.Date(2026, 5, 12, h, 0, 0, 0, time.UTC) }
	yesterday := now.Add(-24 * time.Hour)

	incidents := []models.Incident{
		{ID: "4", Type: models.IncidentRobbery, Status: models.StatusConfirmed, Location: "Retail Corridor East", Description: "latest", SavedAt: at(9), Emergency: true},
		{ID: "1", Type: models.IncidentRobbery, Status: models.StatusNeedsReview, Location: "Retail Corridor East", Description: "first", SavedAt: at(1)},
		{ID: "2", Type: models.IncidentWomenSafety, Status: models.StatusConfirmed, Location: "North Parking", Description: "np", SavedAt: yesterday, Emergency: true},
		{ID: "3", Type: models.IncidentPersonFall, Status: models.StatusResolved, Location: "Retail Corridor East", Description: "middle", SavedAt: at(5)},
		{ID: "5", Type: models.IncidentSuspicious, Status: models.StatusFalseAlarm, Description: "nowhere", SavedAt: at(3)},
	}

	s := Summarize(incidents, now)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 1, s.PendingReview)
	assert.Equal(t, 1, s.ConfirmedToday)
	assert.Equal(t, 2, s.Emergencies)
	assert.Equal(t, 2, s.ByType[models.IncidentRobbery])

	require.Len(t, s.Hotspots, 3)
	top := s.Hotspots[0]
	assert.Equal(t, "Retail Corridor East", top.Name)
	assert.Equal(t, 3, top.Total)
	assert.Equal(t, models.IncidentRobbery, top.TopType)
	assert.Equal(t, "latest", top.Reason)

	names := []string{s.Hotspots[1].Name, s.Hotspots[2].Name}
	assert.ElementsMatch(t, []string{"North Parking", "Unknown Sector"}, names)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, time.Now())
	assert.Zero(t, s.Total)
	assert.Empty(t, s.Hotspots)
	assert.NotNil(t, s.ByType)
}
