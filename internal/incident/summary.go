package incident

import (
	"sort"
	"time"

	"github.com/your-org/sentinel/internal/models"
)

// Hotspot aggregates incidents that share a location label.
type Hotspot struct {
	Name    string              `json:"name"`
	Total   int                 `json:"total"`
	TopType models.IncidentType `json:"top_type"`
	Reason  string              `json:"reason"`
}

type Summary struct {
	Total          int                         `json:"total"`
	PendingReview  int                         `json:"pending_review"`
	ConfirmedToday int                         `json:"confirmed_today"`
	Emergencies    int                         `json:"emergencies"`
	ByType         map[models.IncidentType]int `json:"by_type"`
	Hotspots       []Hotspot                   `json:"hotspots"`
}

// Summarize computes dashboard analytics. Hotspots are ordered by total;
// the reason is the description of the most recently saved incident there.
func Summarize(incidents []models.Incident, now time.Time) Summary {
	sorted := append([]models.Incident(nil), incidents...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SavedAt.Before(sorted[j].SavedAt) })

	s := Summary{Total: len(sorted), ByType: make(map[models.IncidentType]int)}
	y, m, d := now.Date()

	type acc struct {
		order  int
		total  int
		counts map[models.IncidentType]int
		reason string
	}
	byLoc := make(map[string]*acc)

	for _, inc := range sorted {
		s.ByType[inc.Type]++
		switch inc.Status {
		case models.StatusNeedsReview, "":
			s.PendingReview++
		case models.StatusConfirmed:
			iy, im, id := inc.SavedAt.In(now.Location()).Date()
			if iy == y && im == m && id == d {
				s.ConfirmedToday++
			}
		}
		if inc.Emergency {
			s.Emergencies++
		}

		loc := inc.Location
		if loc == "" {
			loc = "Unknown Sector"
		}
		a, ok := byLoc[loc]
		if !ok {
			a = &acc{order: len(byLoc), counts: make(map[models.IncidentType]int)}
			byLoc[loc] = a
		}
		a.total++
		a.counts[inc.Type]++
		a.reason = inc.Description
	}

	type ranked struct {
		Hotspot
		order int
	}
	hs := make([]ranked, 0, len(byLoc))
	for name, a := range byLoc {
		hs = append(hs, ranked{
			Hotspot: Hotspot{Name: name, Total: a.total, TopType: topType(a.counts), Reason: a.reason},
			order:   a.order,
		})
	}
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].Total != hs[j].Total {
			return hs[i].Total > hs[j].Total
		}
		return hs[i].order < hs[j].order
	})

	s.Hotspots = make([]Hotspot, len(hs))
	for i, h := range hs {
		s.Hotspots[i] = h.Hotspot
	}
	return s
}

func topType(counts map[models.IncidentType]int) models.IncidentType {
	var (
		best  models.IncidentType
		count int
	)
	for _, t := range models.IncidentTypes {
		if counts[t] > count {
			best, count = t, counts[t]
		}
	}
	return best
}
