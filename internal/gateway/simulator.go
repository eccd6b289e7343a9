package gateway

import (
	"hash/fnv"
	"strings"

	"github.com/your-org/sentinel/internal/models"
)

type scenario struct {
	keywords  []string
	detection models.Detection
}

var scenarios = []scenario{
	{
		keywords: []string{"weapon", "gun", "knife", "violence"},
		detection: models.Detection{
			Type:            string(models.IncidentWeaponViolence),
			Confidence:      0.98,
			Timestamp:       "0:03",
			Location:        "Transit Hub Concourse - Gate B",
			Description:     "CRITICAL: Brandished weapon identified in a crowded concourse. Threat posture confirmed across consecutive frames.",
			DetectedObjects: []string{"Armed Subject", "Handgun", "Bystanders"},
		},
	},
	{
		keywords: []string{"crash", "collision", "accident"},
		detection: models.Detection{
			Type:            string(models.IncidentVehicleCollision),
			Confidence:      0.98,
			Timestamp:       "0:02",
			Location:        "Downtown Intersection - Grid 4",
			Description:     "CRITICAL: High-velocity impact detected between two vehicles. System has flagged this as the primary emergency event.",
			DetectedObjects: []string{"Silver Sedan", "Black SUV", "Pedestrian"},
			LicensePlate:    "MH-12-AB-4821",
		},
	},
	{
		keywords: []string{"women", "sos", "follow", "harass"},
		detection: models.Detection{
			Type:            string(models.IncidentWomenSafety),
			Confidence:      0.94,
			Timestamp:       "0:05",
			Location:        "North Parking Complex - Level 2",
			Description:     "CRITICAL: Behavioral pattern identified as 'Persistent Following'. Aggressive approach vector detected in isolated zone.",
			DetectedObjects: []string{"Female Subject", "Following Male Entity"},
		},
	},
	{
		keywords: []string{"rob", "thief", "theft", "steal"},
		detection: models.Detection{
			Type:            string(models.IncidentRobbery),
			Confidence:      0.91,
			Timestamp:       "0:08",
			Location:        "Retail Corridor East",
			Description:     "CRITICAL: Sudden motion spike and erratic exit vector identified. Larceny event in progress.",
			DetectedObjects: []string{"Store Front", "Suspect Entity"},
		},
	},
	{
		keywords: []string{"fall", "collapse", "medical"},
		detection: models.Detection{
			Type:            string(models.IncidentPersonFall),
			Confidence:      0.93,
			Timestamp:       "0:04",
			Location:        "Metro Station Platform 2",
			Description:     "Subject collapsed and has remained motionless for several seconds. Medical response advised.",
			DetectedObjects: []string{"Fallen Person", "Platform Edge"},
		},
	},
	{
		keywords: []string{"traffic", "jam", "congestion"},
		detection: models.Detection{
			Type:            string(models.IncidentTrafficCongestion),
			Confidence:      0.88,
			Timestamp:       "0:10",
			Location:        "Ring Road Northbound",
			Description:     "Vehicle density exceeds corridor capacity. Flow has stalled across all lanes.",
			DetectedObjects: []string{"Queued Vehicles", "Stalled Bus"},
		},
	},
	{
		keywords: []string{"suspicious", "loiter", "prowl"},
		detection: models.Detection{
			Type:            string(models.IncidentSuspicious),
			Confidence:      0.82,
			Timestamp:       "0:06",
			Location:        "Service Alley - Block 9",
			Description:     "Subject repeatedly circling parked vehicles and testing door handles.",
			DetectedObjects: []string{"Loitering Subject", "Parked Vehicles"},
		},
	},
}

var referenceLocations = []string{"Center frame", "Left periphery", "Right periphery", "Background crowd"}

// Simulator produces deterministic detections for a request. It never fails.
type Simulator struct{}

func NewSimulator() *Simulator {
	return &Simulator{}
}

// Classify returns one Target Match per reference (the first at 0.97, the
// rest below the auto-confirm range) or, without references, exactly one
// threat picked from the file name or a hash of the payload.
func (s *Simulator) Classify(req Request) []models.Detection {
	if len(req.References) > 0 {
		detections := make([]models.Detection, 0, len(req.References))
		for i, ref := range req.References {
			confidence := 0.97
			if i > 0 {
				confidence = max(0.64-0.04*float64(i-1), 0.40)
			}
			detections = append(detections, models.Detection{
				Type:            models.TargetMatchType,
				Confidence:      confidence,
				Description:     "Facial geometry consistent with registry reference " + ref.ID + ".",
				DetectedObjects: []string{"Human", "Face"},
				Location:        "SECTOR ALPHA",
				Timestamp:       "00:01",
				MatchedTargetID: ref.ID,
				LocationInImage: referenceLocations[i%len(referenceLocations)],
			})
		}
		return detections
	}

	sc := pickScenario(req.FileName, req.MediaBase64)
	d := sc.detection
	d.DetectedObjects = append([]string(nil), sc.detection.DetectedObjects...)
	return []models.Detection{d}
}

func pickScenario(fileName, payload string) scenario {
	name := strings.ToLower(fileName)
	for _, sc := range scenarios {
		for _, kw := range sc.keywords {
			if strings.Contains(name, kw) {
				return sc
			}
		}
	}
	h := fnv.New32a()
	h.Write([]byte(payload))
	return scenarios[h.Sum32()%uint32(len(scenarios))]
}

func (s *Simulator) Verify(req VerifyRequest) *Verification {
	return &Verification{
		IsReal: true,
		Reason: "Imagery consistent with a live field capture of the reported " + string(req.ClaimedType) + ".",
		Audit: Audit{
			OverallScore: 92,
			Authenticity: "HIGH",
			ContextMatch: "CONSISTENT",
			Findings: []string{
				"Natural sensor noise present",
				"Lighting consistent across scene",
				"No generative artifacts detected",
			},
		},
	}
}
