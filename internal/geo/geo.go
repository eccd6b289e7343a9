// Package geo is the routing and facility-lookup boundary behind the
// tactical map. Remote failures degrade to deterministic local answers.
package geo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
)

// Offsets of the synthetic hospital used when no facility lookup succeeds.
const (
	fallbackHubName   = "CENTRAL MEDICAL HUB"
	fallbackLatOffset = 0.008
	fallbackLngOffset = 0.005
)

const earthRadiusM = 6371000.0

type Route struct {
	Polyline  []models.Coordinates `json:"polyline"`
	DistanceM float64              `json:"distance_m"`
	DurationS float64              `json:"duration_s"`
	Mode      string               `json:"mode"`
	// Simulated marks a straight-line estimate made without the routing service.
	Simulated bool `json:"simulated"`
}

type Facility struct {
	Name      string             `json:"name"`
	Address   string             `json:"address"`
	Coords    models.Coordinates `json:"coords"`
	URI       string             `json:"uri"`
	DistanceM float64            `json:"distance_m"`
	Simulated bool               `json:"simulated,omitempty"`
}

// Dispatch is the nearest hospital and the route to it.
type Dispatch struct {
	Facility Facility `json:"facility"`
	Route    Route    `json:"route"`
}

var profiles = map[string]string{
	"driving": "driving", "car": "driving", "ambulance": "driving",
	"walking": "walking", "foot": "walking",
	"cycling": "cycling", "bike": "cycling",
}

// average speeds for straight-line estimates, m/s
var fallbackSpeed = map[string]float64{"driving": 11.1, "walking": 1.4, "cycling": 4.2}

var amenities = map[string]string{
	"hospital": "hospital",
	"police":   "police",
	"fire":     "fire_station",
	"pharmacy": "pharmacy",
}

type osmPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Client struct {
	http          *http.Client
	routingURL    string
	facilitiesURL string
	offline       bool

	routes *gobreaker.CircuitBreaker[*Route]
	places *gobreaker.CircuitBreaker[[]Facility]
}

func New(cfg config.GeoConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:          &http.Client{Timeout: timeout},
		routingURL:    strings.TrimRight(cfg.RoutingURL, "/"),
		facilitiesURL: cfg.FacilitiesURL,
		offline:       cfg.Offline,
		routes:        gobreaker.NewCircuitBreaker[*Route](breakerSettings("routing")),
		places:        gobreaker.NewCircuitBreaker[[]Facility](breakerSettings("facilities")),
	}
}

func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("geo breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
}

// ParseMode maps a transport mode onto a routing profile.
func ParseMode(mode string) (string, error) {
	if mode == "" {
		return "driving", nil
	}
	p, ok := profiles[strings.ToLower(mode)]
	if !ok {
		return "", fmt.Errorf("unknown transport mode %q", mode)
	}
	return p, nil
}

// Route returns a road route, or a straight-line estimate when routing is
// unavailable.
func (c *Client) Route(ctx context.Context, from, to models.Coordinates, mode string) (*Route, error) {
	profile, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if c.offline || c.routingURL == "" {
		return straightLine(from, to, profile), nil
	}

	r, err := c.routes.Execute(func() (*Route, error) {
		return c.fetchRoute(ctx, from, to, profile)
	})
	if err != nil {
		observability.RouteLookups.WithLabelValues("route", "fallback").Inc()
		slog.Warn("routing unavailable, using straight line", "error", err)
		return straightLine(from, to, profile), nil
	}
	observability.RouteLookups.WithLabelValues("route", "ok").Inc()
	return r, nil
}

func (c *Client) fetchRoute(ctx context.Context, from, to models.Coordinates, profile string) (*Route, error) {
	u := fmt.Sprintf("%s/route/v1/%s/%s,%s;%s,%s?overview=full&geometries=geojson",
		c.routingURL, profile,
		ftoa(from.Lng), ftoa(from.Lat), ftoa(to.Lng), ftoa(to.Lat))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build route request: %w", err)
	}

	var body struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := c.getJSON(req, &body); err != nil {
		return nil, err
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return nil, fmt.Errorf("routing returned %q with %d routes", body.Code, len(body.Routes))
	}

	best := body.Routes[0]
	r := &Route{DistanceM: best.Distance, DurationS: best.Duration, Mode: profile}
	for _, pt := range best.Geometry.Coordinates {
		if len(pt) >= 2 {
			r.Polyline = append(r.Polyline, models.Coordinates{Lat: pt[1], Lng: pt[0]})
		}
	}
	return r, nil
}

// Facilities lists facilities of kind within radiusM of at, nearest first.
// When the lookup fails and kind is hospital, the synthetic hub is returned.
func (c *Client) Facilities(ctx context.Context, at models.Coordinates, radiusM int, kind string) ([]Facility, error) {
	if kind == "" {
		kind = "hospital"
	}
	amenity, ok := amenities[kind]
	if !ok {
		return nil, fmt.Errorf("unknown facility kind %q", kind)
	}
	if radiusM <= 0 {
		radiusM = 5000
	}
	if c.offline || c.facilitiesURL == "" {
		return fallbackFacilities(at, kind), nil
	}

	found, err := c.places.Execute(func() ([]Facility, error) {
		return c.fetchFacilities(ctx, at, radiusM, amenity)
	})
	if err != nil {
		observability.RouteLookups.WithLabelValues("facilities", "fallback").Inc()
		slog.Warn("facility lookup unavailable", "kind", kind, "error", err)
		return fallbackFacilities(at, kind), nil
	}
	observability.RouteLookups.WithLabelValues("facilities", "ok").Inc()
	if len(found) == 0 {
		return fallbackFacilities(at, kind), nil
	}
	return found, nil
}

func (c *Client) fetchFacilities(ctx context.Context, at models.Coordinates, radiusM int, amenity string) ([]Facility, error) {
	query := fmt.Sprintf(`[out:json][timeout:10];(node["amenity"="%[1]s"](around:%[2]d,%[3]s,%[4]s);way["amenity"="%[1]s"](around:%[2]d,%[3]s,%[4]s););out center 20;`,
		amenity, radiusM, ftoa(at.Lat), ftoa(at.Lng))
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.facilitiesURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build facility request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body struct {
		Elements []struct {
			Type   string            `json:"type"`
			ID     int64             `json:"id"`
			Lat    float64           `json:"lat"`
			Lon    float64           `json:"lon"`
			Center *osmPoint         `json:"center"`
			Tags   map[string]string `json:"tags"`
		} `json:"elements"`
	}
	if err := c.getJSON(req, &body); err != nil {
		return nil, err
	}

	facilities := make([]Facility, 0, len(body.Elements))
	for _, el := range body.Elements {
		pos := models.Coordinates{Lat: el.Lat, Lng: el.Lon}
		if el.Center != nil {
			pos = models.Coordinates{Lat: el.Center.Lat, Lng: el.Center.Lon}
		}
		name := el.Tags["name"]
		if name == "" {
			name = strings.ToUpper(strings.ReplaceAll(amenity, "_", " "))
		}
		facilities = append(facilities, Facility{
			Name:      name,
			Address:   address(el.Tags),
			Coords:    pos,
			URI:       fmt.Sprintf("https://www.openstreetmap.org/%s/%d", el.Type, el.ID),
			DistanceM: Haversine(at, pos),
		})
	}
	sort.SliceStable(facilities, func(i, j int) bool { return facilities[i].DistanceM < facilities[j].DistanceM })
	return facilities, nil
}

// SOS finds the nearest hospital and routes to it.
func (c *Client) SOS(ctx context.Context, at models.Coordinates, mode string) (*Dispatch, error) {
	if _, err := ParseMode(mode); err != nil {
		return nil, err
	}
	hospitals, err := c.Facilities(ctx, at, 5000, "hospital")
	if err != nil {
		return nil, err
	}
	dest := hospitals[0]
	r, err := c.Route(ctx, at, dest.Coords, mode)
	if err != nil {
		return nil, err
	}
	return &Dispatch{Facility: dest, Route: *r}, nil
}

func (c *Client) getJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sentinel-command/1.0")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Host, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Host, err)
	}
	return nil
}

func fallbackFacilities(at models.Coordinates, kind string) []Facility {
	if kind != "hospital" {
		return []Facility{}
	}
	pos := models.Coordinates{Lat: at.Lat + fallbackLatOffset, Lng: at.Lng + fallbackLngOffset}
	return []Facility{{
		Name:      fallbackHubName,
		Address:   "Sector medical command",
		Coords:    pos,
		DistanceM: Haversine(at, pos),
		Simulated: true,
	}}
}

func straightLine(from, to models.Coordinates, profile string) *Route {
	d := Haversine(from, to)
	return &Route{
		Polyline:  []models.Coordinates{from, to},
		DistanceM: d,
		DurationS: d / fallbackSpeed[profile],
		Mode:      profile,
		Simulated: true,
	}
}

// Haversine returns the great-circle distance between two points in metres.
func Haversine(a, b models.Coordinates) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLat := lat2 - lat1
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }

func address(tags map[string]string) string {
	parts := []string{}
	if hn, st := tags["addr:housenumber"], tags["addr:street"]; st != "" {
		parts = append(parts, strings.TrimSpace(hn+" "+st))
	}
	if city := tags["addr:city"]; city != "" {
		parts = append(parts, city)
	}
	return strings.Join(parts, ", ")
}
