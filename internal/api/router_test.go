package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/api/handlers"
	"github.com/your-org/sentinel/internal/api/ws"
	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/gateway"
	"github.com/your-org/sentinel/internal/geo"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/session"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

var pngPixel, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII=")

// a second, different image so two registry entries can coexist
var gifPixel, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAP///wAAACH5BAEAAAAALAAAAAABAAEAAAICRAEAOw==")

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Generate(context.Context, gateway.Prompt) (string, error) {
	return "", errors.New("quota exhausted")
}

type memObjects struct {
	mu    sync.Mutex
	items map[string][]byte
	types map[string]string
}

func (m *memObjects) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memObjects) GetObject(_ context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.items[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return data, m.types[key], nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []models.ScanJob
}

func (q *recordingQueue) PublishScan(_ context.Context, job models.ScanJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type fixture struct {
	router  http.Handler
	session *session.Session
	queue   *recordingQueue
}

type options struct {
	provider gateway.Provider
	objects  media.ObjectStore
	apiKey   string
	checks   map[string]handlers.Check
}

func newFixture(t *testing.T, o options) *fixture {
	t.Helper()
	store := storage.NewInMemoryBadgerStore()
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	gw := gateway.New(o.provider, config.AIConfig{RequestsPerMinute: 6000, Timeout: time.Second})
	capture := media.NewAdapter(o.objects)
	sess := session.New(session.Deps{Store: store, Capture: capture, Gateway: gw, Notifier: hub})
	require.NoError(t, sess.Hydrate(context.Background()))

	q := &recordingQueue{}
	r := NewRouter(RouterConfig{
		APIKey:        o.apiKey,
		MaxUploadMB:   5,
		Session:       sess,
		Capture:       capture,
		Geo:           geo.New(config.GeoConfig{Offline: true}),
		Hub:           hub,
		LiveAvailable: gw.Live(),
		Queue:         q,
		Checks:        o.checks,
	})
	return &fixture{router: r, session: sess, queue: q}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) upload(t *testing.T, path, fileName string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fileName, data, fields)
	return f.do(t, http.MethodPost, path, body, ct)
}

func multipartBody(t *testing.T, fileName string, data []byte, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, options{checks: map[string]handlers.Check{
		"store": func(context.Context) error { return nil },
		"nats":  func(context.Context) error { return errors.New("not connected") },
	}})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, "").Code)

	w := f.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "ok", body["checks"].(map[string]any)["store"])
}

func TestSimulatedWeaponScanOffersDispatch(t *testing.T) {
	f := newFixture(t, options{})

	w := f.upload(t, "/v1/scans", "weapon_test.mp4", pngPixel, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[dto.ScanResponse](t, w)
	require.NotNil(t, resp.Incident)
	assert.Equal(t, models.IncidentWeaponViolence, resp.Incident.Type)
	assert.InDelta(t, 0.98, resp.Incident.Confidence, 1e-9)
	assert.True(t, resp.Incident.Emergency)
	assert.Equal(t, []string{"Archive & Dispatch"}, resp.Actions)
	assert.False(t, resp.Duplicate)
	assert.NotEmpty(t, resp.ScanID)

	// scanning does not archive
	assert.Empty(t, f.session.Incidents())
}

func TestScanWithoutFileIsMediaInputError(t *testing.T) {
	f := newFixture(t, options{})
	w := f.upload(t, "/v1/scans", "", nil, map[string]string{"note": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[dto.ErrorResponse](t, w).Error, "MEDIA INPUT ERROR")
}

func TestBiometricScanWithEmptyRegistry(t *testing.T) {
	f := newFixture(t, options{})

	w := f.upload(t, "/v1/biometric/scan", "crowd.png", pngPixel, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[dto.ErrorResponse](t, w)
	assert.Equal(t, "REGISTRY EMPTY", resp.Error)
	assert.Equal(t, dto.CodeRegistryEmpty, resp.Code)
}

func TestRegistryDuplicateRejected(t *testing.T) {
	f := newFixture(t, options{})

	first := f.upload(t, "/v1/registry", "suspect.png", pngPixel, map[string]string{"name": "Viktor"})
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	added := decode[dto.AddTargetResponse](t, first)
	assert.Equal(t, "Viktor", added.Target.Name)
	assert.Equal(t, models.SubjectWanted, added.Target.Status)

	second := f.upload(t, "/v1/registry", "same-face.png", pngPixel, nil)
	assert.Equal(t, http.StatusConflict, second.Code)
	resp := decode[dto.ErrorResponse](t, second)
	assert.Equal(t, dto.CodeDuplicateFound, resp.Code)
	assert.Equal(t, 4000, resp.AutoDismissMs)

	list := f.do(t, http.MethodGet, "/v1/registry", nil, "")
	require.Equal(t, http.StatusOK, list.Code)
	assert.NotContains(t, list.Body.String(), "mugshot_base64")
	assert.Equal(t, 1, decode[dto.TargetListResponse](t, list).Total)
}

func TestBiometricScanAutoConfirmsStrongMatch(t *testing.T) {
	f := newFixture(t, options{})
	require.Equal(t, http.StatusCreated, f.upload(t, "/v1/registry", "a.png", pngPixel, map[string]string{"name": "Alpha"}).Code)
	require.Equal(t, http.StatusCreated, f.upload(t, "/v1/registry", "b.gif", gifPixel, map[string]string{"name": "Bravo"}).Code)

	w := f.upload(t, "/v1/biometric/scan", "crowd.png", pngPixel, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[dto.BiometricResponse](t, w)

	require.NotEmpty(t, resp.Matches)
	top := resp.Matches[0]
	assert.Equal(t, "Alpha", top.Target.Name)
	assert.True(t, top.AutoConfirmed)
	require.NotNil(t, top.Incident)
	assert.Equal(t, models.StatusConfirmed, top.Incident.Status)

	incidents := decode[dto.IncidentListResponse](t, f.do(t, http.MethodGet, "/v1/incidents", nil, ""))
	assert.Equal(t, 1, incidents.Total)
}

func TestLiveUplinkFailure(t *testing.T) {
	f := newFixture(t, options{provider: failingProvider{}})

	mode := f.do(t, http.MethodPut, "/v1/session/mode", []byte(`{"mode":"live"}`), "application/json")
	require.Equal(t, http.StatusOK, mode.Code, mode.Body.String())
	assert.Equal(t, "live", decode[dto.SessionResponse](t, mode).Mode)

	w := f.upload(t, "/v1/scans", "street.png", pngPixel, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "NEURAL UPLINK FAILURE: CHECK API STATUS", decode[dto.ErrorResponse](t, w).Error)
}

func TestLiveModeNeedsCredential(t *testing.T) {
	f := newFixture(t, options{})
	w := f.do(t, http.MethodPut, "/v1/session/mode", []byte(`{"mode":"live"}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPut, "/v1/session/mode", []byte(`{"mode":"turbo"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIncidentLifecycle(t *testing.T) {
	f := newFixture(t, options{})

	scan := decode[dto.ScanResponse](t, f.upload(t, "/v1/scans", "crash_cam.png", pngPixel, nil))
	require.NotNil(t, scan.Incident)
	body, err := json.Marshal(scan.Incident)
	require.NoError(t, err)

	created := f.do(t, http.MethodPost, "/v1/incidents", body, "application/json")
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	inc := decode[models.Incident](t, created)
	assert.Equal(t, models.IncidentVehicleCollision, inc.Type)
	assert.True(t, inc.Saved())

	patched := f.do(t, http.MethodPatch, "/v1/incidents/"+inc.ID+"/status", []byte(`{"status":"Resolved"}`), "application/json")
	require.Equal(t, http.StatusOK, patched.Code)
	assert.Equal(t, models.StatusResolved, decode[models.Incident](t, patched).Status)

	bad := f.do(t, http.MethodPatch, "/v1/incidents/"+inc.ID+"/status", []byte(`{"status":"Vaporized"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	missing := f.do(t, http.MethodPatch, "/v1/incidents/ALERT-nope/status", []byte(`{"status":"Resolved"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, missing.Code)

	filtered := decode[dto.IncidentListResponse](t, f.do(t, http.MethodGet, "/v1/incidents?status=Resolved", nil, ""))
	assert.Equal(t, 1, filtered.Total)

	dash := decode[map[string]any](t, f.do(t, http.MethodGet, "/v1/dashboard", nil, ""))
	assert.EqualValues(t, 1, dash["total"])

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/incidents/"+inc.ID, nil, "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/incidents/"+inc.ID, nil, "").Code)
	assert.Empty(t, f.session.Incidents())
}

func TestArchivedIncidentCannotBeOverwritten(t *testing.T) {
	f := newFixture(t, options{})

	body := []byte(`{"id":"ALERT-fixed","type":"Person Fall","description":"original","confidence":0.9}`)
	first := f.do(t, http.MethodPost, "/v1/incidents", body, "application/json")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	again := []byte(`{"id":"ALERT-fixed","type":"Traffic Congestion","description":"rewritten","confidence":0.01}`)
	conflict := f.do(t, http.MethodPost, "/v1/incidents", again, "application/json")
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, dto.CodeIncidentExists, decode[dto.ErrorResponse](t, conflict).Code)

	list := decode[dto.IncidentListResponse](t, f.do(t, http.MethodGet, "/v1/incidents", nil, ""))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, models.IncidentPersonFall, list.Incidents[0].Type)
	assert.Equal(t, "original", list.Incidents[0].Description)
}

func TestCreateIncidentOwnsServerFields(t *testing.T) {
	f := newFixture(t, options{})

	body := []byte(`{"type":"Weapon / Violence","emergency":false,"auto_confirmed":true,"saved_at":"2001-01-01T00:00:00Z"}`)
	w := f.do(t, http.MethodPost, "/v1/incidents", body, "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	inc := decode[models.Incident](t, w)
	assert.True(t, strings.HasPrefix(inc.ID, "MAN-"), inc.ID)
	assert.True(t, inc.Emergency)
	assert.False(t, inc.AutoConfirmed)
	assert.NotEqual(t, 2001, inc.SavedAt.Year())
}

func TestAsyncScanQueuesStoredMedia(t *testing.T) {
	objects := &memObjects{items: map[string][]byte{}, types: map[string]string{}}
	f := newFixture(t, options{objects: objects})

	body, ct := multipartBody(t, "gun.png", pngPixel, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/scans?async=true", bytes.NewReader(body))
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Scan-ID", "scan-42")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[dto.QueuedScanResponse](t, w)
	assert.Equal(t, "scan-42", resp.ScanID)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, "simulated", job.Mode)
	assert.True(t, strings.HasPrefix(job.MediaKey, "media/"))

	media := f.do(t, http.MethodGet, "/v1/media/"+job.MediaKey, nil, "")
	require.Equal(t, http.StatusOK, media.Code)
	assert.Equal(t, pngPixel, media.Body.Bytes())
}

func TestAsyncFallsBackInlineWithoutObjectStore(t *testing.T) {
	f := newFixture(t, options{})
	body, ct := multipartBody(t, "gun.png", pngPixel, nil)
	w := f.do(t, http.MethodPost, "/v1/scans?async=true", body, ct)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.queue.jobs)
}

func TestCancelUnknownScan(t *testing.T) {
	f := newFixture(t, options{})
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/scans/never-started", nil, "").Code)
}

func TestSOSFallsBackToMedicalHub(t *testing.T) {
	f := newFixture(t, options{})
	w := f.do(t, http.MethodPost, "/v1/map/sos", []byte(`{"lat":12.97,"lng":77.59}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[dto.SOSResponse](t, w)
	assert.Equal(t, "CENTRAL MEDICAL HUB", resp.Facility.Name)
	assert.True(t, resp.Route.Simulated)
	assert.True(t, strings.HasSuffix(resp.ETA, "Mins") || resp.ETA == "1 Min")

	missing := f.do(t, http.MethodGet, "/v1/map/route?from_lat=1&from_lng=2", nil, "")
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestFieldReportArchivedAfterAudit(t *testing.T) {
	f := newFixture(t, options{})
	w := f.upload(t, "/v1/map/reports", "evidence.png", pngPixel, map[string]string{
		"type": "Person Fall", "lat": "12.97", "lng": "77.59",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[dto.ReportResponse](t, w)
	assert.True(t, resp.Archived)
	require.NotNil(t, resp.Incident)
	require.NotNil(t, resp.Incident.LocationCoords)
	assert.InDelta(t, 12.97, resp.Incident.LocationCoords.Lat, 1e-9)
	assert.Len(t, f.session.Incidents(), 1)

	bad := f.upload(t, "/v1/map/reports", "evidence.png", pngPixel, map[string]string{"type": "Alien Landing"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	f := newFixture(t, options{apiKey: "s3cret"})

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/session", nil, "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("X-API-Key", "s3cret")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays open
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, "").Code)
}

func TestWebSocketReceivesIncidentEvents(t *testing.T) {
	f := newFixture(t, options{apiKey: "s3cret"})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?topics=incident&api_key=s3cret"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// registration happens just after the handshake completes
	time.Sleep(100 * time.Millisecond)
	_, err = f.session.Add(context.Background(), &models.Incident{ID: "MAN-ws", Type: models.IncidentPersonFall})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var evt dto.WSEvent
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "incident.created", evt.Type)
}
