package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/sentinel/internal/api/handlers"
	"github.com/your-org/sentinel/internal/api/ws"
	"github.com/your-org/sentinel/internal/auth"
	"github.com/your-org/sentinel/internal/geo"
	"github.com/your-org/sentinel/internal/media"
	"github.com/your-org/sentinel/internal/session"
)

type RouterConfig struct {
	APIKey      string
	MaxUploadMB int
	Session     *session.Session
	Capture     *media.Adapter
	Geo         *geo.Client
	Hub         *ws.Hub
	// LiveAvailable reports whether an AI credential is configured.
	LiveAvailable bool
	// Queue is optional; without it ?async=true scans run inline.
	Queue  handlers.ScanQueue
	Checks map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))

	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))
	v1.Use(MaxBodyMiddleware(int64(cfg.MaxUploadMB) << 20))

	v1.GET("/ws", cfg.Hub.HandleWS)

	sessionH := handlers.NewSessionHandler(cfg.Session, cfg.LiveAvailable, cfg.Queue, cfg.Capture)
	v1.GET("/session", sessionH.Get)
	v1.PUT("/session/mode", sessionH.SetMode)
	v1.GET("/dashboard", sessionH.Dashboard)
	v1.POST("/scans", sessionH.Scan)
	v1.DELETE("/scans/:id", sessionH.CancelScan)

	incidentH := handlers.NewIncidentHandler(cfg.Session)
	v1.GET("/incidents", incidentH.List)
	v1.POST("/incidents", incidentH.Create)
	v1.PATCH("/incidents/:id/status", incidentH.UpdateStatus)
	v1.DELETE("/incidents/:id", incidentH.Delete)

	registryH := handlers.NewRegistryHandler(cfg.Session)
	v1.GET("/registry", registryH.List)
	v1.POST("/registry", registryH.Create)
	v1.DELETE("/registry/:id", registryH.Delete)
	v1.POST("/biometric/scan", registryH.BiometricScan)
	v1.POST("/biometric/confirm", registryH.Confirm)

	mapH := handlers.NewMapHandler(cfg.Geo, cfg.Session)
	v1.GET("/map/route", mapH.Route)
	v1.GET("/map/facilities", mapH.Facilities)
	v1.POST("/map/sos", mapH.SOS)
	v1.POST("/map/reports", mapH.Report)

	mediaH := handlers.NewMediaHandler(cfg.Capture)
	v1.GET("/media/*key", mediaH.Get)

	return r
}

func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AllowHeaders = append(c.AllowHeaders, "X-API-Key", "X-Scan-ID")
	c.ExposeHeaders = []string{"X-Scan-ID"}
	return c
}
