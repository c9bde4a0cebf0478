// Package sprinthttp implements the dashboard's HTTP surface: the
// orchestrator control API, batch/settings/manifest read endpoints, the
// websocket event stream, and the scraped story-descriptions feed, all
// fronted by a single gin-gonic/gin engine with gin-contrib/cors.
package sprinthttp

import (
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sprintrunner/internal/manifest"
	"sprintrunner/internal/orchestrator"
	"sprintrunner/internal/sprintbus"
	"sprintrunner/internal/sprintlog"
	"sprintrunner/internal/sprintmetrics"
	"sprintrunner/internal/sprintsettings"
	"sprintrunner/internal/sprintstore"
)

// RouterDeps wires every collaborator a handler closes over.
type RouterDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *sprintstore.Store
	Bus          *sprintbus.Bus
	Hub          *sprintbus.Hub
	Manifest     *manifest.Manifest
	Settings     *sprintsettings.Store
	Logger       *sprintlog.Logger
	Metrics      *sprintmetrics.Metrics
	Registry     *prometheus.Registry
	ProjectRoot  string
	ArtifactsDir string
	DashboardDir string
}

// RouterConfig controls environment-sensitive router behavior.
type RouterConfig struct {
	Environment string
}

// Server holds the dependencies every route handler closes over.
type Server struct {
	deps RouterDeps
	cfg  RouterConfig
}

func (s *Server) log() *sprintlog.Logger { return s.deps.Logger }

// NewRouter builds the gin engine implementing the full dashboard HTTP
// surface.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	s := &Server{deps: deps, cfg: cfg}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type"},
	}))
	router.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusOK) })

	if deps.DashboardDir != "" {
		router.StaticFile("/", filepath.Join(deps.DashboardDir, "index.html"))
		router.Static("/assets", filepath.Join(deps.DashboardDir, "assets"))
	}

	router.GET("/ws", s.handleWebsocket)
	router.GET("/story-descriptions.json", s.handleStoryDescriptions)

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.POST("/orchestrator/start", s.handleOrchestratorStart)
		api.POST("/orchestrator/stop", s.handleOrchestratorStop)
		api.GET("/orchestrator/status", s.handleOrchestratorStatus)
		api.GET("/sprint-status", s.handleSprintStatus)
		api.GET("/orchestrator-status", s.handleOrchestratorActivity)
		api.GET("/batches", s.handleListBatches)
		api.GET("/batches/:id", s.handleBatchDetail)
		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handlePutSettings)
	}

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if s.log() != nil {
			s.log().Debug("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
		}
	}
}
