// Package httpapi implements the HTTP Surface (spec §4.D, §6): room
// creation/join, chunked upload, byte-range video download, the
// websocket upgrade, and the bit-exact GET /health endpoint. Grounded on
// the teacher's cmd/v1/session/main.go router assembly (gin.Recovery,
// gin-contrib/cors, a promhttp-wrapped /metrics route), generalized from
// a single websocket group into the room lifecycle's full REST surface.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ukunda/rdm/internal/v1/authtoken"
	"github.com/ukunda/rdm/internal/v1/blobstore"
	"github.com/ukunda/rdm/internal/v1/health"
	"github.com/ukunda/rdm/internal/v1/middleware"
	"github.com/ukunda/rdm/internal/v1/registry"
	"github.com/ukunda/rdm/internal/v1/signaling"
)

// Dependencies wires every collaborator a handler needs. None of them are
// owned by this package; cmd/rdmserver constructs and shuts them down.
type Dependencies struct {
	Registry       *registry.Registry
	Blobs          *blobstore.Store
	Minter         *authtoken.Minter
	Hub            *signaling.Hub
	Health         *health.Handler
	AllowedOrigins []string
}

type server struct {
	deps Dependencies
}

// NewRouter assembles the gin engine serving spec §6's endpoint table plus
// the ambient /metrics and /health/* probes (SPEC_FULL.md §6).
func NewRouter(deps Dependencies) *gin.Engine {
	s := &server{deps: deps}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("rdm"))

	corsConfig := cors.DefaultConfig()
	if len(deps.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = deps.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-Correlation-Id")
	router.Use(cors.New(corsConfig))

	router.GET("/health", s.handleHealth)
	router.GET("/health/live", deps.Health.Liveness)
	router.GET("/health/ready", deps.Health.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rooms := router.Group("/rooms")
	{
		rooms.POST("", s.handleCreateRoom)
		rooms.POST("/:code/join", s.handleJoinRoom)
		rooms.POST("/:code/upload", s.handleUpload)
		rooms.GET("/:code/videos/:video_id", s.handleDownloadVideo)
		rooms.GET("/:code/ws", deps.Hub.ServeWS)
	}

	return router
}

// handleHealth is spec §6's bit-exact GET /health: {status, rooms}.
func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"rooms":  s.deps.Registry.Count(),
	})
}
