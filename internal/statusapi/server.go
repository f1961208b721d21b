// Package statusapi serves the host's read-only HTTP surface: health,
// session status, recent captions, and Prometheus metrics. It never
// mutates the session; control stays with the CLI.
package statusapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dvrsch/lensctl/internal/history"
	"github.com/dvrsch/lensctl/internal/observability"
	"github.com/dvrsch/lensctl/internal/session"
)

type Config struct {
	Addr        string
	CORSOrigins []string
	Version     string
}

// Source is the slice of the session the API reads.
type Source interface {
	Status() session.Status
}

type Server struct {
	cfg     Config
	source  Source
	store   *history.Store
	router  *gin.Engine
	started time.Time
}

// New builds the router. store may be nil; the captions endpoint only
// exists when history is enabled.
func New(source Source, store *history.Store, cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "0.0.1"
	}
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		source:  source,
		store:   store,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": s.cfg.Version,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Status())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.store != nil {
		s.router.GET("/captions", func(c *gin.Context) {
			n, err := strconv.Atoi(c.DefaultQuery("n", "20"))
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a positive integer"})
				return
			}
			captions, err := s.store.RecentCaptions(n)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"captions": captions})
		})
	}
}

// Router exposes the engine for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve blocks on the configured address.
func (s *Server) Serve() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("status api listening")
	return s.router.Run(s.cfg.Addr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
