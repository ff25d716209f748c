// Package api implements the HTTP surface of the question answering service.
// It wires gin routes for asking questions, managing the knowledge base, and
// remote management, and supports configuration hot swapping.
package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/satquery/satquery/internal/access"
	"github.com/satquery/satquery/internal/agent"
	"github.com/satquery/satquery/internal/config"
	"github.com/satquery/satquery/internal/kb"
	"github.com/satquery/satquery/internal/logging"
	"github.com/satquery/satquery/internal/usage"
)

// Server holds the HTTP server state and its dependencies.
type Server struct {
	mu       sync.RWMutex
	cfg      *config.Config
	checker  *access.Checker
	upstream *agent.Client

	store    *kb.Store
	usageMgr *usage.Manager
	stats    *usage.MemoryStats

	engine     *gin.Engine
	httpServer *http.Server
}

// Options carries the constructed dependencies for the server.
type Options struct {
	Store      *kb.Store
	UsageMgr   *usage.Manager
	UsageStats *usage.MemoryStats
}

// NewServer creates the gin engine, registers routes, and prepares the
// underlying http.Server. It does not start listening.
func NewServer(cfg *config.Config, upstream *agent.Client, opts Options) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		checker:  access.NewChecker(cfg.APIKeys, cfg.RemoteManagement.SecretKey),
		upstream: upstream,
		store:    opts.Store,
		usageMgr: opts.UsageMgr,
		stats:    opts.UsageStats,
	}

	engine := gin.New()
	engine.Use(s.requestIDMiddleware())
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(s.requestLogMiddleware())

	s.registerRoutes(engine)
	s.engine = engine
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/health", s.handleHealth)

	v1 := engine.Group("/v1")
	v1.Use(s.apiKeyAuthMiddleware())
	{
		v1.POST("/ask", s.handleAsk)
		v1.GET("/models", s.handleModels)

		knowledge := v1.Group("/knowledge")
		{
			knowledge.POST("/documents", s.handleAddDocument)
			knowledge.GET("/documents", s.handleListDocuments)
			knowledge.GET("/search", s.handleSearchKnowledge)
		}
	}

	management := engine.Group("/v0/management")
	management.Use(s.managementAuthMiddleware())
	{
		management.GET("/config", s.handleManagementConfig)
		management.GET("/usage", s.handleManagementUsage)
	}
}

// Run starts serving HTTP requests and blocks until the listener stops.
func (s *Server) Run() error {
	s.mu.RLock()
	addr := s.httpServer.Addr
	s.mu.RUnlock()
	log.Infof("API server listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the gin engine, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// UpdateConfig swaps in a freshly reloaded configuration. The listener address
// is fixed at startup; a port change requires a restart and is logged.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg != nil && s.cfg.Port != cfg.Port {
		log.Warnf("config port changed from %d to %d; restart required to take effect", s.cfg.Port, cfg.Port)
	}

	upstream, err := agent.NewClient(cfg)
	if err != nil {
		log.Errorf("config reload: rebuilding upstream client failed, keeping previous: %v", err)
	} else {
		s.upstream = upstream
	}
	s.checker = access.NewChecker(cfg.APIKeys, cfg.RemoteManagement.SecretKey)
	s.cfg = cfg
	log.Debugf("server config updated")
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) currentChecker() *access.Checker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checker
}

func (s *Server) currentUpstream() *agent.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstream
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleModels reports the configured answering model in an
// OpenAI-compatible list shape.
func (s *Server) handleModels(c *gin.Context) {
	cfg := s.currentConfig()
	model := cfg.Upstream.Model
	if model == "" {
		model = "unknown"
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{
				"id":       model,
				"object":   "model",
				"owned_by": "upstream",
			},
		},
	})
}
