// Package api exposes a read-only HTTP diagnostics surface over a
// running engine
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/code3hr/cyxchat-sub000/pkg/engine"
)

// Runner executes fn on the engine's thread and returns after fn has
// run. The engine is single threaded, so every handler read goes
// through the Runner instead of touching the engine from gin's
// goroutines. A host typically implements it with a channel drained
// next to its poll loop.
type Runner func(fn func())

// Server is the diagnostics HTTP server
type Server struct {
	engine     *engine.Engine
	run        Runner
	router     *gin.Engine
	port       int
	httpServer *http.Server
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute, 0 disables
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8087,
		EnableCORS:   true,
		RateLimit:    120,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates the diagnostics server around an engine and the
// Runner that serializes access to it
func NewServer(e *engine.Engine, run Runner, config *Config) (*Server, error) {
	if e == nil {
		return nil, fmt.Errorf("nil engine")
	}
	if run == nil {
		return nil, fmt.Errorf("nil runner")
	}
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		engine: e,
		run:    run,
		router: router,
		port:   config.Port,
	}

	server.setupMiddleware(config)
	server.setupRoutes()

	return server, nil
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	if config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(config.RateLimit))
	}
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		eng := v1.Group("/engine")
		{
			eng.GET("/status", s.handleStatus)
			eng.GET("/messages/:id", s.handleMessage)
		}

		v1.GET("/queue/stats", s.handleQueueStats)
		v1.GET("/transfers", s.handleTransfers)
		v1.GET("/groups", s.handleGroups)
	}

	// Health check endpoint (outside versioning)
	s.router.GET("/health", s.handleHealth)
}

// Start serves until the context is cancelled, then shuts down
// gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		fmt.Printf("🌐 Diagnostics API listening on port %d...\n", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("❌ API server error: %v\n", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
