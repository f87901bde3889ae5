// Package api provides the read-only HTTP query surface: health, session
// timelines, candidates, and the tool registry.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/southpawriter02/twinraven/pkg/database"
	"github.com/southpawriter02/twinraven/pkg/registry"
	"github.com/southpawriter02/twinraven/pkg/storage"
	"github.com/southpawriter02/twinraven/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	dbClient   *database.Client // nil when running on the in-memory store
	events     storage.EventStore
	candidates storage.CandidateStore
	registry   *registry.Registry
}

// NewServer creates the API server and mounts all routes.
func NewServer(dbClient *database.Client, events storage.EventStore,
	candidates storage.CandidateStore, reg *registry.Registry) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:     router,
		dbClient:   dbClient,
		events:     events,
		candidates: candidates,
		registry:   reg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.GET("/sessions/:id/timeline", s.handleSessionTimeline)
	v1.GET("/candidates", s.handleListCandidates)
	v1.GET("/tools", s.handleListTools)
	v1.GET("/tools/:slug", s.handleGetTool)
	v1.GET("/tools/:slug/versions", s.handleToolVersions)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":  "healthy",
		"version": version.Full(),
	}

	if s.dbClient != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(ctx, s.dbClient.DB())
		resp["database"] = dbHealth
		if err != nil {
			resp["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}
