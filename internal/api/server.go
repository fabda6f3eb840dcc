package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/autodb/autodb/internal/logging"
	"github.com/autodb/autodb/internal/manager"
	"github.com/autodb/autodb/internal/reentrant"
	"github.com/autodb/autodb/pkg/config"
)

// Server is the inspection/administration REST API that sits next to an
// embedding application's own domain API: it exposes the identity
// manager's registered tables and a way to force a save-all-changes
// flush, without knowing anything about what those tables mean (spec.md
// §9 "Treat [the manager] as an injectable service").
type Server struct {
	router     *gin.Engine
	mgr        *manager.Manager
	config     *config.Config
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer creates a new inspection REST API server bound to mgr.
func NewServer(mgr *manager.Manager, cfg *config.Config) *Server {
	log := logging.GetLogger("api")
	log.Info("initializing REST API server")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RestAPI.CORS {
		log.Debug("enabling CORS")
		corsConfig := cors.Config{
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}

		switch {
		case len(cfg.RestAPI.AllowOrigins) > 0:
			corsConfig.AllowOrigins = cfg.RestAPI.AllowOrigins
		case cfg.RestAPI.APIKey != "":
			corsConfig.AllowOrigins = []string{
				"http://localhost:*",
				"http://127.0.0.1:*",
				"https://localhost:*",
				"https://127.0.0.1:*",
			}
			corsConfig.AllowWildcard = true
		default:
			corsConfig.AllowAllOrigins = true
		}

		router.Use(cors.New(corsConfig))
	}

	if cfg.RestAPI.APIKey != "" {
		log.Info("API key authentication enabled")
		router.Use(APIKeyAuthMiddleware(cfg.RestAPI.APIKey))
	}

	router.Use(MaxBodySizeMiddleware(DefaultBodyLimit))

	server := &Server{
		router: router,
		mgr:    mgr,
		config: cfg,
		log:    log,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures the inspection endpoints.
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/health", s.healthHandler)
		api.GET("/tables", s.listTables)
		api.GET("/tables/:name/rows", s.listRows)
		api.POST("/save-all", s.saveAll)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	SuccessResponse(c, "ok", gin.H{"status": "healthy"})
}

func (s *Server) listTables(c *gin.Context) {
	tables := s.mgr.RegisteredTables()
	out := make([]gin.H, 0, len(tables))
	for _, t := range tables {
		out = append(out, gin.H{
			"name":           t.Name,
			"settings_key":   t.SettingsKey,
			"columns":        len(t.Columns),
			"indexes":        len(t.Indexes),
			"unique_indexes": len(t.UniqueIndexes),
		})
	}
	SuccessResponse(c, "registered tables", out)
}

// listRows is a raw, read-only peek at a registered table's rows, for
// operational debugging: it bypasses the identity cache entirely and
// never resolves relation fields.
func (s *Server) listRows(c *gin.Context) {
	name := c.Param("name")
	actor, _, ok := s.mgr.ActorForTable(name)
	if !ok {
		NotFoundErrorWithID(c, name)
		return
	}

	limit := clampLimit(atoiDefault(c.Query("limit"), DefaultLimit))
	offset := atoiDefault(c.Query("offset"), 0)

	rows, err := actor.Query(c.Request.Context(), reentrant.Token{},
		fmt.Sprintf("SELECT * FROM `%s` ORDER BY id LIMIT ? OFFSET ?", name), limit, offset)
	if err != nil {
		InternalError(c, fmt.Sprintf("query rows: %v", err))
		return
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		r := make(map[string]any, len(row))
		for k, v := range row {
			r[k] = v.Interface()
		}
		out = append(out, r)
	}
	SuccessResponse(c, "rows", out)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) saveAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := manager.SaveAllChanges(ctx, s.mgr); err != nil {
		InternalError(c, fmt.Sprintf("save all changes: %v", err))
		return
	}
	SuccessResponse(c, "flushed", nil)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.log.Info("starting REST API server", "address", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithContext starts the HTTP server with graceful shutdown support.
// It blocks until the context is cancelled or the server encounters an
// error.
func (s *Server) StartWithContext(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errChan := make(chan error, 1)

	go func() {
		s.log.Info("starting REST API server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping REST API server")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Error("server shutdown error", "error", err)
			return err
		}
		s.log.Info("REST API server stopped")
	}
	return nil
}

// Router returns the underlying Gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
