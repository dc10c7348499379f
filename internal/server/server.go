package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/handler"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/middleware"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/service"
)

// Deps are the services behind the local guardian API.
type Deps struct {
	Guardian service.GuardianService
	Ingest   handler.Ingestor
	Status   handler.StatusSource
	Metrics  http.Handler
}

type Server struct {
	router *gin.Engine
	log    *logrus.Logger
}

func NewServer(deps Deps, log *logrus.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	s := &Server{
		router: router,
		log:    log,
	}
	s.setupRoutes(deps)
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(deps Deps) {
	guardianHandler := handler.NewGuardianHandler(deps.Guardian, s.log)
	evidenceHandler := handler.NewEvidenceHandler(deps.Guardian, s.log)
	interactionHandler := handler.NewInteractionHandler(deps.Ingest, deps.Status, s.log)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	s.router.GET("/metrics", gin.WrapH(deps.Metrics))

	api := s.router.Group("/api")
	api.POST("/interactions", interactionHandler.Ingest)
	api.GET("/status", interactionHandler.Status)

	guardianGroup := api.Group("/guardian")
	guardianGroup.POST("/setup", guardianHandler.Setup)
	guardianGroup.POST("/unlock", guardianHandler.Unlock)
	guardianGroup.POST("/reset", guardianHandler.Reset)

	// Authenticated routes
	authRequired := api.Group("")
	authRequired.Use(middleware.AuthMiddleware(deps.Guardian, s.log))
	{
		authRequired.POST("/guardian/logout", guardianHandler.Logout)
		authRequired.GET("/evidence", evidenceHandler.ListEvidence)
		authRequired.GET("/evidence/:id", evidenceHandler.GetEvidence)
		authRequired.GET("/alerts", evidenceHandler.ListAlerts)
	}
}

// Run serves on addr until ctx is done, then drains for up to five seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Server starting on %s...", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("Server shutting down...")
		return srv.Shutdown(shutdownCtx)
	}
}
