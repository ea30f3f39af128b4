package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/amoylab/botgate/internal/common/config"
	"github.com/amoylab/botgate/internal/dispatch"
	"github.com/amoylab/botgate/internal/i18n"
	"github.com/amoylab/botgate/internal/scan"
	"github.com/amoylab/botgate/internal/session"
	"github.com/amoylab/botgate/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type (
	// SessionManager creates and retires per-user sessions
	SessionManager interface {
		Create(ctx context.Context, userID string) (session.Snapshot, bool, error)
		Close(ctx context.Context, userID string) error
		Session(userID string) (session.Snapshot, error)
		List() []session.Snapshot
	}

	// Sender fans a message out through a user's session
	Sender interface {
		Send(ctx context.Context, req dispatch.Request) ([]dispatch.Outcome, error)
	}

	// ArtifactLocator tells where a user's challenge image is served from
	ArtifactLocator interface {
		URL(userID string) string
		Dir() string
	}

	// Deps are the collaborators behind the HTTP surface
	Deps struct {
		Sessions   SessionManager
		Sender     Sender
		Artifacts  ArtifactLocator
		Scans      scan.Store
		Translator *i18n.Translator
		// Metrics is optional
		Metrics *metrics.Metrics
	}

	// Server is the gateway's HTTP boundary
	Server struct {
		logger *zap.Logger
		cfg    *config.GatewayConfig
		deps   Deps
		router *gin.Engine
		http   *http.Server
	}
)

// NewServer builds the router and registers every route
func NewServer(logger *zap.Logger, cfg *config.GatewayConfig, deps Deps) *Server {
	s := &Server{
		logger: logger.Named("server"),
		cfg:    cfg,
		deps:   deps,
		router: gin.New(),
	}

	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.loggerMiddleware())
	if cfg.Tracing.Enabled {
		s.router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	if deps.Metrics != nil {
		s.router.Use(deps.Metrics.Middleware())
	}
	s.router.Use(deps.Translator.Middleware())
	if cfg.CORS != nil {
		cors := s.corsMiddleware(cfg.CORS)
		s.router.Use(cors)
		s.router.OPTIONS("/*path", cors)
	}

	s.registerRoutes()

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: s.router,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health_check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Health check passed.",
		})
	})
	if s.deps.Metrics != nil && s.cfg.Metrics.Enabled {
		s.router.GET(s.cfg.Metrics.Path, gin.WrapH(s.deps.Metrics.Handler()))
	}

	s.router.POST("/generate-qr", s.handleGenerateQR)
	s.router.POST("/close-session", s.handleCloseSession)
	s.router.POST("/send-message", s.handleSendMessage)
	s.router.POST("/qr/manejarQrEscaneado", s.handleQRScanned)
	s.router.GET("/session-status/:userId", s.handleSessionStatus)
	s.router.GET("/sessions", s.handleListSessions)

	if s.deps.Artifacts != nil {
		s.router.Static(s.cfg.Artifact.URLPrefix, s.deps.Artifacts.Dir())
	}

	s.router.NoRoute(func(c *gin.Context) {
		s.deps.Translator.RespondWithError(c, i18n.ErrNotFound)
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("failed to start server", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
