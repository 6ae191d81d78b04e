// Package api exposes the boardroom over HTTP. Message submission only
// appends to the room log and returns immediately; deliberation happens
// asynchronously in the intake consumers, so the API never blocks on a
// running turn.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/boardroom/internal/checkpoint"
	"github.com/boardroom/internal/msglog"
	"github.com/boardroom/internal/rooms"
)

// Server represents the API server
type Server struct {
	echo        *echo.Echo
	port        int
	log         msglog.Log
	registry    rooms.Store
	checkpoints *checkpoint.Manager
	jwtSecret   string
	logger      zerolog.Logger
}

// NewServer creates a new API server
func NewServer(port int, log msglog.Log, registry rooms.Store, checkpoints *checkpoint.Manager, jwtSecret string, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger(logger))

	server := &Server{
		echo:        e,
		port:        port,
		log:         log,
		registry:    registry,
		checkpoints: checkpoints,
		jwtSecret:   jwtSecret,
		logger:      logger.With().Str("component", "api").Logger(),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")
	v1.Use(ActorExtraction(s.jwtSecret))

	// Rooms endpoints
	v1.GET("/rooms", s.listRooms)
	v1.GET("/rooms/:room", s.getRoomState)
	v1.POST("/rooms/:room/messages", s.submitMessage)
}

// Start begins serving. It blocks until Shutdown is called.
func (s *Server) Start() error {
	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("request")
			return nil
		},
	})
}
