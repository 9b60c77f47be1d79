// Package api exposes the session orchestrator and the send service over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-gateway/internal/auth"
	"wa-gateway/internal/service/session"
)

// Sessions is the orchestrator surface used by the handlers.
type Sessions interface {
	CreateSession(ctx context.Context, userID string) (session.Result, error)
	GetSessionStatus(ctx context.Context, userID string) (session.Info, error)
	GetQRCode(ctx context.Context, userID string) (string, error)
	ClearSessionOnError(ctx context.Context, userID string) error
	RemoveSession(ctx context.Context, userID string) error
	GetActiveSessions() []string
}

// Sender sends outbound content.
type Sender interface {
	SendText(ctx context.Context, userID, to, text string) (string, error)
	SendImage(ctx context.Context, userID, to, key, caption string) (string, error)
	SendAudio(ctx context.Context, userID, to, key string) (string, error)
}

// Server is the HTTP front of the gateway.
type Server struct {
	echo     *echo.Echo
	sessions Sessions
	sender   Sender
	log      waLog.Logger
}

// New builds the router. A non-empty token protects every route except the
// health check.
func New(sessions Sessions, sender Sender, token string, log waLog.Logger) *Server {
	s := &Server{
		echo:     echo.New(),
		sessions: sessions,
		sender:   sender,
		log:      log.Sub("API"),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debugf("%s %s %d %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(auth.BearerToken(token, "/health"))

	e.GET("/health", s.health)

	e.GET("/sessions", s.listSessions)
	e.POST("/sessions/:userId/create", s.createSession)
	e.GET("/sessions/:userId/status", s.sessionStatus)
	e.GET("/sessions/:userId/qr", s.sessionQR)
	e.GET("/sessions/:userId/qr.png", s.sessionQRImage)
	e.DELETE("/sessions/:userId", s.removeSession)

	e.POST("/send-text", s.sendText)
	e.POST("/send-image", s.sendImage)
	e.POST("/send-audio", s.sendAudio)

	return s
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Infof("Listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"service":   "whatsapp-gateway",
	})
}
