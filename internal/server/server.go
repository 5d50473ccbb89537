package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const maxRequestBytes = 1 << 20

// ActivityHandler is the transport-neutral skill handler.
type ActivityHandler interface {
	ProcessActivity(ctx context.Context, body []byte) (int, []byte)
	Manifest(name string) (int, []byte, string)
}

type Server struct {
	echo *echo.Echo
	addr string
}

// New registers the skill routes. When filesRoot is set the local storage
// directory is served under /files.
func New(port int, h ActivityHandler, filesRoot string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))

	e.POST("/api/messages", func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestBytes+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "read body")
		}
		status, out := h.ProcessActivity(c.Request().Context(), body)
		if len(out) == 0 {
			return c.NoContent(status)
		}
		return c.JSONBlob(status, out)
	})
	e.GET("/manifest/*", func(c echo.Context) error {
		status, out, contentType := h.Manifest(c.Param("*"))
		return c.Blob(status, contentType, out)
	})
	if filesRoot != "" {
		e.Static("/files", filesRoot)
	}

	return &Server{echo: e, addr: fmt.Sprintf(":%d", port)}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.addr
}
