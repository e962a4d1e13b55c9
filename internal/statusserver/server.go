// Package statusserver exposes health, per-symbol status and Prometheus
// metrics over HTTP.
package statusserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"autotrader/internal/engine"
)

// StatusSource is implemented by *engine.Engine.
type StatusSource interface {
	Status() engine.Status
}

type Server struct {
	echo    *echo.Echo
	addr    string
	log     zerolog.Logger
	sources map[string]StatusSource
	started time.Time
}

func New(addr string, sources []StatusSource, metrics http.Handler, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		addr:    addr,
		log:     log.With().Str("component", "status_server").Logger(),
		sources: make(map[string]StatusSource, len(sources)),
		started: time.Now(),
	}
	for _, src := range sources {
		s.sources[src.Status().Symbol] = src
	}

	e.GET("/healthz", s.health)
	e.GET("/status", s.statusAll)
	e.GET("/status/:symbol", s.statusOne)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Stop is called. ErrServerClosed is not reported.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("listening")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"symbols": len(s.sources),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) statusAll(c echo.Context) error {
	symbols := make([]string, 0, len(s.sources))
	for symbol := range s.sources {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	out := make([]engine.Status, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, s.sources[symbol].Status())
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) statusOne(c echo.Context) error {
	src, ok := s.sources[c.Param("symbol")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown symbol")
	}
	return c.JSON(http.StatusOK, src.Status())
}
