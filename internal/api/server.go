package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/repairnet/internal/listing"
	"github.com/sudo-init-do/repairnet/internal/wallet"
)

// Server bundles the echo instance with the websocket feed it owns.
type Server struct {
	Echo *echo.Echo
	Feed *Feed
}

// NewServer wires every route onto a fresh echo instance.
func NewServer(board *listing.Board, tokens *wallet.Tokens, logger *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(RequestLogger(logger))

	h := NewHandler(board)
	feed := NewFeed(board, logger)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		ok, err := board.Controller().Available(ctx)
		if err != nil || !ok {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "store unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/listings", h.GetListings)
	e.GET("/listings/stats", h.GetStats)
	e.GET("/listings/ws", feed.Serve)
	e.GET("/listings/:id", h.GetListing)
	e.POST("/listings/refresh", h.Refresh)

	auth := JWTMiddleware(tokens)
	e.POST("/listings", h.CreateListing, auth)
	e.POST("/listings/:id/match", h.MatchListing, auth)
	e.POST("/listings/:id/complete", h.CompleteListing, auth)

	return &Server{Echo: e, Feed: feed}
}

// Shutdown stops accepting requests and disconnects feed clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Feed.Close()
	return s.Echo.Shutdown(ctx)
}
