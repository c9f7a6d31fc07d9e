package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/repairnet/internal/kvstore"
	"github.com/sudo-init-do/repairnet/internal/listing"
)

// respondError maps controller errors onto status codes. Anything not
// recognised is reported as "<action> failed: <err>".
func respondError(c echo.Context, action string, err error) error {
	switch {
	case errors.Is(err, listing.ErrInvalidServiceType), errors.Is(err, listing.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, listing.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	case errors.Is(err, kvstore.ErrUserRejected):
		return c.JSON(http.StatusConflict, echo.Map{"error": "transaction rejected by user"})
	case errors.Is(err, listing.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, listing.ErrStoreUnavailable), errors.Is(err, kvstore.ErrBusy):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "store unavailable"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": action + " failed: timed out"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": action + " failed: " + err.Error()})
	}
}
