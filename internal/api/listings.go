package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/repairnet/internal/listing"
)

// Handler serves the listing endpoints from a Board.
type Handler struct {
	board *listing.Board
}

func NewHandler(board *listing.Board) *Handler {
	return &Handler{board: board}
}

// GetListings returns the current snapshot, filtered and paginated.
func (h *Handler) GetListings(c echo.Context) error {
	limit := 20
	offset := 0
	if l := c.QueryParam("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if o := c.QueryParam("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}
	status := c.QueryParam("status")
	if status != "" && status != "all" && !listing.Status(status).Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "status must be all, available, matched or completed"})
	}

	snap := h.board.Snapshot()
	page := snap.Query(listing.Query{
		Search: c.QueryParam("q"),
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	return c.JSON(http.StatusOK, echo.Map{
		"listings":  page.Listings,
		"total":     page.Total,
		"limit":     page.Limit,
		"offset":    page.Offset,
		"version":   snap.Version(),
		"loaded_at": snap.LoadedAt(),
	})
}

// GetListing returns one listing from the current snapshot.
func (h *Handler) GetListing(c echo.Context) error {
	rec, ok := h.board.Snapshot().Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{"listing": rec})
}

// GetStats returns dashboard counters for the current snapshot.
func (h *Handler) GetStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.board.Snapshot().Stats())
}

// Refresh reloads listings from the store.
func (h *Handler) Refresh(c echo.Context) error {
	snap, err := h.board.Refresh(c.Request().Context())
	if err != nil {
		return respondError(c, "refresh", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"version": snap.Version(), "total": snap.Len()})
}

// CreateListing lets the authenticated wallet offer a repair service.
func (h *Handler) CreateListing(c echo.Context) error {
	addr := callerAddress(c)
	if addr == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req listing.CreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	req.Creator = addr

	rec, _, err := h.board.Create(c.Request().Context(), req)
	if err != nil {
		return respondError(c, "submission", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"listing": rec,
		"message": "listing created",
	})
}

// MatchListing requests help on an available listing. Providers cannot
// match their own listings.
func (h *Handler) MatchListing(c echo.Context) error {
	addr := callerAddress(c)
	if addr == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	current, err := h.board.Controller().Get(ctx, id)
	if err != nil {
		return respondError(c, "matching", err)
	}
	if current.ProvidedBy(addr) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "you cannot match your own listing"})
	}

	rec, _, err := h.board.Match(ctx, id)
	if err != nil {
		return respondError(c, "matching", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"listing": rec, "message": "listing matched"})
}

// CompleteListing marks a matched listing done. Only its provider may.
func (h *Handler) CompleteListing(c echo.Context) error {
	addr := callerAddress(c)
	if addr == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	current, err := h.board.Controller().Get(ctx, id)
	if err != nil {
		return respondError(c, "completion", err)
	}
	if !current.ProvidedBy(addr) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only the provider can complete this listing"})
	}

	rec, _, err := h.board.Complete(ctx, id)
	if err != nil {
		return respondError(c, "completion", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"listing": rec, "message": "listing completed"})
}
