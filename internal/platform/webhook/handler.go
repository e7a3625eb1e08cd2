package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pmsync/internal/domain/audit"
	"github.com/ehr/pmsync/internal/platform/auth"
	"github.com/ehr/pmsync/pkg/pagination"
)

// Handler exposes the webhook ingress and the event log admin routes.
type Handler struct {
	router *Router
	events audit.WebhookEventRepository
	secret string
}

// NewHandler returns a Handler. An empty secret disables signature checks.
func NewHandler(router *Router, events audit.WebhookEventRepository, secret string) *Handler {
	return &Handler{router: router, events: events, secret: secret}
}

// RegisterIngress binds the endpoint the upstream system posts to.
func (h *Handler) RegisterIngress(g *echo.Group) {
	g.POST("/webhooks/upstream", h.Receive)
}

// RegisterRoutes binds the event log admin routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer))
	read.GET("/webhook-events", h.ListEvents)
	read.GET("/webhook-events/:id", h.GetEvent)

	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/webhook-events/:id/replay", h.ReplayEvent)
}

// Receive handles POST /webhooks/upstream. Processing failures still answer
// 200 so the sender does not retry an event that is already logged.
func (h *Handler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	if h.secret != "" && !VerifySignature(body, h.secret, c.Request().Header.Get(SignatureHeader)) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook signature")
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook body: "+err.Error())
	}
	if ev.EventType == "" || ev.Subdomain == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "eventType and subdomain are required")
	}
	return c.JSON(http.StatusOK, h.router.Handle(c.Request().Context(), ev))
}

// ListEvents handles GET /webhook-events.
func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := audit.EventFilter{
		Status:    c.QueryParam("status"),
		EventType: c.QueryParam("event_type"),
	}
	if v := c.QueryParam("practice_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid practice_id")
		}
		f.PracticeID = &id
	}
	items, total, err := h.events.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// GetEvent handles GET /webhook-events/:id.
func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.events.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "webhook event not found")
	}
	return c.JSON(http.StatusOK, e)
}

// ReplayEvent handles POST /webhook-events/:id/replay.
func (h *Handler) ReplayEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := h.router.Replay(c.Request().Context(), id)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "webhook event not found")
	case errors.Is(err, ErrNotReplayable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
