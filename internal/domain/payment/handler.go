package payment

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/amgpay/portal/internal/platform/auth"
)

// HistoryLister is implemented by *HistoryService.
type HistoryLister interface {
	Payments(ctx context.Context, insuranceNumber string) (*History, error)
}

type Handler struct {
	holo          HoloConfig
	history       HistoryLister
	notifications NotificationRepository
	now           func() time.Time
	logger        zerolog.Logger
}

// NewHandler wires the payment routes. notifications may be nil.
func NewHandler(holo HoloConfig, history HistoryLister, notifications NotificationRepository, logger zerolog.Logger) *Handler {
	return &Handler{
		holo:          holo,
		history:       history,
		notifications: notifications,
		now:           time.Now,
		logger:        logger.With().Str("component", "payment").Logger(),
	}
}

// RegisterRoutes mounts the public routes on /api. mw guards the POST routes.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	api.POST("/holo/init-payment", h.InitPayment, mw...)
	api.GET("/holo/notification", h.Notification)
	api.POST("/amg/payments", h.Payments, mw...)
}

// RegisterAdminRoutes mounts the notification lookup on a group that
// already verifies bearer tokens. Nothing is mounted without a database.
func (h *Handler) RegisterAdminRoutes(admin *echo.Group) {
	if h.notifications == nil {
		return
	}
	admin.GET("/holo/notifications", h.ListNotifications, auth.RequireRole("admin"))
}

func (h *Handler) InitPayment(c echo.Context) error {
	var req InitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid request body"})
	}

	res, err := Init(h.holo, req)
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"success": false, "error": verr.Message})
	case err != nil:
		h.logger.Error().Err(err).Msg("payment init failed")
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
	}

	h.logger.Info().
		Bool("test_mode", res.TestMode).
		Interface("amount", req.Amount).
		Str("operator", req.Operator).
		Msg("payment initialized")
	return c.JSON(http.StatusOK, res)
}

// Notification is called by the HOLO gateway. It always answers in plain
// text because the gateway only checks for "OK".
func (h *Handler) Notification(c echo.Context) error {
	n := NotificationFromQuery(c.QueryParams(), h.now())

	evt := h.logger.Info()
	if !n.Succeeded() {
		evt = h.logger.Warn()
	}
	evt.Str("purchase_ref", n.PurchaseRef).
		Str("amount", n.Amount).
		Str("currency", n.Currency).
		Str("status", n.Status).
		Str("client_id", n.ClientID).
		Msg("holo notification received")

	if h.notifications != nil {
		if err := h.notifications.Save(c.Request().Context(), n); err != nil {
			h.logger.Error().Err(err).Str("purchase_ref", n.PurchaseRef).Msg("failed to store holo notification")
			return c.String(http.StatusInternalServerError, "ERROR")
		}
	}
	return c.String(http.StatusOK, "OK")
}

func (h *Handler) ListNotifications(c echo.Context) error {
	ref := strings.TrimSpace(c.QueryParam("purchaseref"))
	if ref == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "purchaseref is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	list, err := h.notifications.ListByPurchaseRef(c.Request().Context(), ref, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list notifications", "details": err.Error()})
	}
	if list == nil {
		list = []*Notification{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": list, "total": len(list)})
}

func (h *Handler) Payments(c echo.Context) error {
	var req struct {
		InsuranceNumber interface{} `json:"insuranceNumber"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Insurance number is required"})
	}
	n, ok := req.InsuranceNumber.(string)
	n = strings.TrimSpace(n)
	if !ok || n == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Insurance number is required"})
	}

	hist, err := h.history.Payments(c.Request().Context(), n)
	if err != nil {
		h.logger.Error().Err(err).Str("insurance_number", n).Msg("payment history failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, hist)
}
