package contract

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/amgpay/portal/internal/platform/auth"
)

type Handler struct {
	syncer *Syncer
	status SyncStatusRepository
}

func NewHandler(syncer *Syncer, status SyncStatusRepository) *Handler {
	return &Handler{syncer: syncer, status: status}
}

// RegisterRoutes mounts the sync routes on a group that already verifies
// bearer tokens.
func (h *Handler) RegisterRoutes(admin *echo.Group) {
	g := admin.Group("/contracts", auth.RequireRole("admin"))
	g.POST("/sync", h.StartSync)
	g.GET("/sync/status", h.SyncStatus)
}

func (h *Handler) StartSync(c echo.Context) error {
	run, err := h.syncer.Start(c.Request().Context())
	if errors.Is(err, ErrSyncInProgress) {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"success": false,
			"error":   "Synchronization already in progress",
		})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":   "Synchronization failed",
			"details": err.Error(),
		})
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"success": true,
		"syncId":  run.ID.String(),
		"status":  run.Status,
	})
}

func (h *Handler) SyncStatus(c echo.Context) error {
	run, err := h.status.Latest(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":   "Failed to read synchronization status",
			"details": err.Error(),
		})
	}
	if run == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no synchronization has run yet")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":    run,
		"running": h.syncer.Running(),
	})
}
