package verification

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/amgpay/portal/internal/upstream"
)

// Verifier is implemented by *Service.
type Verifier interface {
	Verify(ctx context.Context, insuranceNumber string) (*VerifyResponse, error)
	PolicyStatus(ctx context.Context, insuranceNumber string) (*PolicyStatusResponse, error)
}

type Handler struct {
	svc    Verifier
	logger zerolog.Logger
}

func NewHandler(svc Verifier, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the public verification routes on /api. mw is
// applied to each route, typically the rate limiter.
func (h *Handler) RegisterRoutes(api *echo.Group, mw ...echo.MiddlewareFunc) {
	api.POST("/auth/verify-insurance", h.VerifyInsurance, mw...)
	api.POST("/amg/policy-status", h.PolicyStatus, mw...)
}

type insuranceRequest struct {
	InsuranceNumber interface{} `json:"insuranceNumber"`
}

// bindInsuranceNumber accepts only a non-empty string.
func bindInsuranceNumber(c echo.Context) (string, bool) {
	var req insuranceRequest
	if err := c.Bind(&req); err != nil {
		return "", false
	}
	n, ok := req.InsuranceNumber.(string)
	return n, ok && n != ""
}

func (h *Handler) VerifyInsurance(c echo.Context) error {
	n, ok := bindInsuranceNumber(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Insurance number is required"})
	}

	resp, err := h.svc.Verify(c.Request().Context(), n)
	if err != nil {
		return h.failure(c, err, "Failed to verify insurance number")
	}
	if !resp.Exists {
		return c.JSON(http.StatusOK, NotFound{Details: resp.Details})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) PolicyStatus(c echo.Context) error {
	n, ok := bindInsuranceNumber(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Insurance number is required"})
	}

	resp, err := h.svc.PolicyStatus(c.Request().Context(), n)
	if err != nil {
		return h.failure(c, err, "Failed to get patient")
	}
	if !resp.Exists {
		return c.JSON(http.StatusOK, NotFound{})
	}
	return c.JSON(http.StatusOK, resp)
}

// failure maps service errors to 500 bodies. lookupMsg is used when the
// patient lookup itself failed.
func (h *Handler) failure(c echo.Context, err error, lookupMsg string) error {
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("verification failed")

	var lookup *LookupError
	var authErr *upstream.AuthError
	var cfgErr *upstream.ConfigurationError
	body := map[string]string{"error": "Internal server error", "details": err.Error()}
	switch {
	case errors.As(err, &lookup):
		body["error"] = lookupMsg
		body["details"] = upstream.ErrorDetails(lookup.Err)
	case errors.As(err, &cfgErr):
		body["error"] = "API credentials not configured"
	case errors.As(err, &authErr):
		body["error"] = "Authentication failed"
	}
	return c.JSON(http.StatusInternalServerError, body)
}
