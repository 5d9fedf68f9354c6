// Package payment starts HOLO mobile-money payments, records the gateway's
// notifications and lists the payment history kept by AMG.
package payment

import (
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	ModeTest       = "test"
	ModeProduction = "production"

	defaultOperator = "holo"
	defaultCurrency = "KMF"
)

// HoloConfig is read once at startup.
type HoloConfig struct {
	Mode            string
	PaymentURL      string
	MerchantID      string
	Currency        string
	FrontendBaseURL string
}

// Production reports whether the gateway is used for real.
func (c HoloConfig) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Mode), ModeProduction)
}

// ValidationError is a rejected payment request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrNotConfigured is returned in production mode without gateway settings.
var ErrNotConfigured = errors.New("HOLO payment not configured (HOLO_PAYMENT_URL, HOLO_MERCHANT_ID)")

// InitRequest is the body of POST /api/holo/init-payment. Amount accepts a
// JSON number or a numeric string.
type InitRequest struct {
	Amount          interface{} `json:"amount"`
	InsuranceNumber interface{} `json:"insuranceNumber"`
	Operator        string      `json:"operator,omitempty"`
}

// PaymentParams are posted by the client to the HOLO gateway form.
type PaymentParams struct {
	MerchantID  string  `json:"merchantId"`
	Amount      float64 `json:"amount"`
	Reference   string  `json:"reference"`
	Currency    string  `json:"currency"`
	CallbackURL string  `json:"callbackUrl"`
	Operator    string  `json:"operator"`
}

// InitResult is either a test redirect or the production form parameters.
type InitResult struct {
	Success       bool           `json:"success"`
	TestMode      bool           `json:"testMode,omitempty"`
	RedirectURL   string         `json:"redirectUrl,omitempty"`
	PaymentURL    string         `json:"paymentUrl,omitempty"`
	PaymentParams *PaymentParams `json:"paymentParams,omitempty"`
}

// Init validates the request and prepares the payment. Outside production
// the payment is simulated and the client is sent straight to the success
// page.
func Init(cfg HoloConfig, req InitRequest) (*InitResult, error) {
	ref, ok := req.InsuranceNumber.(string)
	ref = strings.TrimSpace(ref)
	if !ok || ref == "" {
		return nil, &ValidationError{Message: "insuranceNumber is required"}
	}
	amount, ok := parseAmount(req.Amount)
	if !ok || amount <= 0 {
		return nil, &ValidationError{Message: "amount must be > 0"}
	}
	op := strings.ToLower(strings.TrimSpace(req.Operator))
	if op == "" {
		op = defaultOperator
	}
	base := strings.TrimRight(cfg.FrontendBaseURL, "/")

	if !cfg.Production() {
		q := url.Values{}
		q.Set("status", "success")
		q.Set("operator", op)
		q.Set("ref", ref)
		return &InitResult{
			Success:     true,
			TestMode:    true,
			RedirectURL: base + "/payment-result?" + q.Encode(),
		}, nil
	}

	if cfg.PaymentURL == "" || cfg.MerchantID == "" {
		return nil, ErrNotConfigured
	}
	currency := cfg.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return &InitResult{
		Success:    true,
		PaymentURL: cfg.PaymentURL,
		PaymentParams: &PaymentParams{
			MerchantID:  cfg.MerchantID,
			Amount:      amount,
			Reference:   ref,
			Currency:    currency,
			CallbackURL: base + "/payment-result?operator=" + url.QueryEscape(op),
			Operator:    op,
		},
	}, nil
}

// parseAmount accepts a JSON number or a numeric string. NaN and infinities
// are rejected.
func parseAmount(v interface{}) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch a := v.(type) {
	case float64:
		f = a
	case json.Number:
		f, err = a.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(a), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
