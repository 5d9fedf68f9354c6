package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/amgpay/portal/internal/platform/fhir"
)

// AuthError is returned when the login call fails or yields no usable token.
type AuthError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *AuthError) Error() string {
	msg := "AMG login failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: %d", msg, e.StatusCode)
	}
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConfigurationError reports required settings that are missing.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "AMG API not configured: missing " + strings.Join(e.Missing, ", ")
}

// StatusError is a non-2xx answer from the upstream API. Body holds the
// response text, which is surfaced to callers as error details.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream returned %d %s", e.Op, e.StatusCode, e.Body)
}

// missingIdentifierText is what openIMIS puts in OperationOutcome.issue.details
// when Patient/{id} is called with an insurance number it cannot resolve.
const missingIdentifierText = "n is missing"

// InsureeFallbackEligible reports whether a failed Patient/{id} lookup should
// be retried through the GraphQL insurees query: HTTP 400 or 404, or HTTP 500
// whose body is an OperationOutcome mentioning "n is missing".
//
// This mirrors undocumented openIMIS error behaviour and will silently stop
// matching if the upstream wording changes.
func InsureeFallbackEligible(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound:
		return true
	case http.StatusInternalServerError:
		oo, ok := fhir.ParseOperationOutcome([]byte(se.Body))
		return ok && oo.DetailsContain(missingIdentifierText)
	}
	return false
}

// ErrorDetails returns the upstream body for status errors and the message
// otherwise, for the "details" field of error responses.
func ErrorDetails(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Body
	}
	return err.Error()
}
