// Package upstream talks to the AMG/openIMIS insurance API: the FHIR R4
// endpoints under /api/api_fhir_r4 and the GraphQL endpoint under /api/graphql.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/amgpay/portal/internal/platform/fhir"
)

const (
	fhirPath    = "/api/api_fhir_r4"
	graphqlPath = "/api/graphql"

	maxBodyBytes = 16 << 20
)

// Config holds the connection settings for the upstream API.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	RetryMax int
}

// Client is an AMG API client. It holds no token: callers log in once per
// unit of work and pass the token to each call.
type Client struct {
	cfg    Config
	http   *retryablehttp.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger = logger.With().Str("component", "amg-client").Logger()
	return &Client{
		cfg:    cfg,
		http:   newRetryClient(cfg, logger),
		logger: logger,
	}
}

// BaseURL returns the normalized upstream base url.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Login exchanges the configured credentials for a bearer token.
func (c *Client) Login(ctx context.Context) (string, error) {
	var missing []string
	if c.cfg.Username == "" {
		missing = append(missing, "AMG_API_USERNAME")
	}
	if c.cfg.Password == "" {
		missing = append(missing, "AMG_API_PASSWORD")
	}
	if len(missing) > 0 {
		return "", &ConfigurationError{Missing: missing}
	}

	payload, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", &AuthError{Err: err}
	}

	status, body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+fhirPath+"/login/", "", payload)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	if status < 200 || status > 299 {
		return "", &AuthError{StatusCode: status, Reason: string(body)}
	}

	var out struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &AuthError{Reason: "invalid login response", Err: err}
	}
	token := out.Token
	if token == "" {
		token = out.AccessToken
	}
	if token == "" {
		return "", &AuthError{Reason: "no auth token received"}
	}
	return token, nil
}

// SearchPatientByIdentifier returns the first Patient of the identifier
// search, or nil when the bundle is empty.
func (c *Client) SearchPatientByIdentifier(ctx context.Context, token, identifier string) (*fhir.Patient, error) {
	q := url.Values{"identifier": {identifier}}
	b, err := c.searchBundle(ctx, token, "search patient", "Patient?"+q.Encode())
	if err != nil {
		return nil, err
	}
	patients, err := b.Patients()
	if err != nil {
		return nil, fmt.Errorf("search patient: %w", err)
	}
	if len(patients) == 0 {
		return nil, nil
	}
	return patients[0], nil
}

// GetPatient reads Patient/{id}. A successful answer that is not a Patient
// yields nil without error.
func (c *Client) GetPatient(ctx context.Context, token, id string) (*fhir.Patient, error) {
	body, err := c.getFHIR(ctx, token, "read patient", "Patient/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	p := &fhir.Patient{}
	if err := fhir.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("read patient: decode: %w", err)
	}
	if p.ResourceType != "Patient" {
		return nil, nil
	}
	return p, nil
}

// GetGroup reads Group/{id}.
func (c *Client) GetGroup(ctx context.Context, token, id string) (*fhir.Group, error) {
	body, err := c.getFHIR(ctx, token, "read group", "Group/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	g := &fhir.Group{}
	if err := fhir.Unmarshal(body, g); err != nil {
		return nil, fmt.Errorf("read group: decode: %w", err)
	}
	return g, nil
}

// SearchCoverage lists Coverage resources whose beneficiary is the patient.
func (c *Client) SearchCoverage(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	q := url.Values{"beneficiary": {"Patient/" + patientID}}
	return c.searchBundle(ctx, token, "search coverage", "Coverage/?"+q.Encode())
}

// SearchInvoices lists Invoice resources whose subject is the patient.
func (c *Client) SearchInvoices(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	q := url.Values{"subject": {"Patient/" + patientID}}
	return c.searchBundle(ctx, token, "search invoices", "Invoice/?"+q.Encode())
}

// SearchPaymentNotices lists PaymentNotice resources requested for the patient.
func (c *Client) SearchPaymentNotices(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	q := url.Values{"request": {"Patient/" + patientID}}
	return c.searchBundle(ctx, token, "search payment notices", "PaymentNotice/?"+q.Encode())
}

// SearchPaymentReconciliations lists PaymentReconciliation resources for the patient.
func (c *Client) SearchPaymentReconciliations(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	q := url.Values{"request": {"Patient/" + patientID}}
	return c.searchBundle(ctx, token, "search payment reconciliations", "PaymentReconciliation/?"+q.Encode())
}

// ContractPageURL is the first page of the contract listing, newest first.
func (c *Client) ContractPageURL(count int) string {
	return fmt.Sprintf("%s%s/Contract/?_count=%d&_sort=-_lastUpdated", c.cfg.BaseURL, fhirPath, count)
}

// ContractPage fetches one page of contracts. pageURL is either
// ContractPageURL or a Bundle "next" link.
func (c *Client) ContractPage(ctx context.Context, token, pageURL string) (*fhir.Bundle, error) {
	status, body, err := c.do(ctx, http.MethodGet, pageURL, token, nil)
	if err != nil {
		return nil, fmt.Errorf("contract page: %w", err)
	}
	if status < 200 || status > 299 {
		return nil, &StatusError{Op: "contract page", StatusCode: status, Body: string(body)}
	}
	return fhir.ParseBundle(body)
}

// PoliciesByFamily returns the active or last expired policy of a family,
// or nil when the family has none.
func (c *Client) PoliciesByFamily(ctx context.Context, token, familyUUID string) (*FamilyPolicy, error) {
	var data policiesByFamilyData
	if err := c.graphql(ctx, token, "policies by family", policiesByFamilyQuery,
		map[string]interface{}{"familyUuid": familyUUID}, &data); err != nil {
		return nil, err
	}
	edges := data.PoliciesByFamily.Edges
	if len(edges) == 0 || len(edges[0].Node) == 0 || string(edges[0].Node) == "null" {
		return nil, nil
	}
	p := &FamilyPolicy{}
	if err := json.Unmarshal(edges[0].Node, p); err != nil {
		return nil, fmt.Errorf("policies by family: decode: %w", err)
	}
	p.Raw = append(json.RawMessage(nil), edges[0].Node...)
	return p, nil
}

// InsureeInquire looks an insuree up by insurance number (chfId), or returns
// nil when unknown.
func (c *Client) InsureeInquire(ctx context.Context, token, chfID string) (*Insuree, error) {
	var data insureesData
	if err := c.graphql(ctx, token, "insuree inquire", insureeInquireQuery,
		map[string]interface{}{"chfId": chfID}, &data); err != nil {
		return nil, err
	}
	if len(data.Insurees.Edges) == 0 {
		return nil, nil
	}
	return data.Insurees.Edges[0].Node, nil
}

func (c *Client) searchBundle(ctx context.Context, token, op, path string) (*fhir.Bundle, error) {
	body, err := c.getFHIR(ctx, token, op, path)
	if err != nil {
		return nil, err
	}
	b, err := fhir.ParseBundle(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func (c *Client) getFHIR(ctx context.Context, token, op, path string) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+fhirPath+"/"+path, token, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status < 200 || status > 299 {
		return nil, &StatusError{Op: op, StatusCode: status, Body: string(body)}
	}
	return body, nil
}

func (c *Client) graphql(ctx context.Context, token, op, query string, vars map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	status, body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+graphqlPath, token, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status < 200 || status > 299 {
		return &StatusError{Op: op, StatusCode: status, Body: string(body)}
	}

	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		if err := resp.err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target, token string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("url", target).Msg("upstream request failed")
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("upstream request")
	return resp.StatusCode, data, nil
}
