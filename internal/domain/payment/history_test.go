package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amgpay/portal/internal/platform/fhir"
)

type fakeHistoryClient struct {
	loginErr  error
	recs      string
	recsErr   error
	notices   string
	noticeErr error
}

func (f *fakeHistoryClient) Login(ctx context.Context) (string, error) {
	return "tok", f.loginErr
}

func (f *fakeHistoryClient) SearchPaymentReconciliations(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	if f.recsErr != nil {
		return nil, f.recsErr
	}
	return fhir.ParseBundle([]byte(f.recs))
}

func (f *fakeHistoryClient) SearchPaymentNotices(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	if f.noticeErr != nil {
		return nil, f.noticeErr
	}
	return fhir.ParseBundle([]byte(f.notices))
}

const reconciliationsJSON = `{"resourceType":"Bundle","entry":[
	{"resource":{"resourceType":"PaymentReconciliation","id":"r1","status":"active","created":"2024-03-01",
		"paymentAmount":{"value":5000,"currency":"KMF"},"paymentIdentifier":{"value":"RCPT-1"},"disposition":"Contribution 2024"}},
	{"resource":{"resourceType":"PaymentReconciliation","id":"r2","period":{"start":"2024-05-10"},
		"detail":[{"amount":{"value":700,"currency":"EUR"}}]}}]}`

const noticesJSON = `{"resourceType":"Bundle","entry":[
	{"resource":{"resourceType":"PaymentNotice","id":"n1","status":"active","created":"2024-04-15T10:00:00Z",
		"amount":{"value":1200},"paymentStatus":{"coding":[{"code":"paid","display":"Paid"}]}}},
	{"resource":{"resourceType":"PaymentNotice","id":"n2"}}]}`

func TestHistory_FlattensAndSorts(t *testing.T) {
	svc := NewHistoryService(&fakeHistoryClient{recs: reconciliationsJSON, notices: noticesJSON}, "", zerolog.Nop())

	h, err := svc.Payments(context.Background(), "X1")
	require.NoError(t, err)

	require.Len(t, h.Payments, 4)
	ids := []string{h.Payments[0].ID, h.Payments[1].ID, h.Payments[2].ID, h.Payments[3].ID}
	assert.Equal(t, []string{"r2", "n1", "r1", "n2"}, ids)

	r1 := h.Payments[2]
	assert.Equal(t, "reconciliation", r1.Type)
	assert.Equal(t, 5000.0, r1.Amount)
	assert.Equal(t, "RCPT-1", r1.PaymentIdentifier)
	assert.Equal(t, "Contribution 2024", r1.Description)

	r2 := h.Payments[0]
	assert.Equal(t, 700.0, r2.Amount)
	assert.Equal(t, "EUR", r2.Currency)
	assert.Equal(t, "2024-05-10", r2.Date)
	assert.Equal(t, "unknown", r2.Status)
	assert.Equal(t, "N/A", r2.PaymentIdentifier)

	n1 := h.Payments[1]
	assert.Equal(t, "notice", n1.Type)
	assert.Equal(t, "Paid", n1.PaymentIdentifier)
	assert.Equal(t, "KMF", n1.Currency)

	n2 := h.Payments[3]
	assert.Equal(t, "N/A", n2.Date)
	assert.Equal(t, 0.0, n2.Amount)

	assert.NotEmpty(t, h.PaymentReconciliations)
	assert.NotEmpty(t, h.PaymentNotices)
}

func TestHistory_SearchFailuresAreTolerated(t *testing.T) {
	svc := NewHistoryService(&fakeHistoryClient{recsErr: errors.New("down"), notices: noticesJSON}, "KMF", zerolog.Nop())

	h, err := svc.Payments(context.Background(), "X1")
	require.NoError(t, err)
	assert.Len(t, h.Payments, 2)
	assert.Nil(t, h.PaymentReconciliations)
}

func TestHistory_LoginFailure(t *testing.T) {
	svc := NewHistoryService(&fakeHistoryClient{loginErr: errors.New("denied")}, "KMF", zerolog.Nop())
	_, err := svc.Payments(context.Background(), "X1")
	assert.EqualError(t, err, "denied")
}

func TestSortByDateDesc_Stable(t *testing.T) {
	p := []Payment{{ID: "a", Date: "N/A"}, {ID: "b", Date: "2023-01-01"}, {ID: "c", Date: "N/A"}, {ID: "d", Date: "2024-01-01"}}
	SortByDateDesc(p)
	assert.Equal(t, "d", p[0].ID)
	assert.Equal(t, "b", p[1].ID)
	assert.Equal(t, "a", p[2].ID)
	assert.Equal(t, "c", p[3].ID)
}
