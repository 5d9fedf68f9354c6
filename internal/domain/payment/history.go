package payment

import (
	"context"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/amgpay/portal/internal/platform/fhir"
)

const notAvailable = "N/A"

// HistoryClient is the part of *upstream.Client used for payment history.
type HistoryClient interface {
	Login(ctx context.Context) (string, error)
	SearchPaymentReconciliations(ctx context.Context, token, patientID string) (*fhir.Bundle, error)
	SearchPaymentNotices(ctx context.Context, token, patientID string) (*fhir.Bundle, error)
}

// Payment is one row of the history screen.
type Payment struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	Amount            float64         `json:"amount"`
	Currency          string          `json:"currency"`
	Date              string          `json:"date"`
	PaymentIdentifier string          `json:"paymentIdentifier"`
	Description       string          `json:"description"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// History is the payload of POST /api/amg/payments.
type History struct {
	Success                bool            `json:"success"`
	Payments               []Payment       `json:"payments"`
	PaymentReconciliations json.RawMessage `json:"paymentReconciliations"`
	PaymentNotices         json.RawMessage `json:"paymentNotices"`
}

type HistoryService struct {
	client   HistoryClient
	currency string
	logger   zerolog.Logger
}

func NewHistoryService(client HistoryClient, currency string, logger zerolog.Logger) *HistoryService {
	if currency == "" {
		currency = defaultCurrency
	}
	return &HistoryService{
		client:   client,
		currency: currency,
		logger:   logger.With().Str("component", "payment-history").Logger(),
	}
}

// Payments lists reconciliations and notices of a patient, newest first.
// Either search may fail without failing the whole call.
func (s *HistoryService) Payments(ctx context.Context, insuranceNumber string) (*History, error) {
	token, err := s.client.Login(ctx)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("insurance_number", insuranceNumber).Logger()

	h := &History{Success: true, Payments: []Payment{}}

	if b, err := s.client.SearchPaymentReconciliations(ctx, token, insuranceNumber); err != nil {
		log.Warn().Err(err).Msg("payment reconciliations unavailable")
	} else {
		h.PaymentReconciliations = b.Raw
		recs, err := b.PaymentReconciliations()
		if err != nil {
			log.Warn().Err(err).Msg("payment reconciliations could not be decoded")
		}
		for _, r := range recs {
			h.Payments = append(h.Payments, s.fromReconciliation(r))
		}
	}

	if b, err := s.client.SearchPaymentNotices(ctx, token, insuranceNumber); err != nil {
		log.Warn().Err(err).Msg("payment notices unavailable")
	} else {
		h.PaymentNotices = b.Raw
		notices, err := b.PaymentNotices()
		if err != nil {
			log.Warn().Err(err).Msg("payment notices could not be decoded")
		}
		for _, n := range notices {
			h.Payments = append(h.Payments, s.fromNotice(n))
		}
	}

	SortByDateDesc(h.Payments)
	log.Info().Int("payments", len(h.Payments)).Msg("payment history loaded")
	return h, nil
}

func (s *HistoryService) fromReconciliation(r *fhir.PaymentReconciliation) Payment {
	p := Payment{
		ID:                r.ID,
		Type:              "reconciliation",
		Status:            orDefault(r.Status, "unknown"),
		Currency:          s.currency,
		Date:              r.Created,
		PaymentIdentifier: notAvailable,
		Description:       orDefault(r.Disposition, "Payment reconciliation"),
		Raw:               r.Raw,
	}
	switch {
	case r.PaymentAmount != nil && r.PaymentAmount.Value != nil:
		p.Amount = *r.PaymentAmount.Value
		p.Currency = orDefault(r.PaymentAmount.Currency, s.currency)
	case len(r.Detail) > 0 && r.Detail[0].Amount != nil:
		if r.Detail[0].Amount.Value != nil {
			p.Amount = *r.Detail[0].Amount.Value
		}
		p.Currency = orDefault(r.Detail[0].Amount.Currency, s.currency)
	}
	if p.Date == "" && r.Period != nil {
		p.Date = r.Period.Start
	}
	p.Date = orDefault(p.Date, notAvailable)
	if r.PaymentIdentifier != nil && r.PaymentIdentifier.Value != "" {
		p.PaymentIdentifier = r.PaymentIdentifier.Value
	}
	return p
}

func (s *HistoryService) fromNotice(n *fhir.PaymentNotice) Payment {
	p := Payment{
		ID:                n.ID,
		Type:              "notice",
		Status:            orDefault(n.Status, "unknown"),
		Currency:          s.currency,
		Date:              orDefault(n.Created, orDefault(n.PaymentDate, notAvailable)),
		PaymentIdentifier: notAvailable,
		Description:       "Payment notice",
		Raw:               n.Raw,
	}
	if n.Amount != nil {
		if n.Amount.Value != nil {
			p.Amount = *n.Amount.Value
		}
		p.Currency = orDefault(n.Amount.Currency, s.currency)
	}
	if n.PaymentStatus != nil && len(n.PaymentStatus.Coding) > 0 && n.PaymentStatus.Coding[0].Display != "" {
		p.PaymentIdentifier = n.PaymentStatus.Coding[0].Display
	}
	return p
}

// SortByDateDesc orders payments newest first. Undated payments go last and
// keep their relative order.
func SortByDateDesc(payments []Payment) {
	sort.SliceStable(payments, func(i, j int) bool {
		ti, okI := fhir.ParseDate(payments[i].Date)
		tj, okJ := fhir.ParseDate(payments[j].Date)
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI:
			return true
		}
		return false
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
