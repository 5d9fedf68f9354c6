package payment

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Notification is one server-to-server callback from HOLO.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	PurchaseRef string    `json:"purchaseRef"`
	Amount      string    `json:"amount,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Status      string    `json:"status,omitempty"`
	ClientID    string    `json:"clientId,omitempty"`
	RawQuery    string    `json:"rawQuery"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Succeeded reports whether HOLO accepted the payment.
func (n *Notification) Succeeded() bool { return n.Status == "OK" }

// NotificationFromQuery reads the HOLO callback parameters.
func NotificationFromQuery(q url.Values, now time.Time) *Notification {
	return &Notification{
		ID:          uuid.New(),
		PurchaseRef: q.Get("purchaseref"),
		Amount:      q.Get("amount"),
		Currency:    q.Get("currency"),
		Status:      q.Get("status"),
		ClientID:    q.Get("clientid"),
		RawQuery:    q.Encode(),
		ReceivedAt:  now.UTC(),
	}
}

// NotificationRepository stores notifications. A nil repository means the
// server runs without a database and notifications are only logged.
type NotificationRepository interface {
	Save(ctx context.Context, n *Notification) error
	ListByPurchaseRef(ctx context.Context, purchaseRef string, limit int) ([]*Notification, error)
}
