package payment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amgpay/portal/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const notificationCols = `id, purchase_ref, amount, currency, status, client_id, raw_query, received_at`

func (r *notificationRepoPG) Save(ctx context.Context, n *Notification) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO holo_notifications (`+notificationCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.PurchaseRef, n.Amount, n.Currency, n.Status, n.ClientID, n.RawQuery, n.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert holo notification: %w", err)
	}
	return nil
}

func (r *notificationRepoPG) ListByPurchaseRef(ctx context.Context, purchaseRef string, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notificationCols+`
		FROM holo_notifications WHERE purchase_ref = $1
		ORDER BY received_at DESC LIMIT $2`, purchaseRef, limit)
	if err != nil {
		return nil, fmt.Errorf("list holo notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var amount, currency, status, clientID *string
		if err := rows.Scan(&n.ID, &n.PurchaseRef, &amount, &currency, &status, &clientID, &n.RawQuery, &n.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan holo notification: %w", err)
		}
		n.Amount, n.Currency, n.Status, n.ClientID = deref(amount), deref(currency), deref(status), deref(clientID)
		out = append(out, n)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
