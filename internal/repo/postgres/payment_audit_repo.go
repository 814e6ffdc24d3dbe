package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stagepass/checkout/internal/domain"
)

// PaymentAuditRepository persists every payment attempt and its terminal
// outcome for later reconciliation against the provider's ledger.
type PaymentAuditRepository interface {
	RecordOrder(ctx context.Context, flowID string, buyerID, productID int64, order *domain.PaymentOrder) error
	RecordOutcome(ctx context.Context, orderID string, outcome domain.PaymentOutcome, confirmed bool) error
}

type paymentAuditRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentAuditRepository(pool *pgxpool.Pool) PaymentAuditRepository {
	return &paymentAuditRepository{pool: pool}
}

func (r *paymentAuditRepository) RecordOrder(ctx context.Context, flowID string, buyerID, productID int64, order *domain.PaymentOrder) error {
	const q = `INSERT INTO payment_attempts (
		order_id, flow_id, buyer_id, product_id,
		order_name, amount, reservation_ids, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	reservationIDs := make([]int64, 0, len(order.Items))
	for _, item := range order.Items {
		reservationIDs = append(reservationIDs, item.ReservationID)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q,
		order.OrderID, flowID, buyerID, productID,
		order.OrderName, order.Amount, reservationIDs, order.CreatedAt,
	)
	return err
}

func (r *paymentAuditRepository) RecordOutcome(ctx context.Context, orderID string, outcome domain.PaymentOutcome, confirmed bool) error {
	const q = `UPDATE payment_attempts SET
		outcome=$2, confirmed=$3, payment_key=$4,
		outcome_code=$5, outcome_message=$6, resolved_at=$7
	WHERE order_id=$1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q,
		orderID, string(outcome.Type), confirmed, outcome.PaymentKey,
		outcome.Code, outcome.Message, time.Now(),
	)
	return err
}
