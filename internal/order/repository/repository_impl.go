package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/order/domain"
	"github.com/smallbiznis/simstore/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, customer_id, plan_code, amount_cents, display_currency, display_amount_cents,
	status, payment_method, payment_ref, provider_order_no, refunded_at, refund_amount_cents,
	refund_method, receipt_sent, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (id, customer_id, plan_code, amount_cents, display_currency, display_amount_cents,
			status, payment_method, payment_ref, provider_order_no, receipt_sent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.CustomerID,
		order.PlanCode,
		order.AmountCents,
		order.DisplayCurrency,
		order.DisplayAmountCents,
		string(order.Status),
		string(order.PaymentMethod),
		order.PaymentRef,
		order.ProviderOrderNo,
		order.ReceiptSent,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindByPaymentRef(ctx context.Context, db *gorm.DB, paymentRef string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE payment_ref = ?`,
		paymentRef,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Order, error) {
	var orders []*domain.Order
	stmt := db.WithContext(ctx).Table("orders").Select(orderColumns)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	// One extra row tells the caller whether another page exists.
	err := stmt.
		Order("created_at desc, id desc").
		Limit(page.Limit() + 1).
		Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentRef, displayCurrency string, displayAmountCents int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, payment_ref = ?, display_currency = ?, display_amount_cents = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(domain.StatusPaid), paymentRef, displayCurrency, displayAmountCents, now,
		id, string(domain.StatusPending),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN ?`,
		string(to), now, id, statusStrings(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SetProviderOrderNo(ctx context.Context, db *gorm.DB, id snowflake.ID, orderNo string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET provider_order_no = ?, updated_at = ?
		 WHERE id = ? AND (provider_order_no IS NULL OR provider_order_no = '') AND status IN ?`,
		orderNo, now, id, statusStrings(domain.ProvisionableStatuses),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) AdjustPendingAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, fromCents, toCents int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET amount_cents = ?, updated_at = ? WHERE id = ? AND status = ? AND amount_cents = ?`,
		toCents, now, id, string(domain.StatusPending), fromCents,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ClaimReceipt(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET receipt_sent = ?, updated_at = ? WHERE id = ? AND receipt_sent = ?`,
		true, now, id, false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, amountCents int64, method string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, refunded_at = ?, refund_amount_cents = ?, refund_method = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		string(domain.StatusCancelled), now, amountCents, method, now,
		id, statusStrings(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListRetryable(ctx context.Context, db *gorm.DB, stalePaidBefore time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders
		 WHERE status IN ? OR (status = ? AND updated_at < ?)
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		statusStrings(domain.RetryableStatuses), string(domain.StatusPaid), stalePaidBefore, limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) ListProvisionedWithoutReceipt(ctx context.Context, db *gorm.DB, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders o
		 WHERE o.receipt_sent = ? AND o.status = ?
		   AND EXISTS (SELECT 1 FROM profiles p WHERE p.order_id = o.id)
		 ORDER BY o.created_at ASC, o.id ASC
		 LIMIT ?`,
		false, string(domain.StatusEsimCreated), limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

func (r *repo) ExpirePending(ctx context.Context, db *gorm.DB, createdBefore, now time.Time, limit int) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ?
		 WHERE status = ? AND id IN (
			SELECT id FROM orders
			WHERE status = ? AND payment_method = ? AND created_at < ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?
		 )`,
		string(domain.StatusCancelled), now,
		string(domain.StatusPending),
		string(domain.StatusPending), string(domain.PaymentMethodGateway), createdBefore,
		limit,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
