package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Order, int, error)
	ListAllOrders(ctx context.Context, page, pageSize int) ([]models.Order, int, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, setPlaced bool) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, id uuid.UUID, allowedFrom []models.OrderStatus) (*models.Order, error)
	HasDeliveredProduct(ctx context.Context, userID, productID uuid.UUID) (bool, error)
}

type orderRepository struct {
	DB *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepository {
	return &orderRepository{DB: db}
}

const orderColumns = `id, user_id, items, subtotal, coupon_code, discount, tax, shipping, total,
	shipping_address, payment_method, is_paid, paid_at, payment_ref, status, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {

	order := &models.Order{}

	var itemsJSON, addressJSON []byte
	var paidAt sql.NullTime

	err := row.Scan(&order.ID, &order.UserID, &itemsJSON, &order.Subtotal, &order.CouponCode,
		&order.Discount, &order.Tax, &order.Shipping, &order.Total, &addressJSON,
		&order.PaymentMethod, &order.IsPaid, &paidAt, &order.PaymentRef, &order.Status,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
	}

	if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shipping address: %w", err)
	}

	return order, nil
}

// CreateOrder is the authoritative stock reservation: every line item's stock
// is decremented behind the stock guard, the order row is inserted, and the
// cart's items are cleared, all in one transaction. Any shortfall rolls the
// whole placement back.
func (r *orderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	tx, err := r.DB.BeginTx(dbCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock products in a stable order so two concurrent placements cannot
	// deadlock on each other's rows.
	items := make([]models.OrderItem, len(order.Items))
	copy(items, order.Items)
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProductID.String() < items[j].ProductID.String()
	})

	for _, item := range items {
		result, err := tx.ExecContext(dbCtx, stockDecrementQuery, item.Quantity, item.ProductID)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}

		if affected == 0 {
			return stockShortfall(dbCtx, tx, item.ProductID)
		}
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}

	insert := `
		INSERT INTO orders (user_id, items, subtotal, coupon_code, discount, tax, shipping, total,
			shipping_address, payment_method, is_paid, payment_ref, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, '', $11)
		RETURNING id, created_at, updated_at
	`

	err = tx.QueryRowContext(dbCtx, insert,
		order.UserID, itemsJSON, order.Subtotal, order.CouponCode, order.Discount,
		order.Tax, order.Shipping, order.Total, addressJSON, order.PaymentMethod, order.Status).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	// The coupon slot is deliberately left untouched; only the items empty.
	if _, err := tx.ExecContext(dbCtx,
		`UPDATE carts SET items = '{}', updated_at = NOW() WHERE user_id = $1`, order.UserID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	return tx.Commit()
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	return scanOrder(r.DB.QueryRowContext(dbCtx, query, id))
}

func (r *orderRepository) GetOrderForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	return scanOrder(r.DB.QueryRowContext(dbCtx, query, id, userID))
}

func (r *orderRepository) ListOrdersByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Order, int, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	var total int
	if err := r.DB.QueryRowContext(dbCtx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	return r.listOrders(dbCtx, total, query, userID, pageSize, (page-1)*pageSize)
}

func (r *orderRepository) ListAllOrders(ctx context.Context, page, pageSize int) ([]models.Order, int, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	var total int
	if err := r.DB.QueryRowContext(dbCtx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	return r.listOrders(dbCtx, total, query, pageSize, (page-1)*pageSize)
}

func (r *orderRepository) listOrders(ctx context.Context, total int, query string, args ...any) ([]models.Order, int, error) {

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, *order)
	}

	return orders, total, rows.Err()
}

// MarkPaid flips is_paid exactly once; a second attempt matches no row.
func (r *orderRepository) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, setPlaced bool) (*models.Order, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		UPDATE orders
		SET is_paid = TRUE, paid_at = NOW(), payment_ref = $2,
			status = CASE WHEN $3 THEN 'placed' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND is_paid = FALSE
		RETURNING ` + orderColumns

	order, err := scanOrder(r.DB.QueryRowContext(dbCtx, query, id, paymentRef, setPlaced))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.resolveGuardFailure(dbCtx, id)
		}
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	return order, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orderColumns

	order, err := scanOrder(r.DB.QueryRowContext(dbCtx, query, id, status))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	return order, nil
}

// CancelOrder flips the status behind a source-state guard and restores every
// line item's stock in the same transaction. A repeat cancel matches no row,
// so stock is never restored twice.
func (r *orderRepository) CancelOrder(ctx context.Context, id uuid.UUID, allowedFrom []models.OrderStatus) (*models.Order, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	tx, err := r.DB.BeginTx(dbCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statuses := make([]string, len(allowedFrom))
	for i, s := range allowedFrom {
		statuses[i] = string(s)
	}

	query := `
		UPDATE orders
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRowContext(dbCtx, query, id, pq.Array(statuses)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.resolveGuardFailure(dbCtx, id)
		}
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(dbCtx, stockRestoreQuery, item.Quantity, item.ProductID); err != nil {
			return nil, fmt.Errorf("failed to restore stock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return order, nil
}

func (r *orderRepository) HasDeliveredProduct(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	needle, err := json.Marshal([]map[string]string{{"product_id": productID.String()}})
	if err != nil {
		return false, fmt.Errorf("failed to marshal containment probe: %w", err)
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE user_id = $1 AND status = 'delivered' AND items @> $2::jsonb
		)
	`

	var exists bool
	if err := r.DB.QueryRowContext(dbCtx, query, userID, needle).Scan(&exists); err != nil {
		return false, fmt.Errorf("querying delivered orders: %w", err)
	}

	return exists, nil
}

// resolveGuardFailure tells a missing order apart from a guard rejection.
func (r *orderRepository) resolveGuardFailure(ctx context.Context, id uuid.UUID) error {

	var status models.OrderStatus

	err := r.DB.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("querying order status: %w", err)
	}

	return fmt.Errorf("order is %s: %w", status, ErrInvalidTransition)
}
