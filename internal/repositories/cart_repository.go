package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
)

type CartRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	UpdateCart(ctx context.Context, cart *models.Cart) error
}

type cartRepository struct {
	DB *sql.DB
}

func NewCartRepo(db *sql.DB) CartRepository {
	return &cartRepository{DB: db}
}

// GetOrCreate never fails on a missing cart: the insert is a no-op when the
// user already has one (user_id is unique), and the select always follows.
func (r *cartRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	insert := `
		INSERT INTO carts (user_id, items, coupon_code, coupon_discount)
		VALUES ($1, '{}', '', 0)
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := r.DB.ExecContext(dbCtx, insert, userID); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	return r.getByUserID(dbCtx, userID)
}

func (r *cartRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	return r.getByUserID(dbCtx, userID)
}

func (r *cartRepository) getByUserID(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {

	query := `
		SELECT id, user_id, items, coupon_code, coupon_discount, created_at, updated_at
		FROM carts
		WHERE user_id = $1
	`

	cart := &models.Cart{}

	var itemsJSON []byte

	err := r.DB.QueryRowContext(ctx, query, userID).
		Scan(&cart.ID, &cart.UserID, &itemsJSON, &cart.Coupon.Code, &cart.Coupon.Discount, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("querying cart: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &cart.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart items: %w", err)
	}

	if cart.Items == nil {
		cart.Items = make(map[string]models.CartItem)
	}

	return cart, nil
}

func (r *cartRepository) UpdateCart(ctx context.Context, cart *models.Cart) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal cart items: %w", err)
	}

	query := `
		UPDATE carts
		SET items = $1, coupon_code = $2, coupon_discount = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := r.DB.ExecContext(dbCtx, query, itemsJSON, cart.Coupon.Code, cart.Coupon.Discount, time.Now(), cart.ID)
	if err != nil {
		return fmt.Errorf("failed to update the cart: %w", err)
	}

	updatedRows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get updated rows: %w", err)
	}

	if updatedRows == 0 {
		return sql.ErrNoRows
	}

	return nil
}
