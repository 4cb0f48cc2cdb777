package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
)

// ErrDuplicateCoupon maps the unique-code violation.
var ErrDuplicateCoupon = errors.New("coupon code already exists")

type CouponRepository interface {
	CreateCoupon(ctx context.Context, coupon *models.Coupon) error
	GetActiveByCode(ctx context.Context, code string) (*models.Coupon, error)
	ListActive(ctx context.Context) ([]models.Coupon, error)
}

type couponRepository struct {
	DB *sql.DB
}

func NewCouponRepo(db *sql.DB) CouponRepository {
	return &couponRepository{DB: db}
}

const couponColumns = `id, code, type, value, min_order, max_discount, expiry, is_active, created_at, updated_at`

func (r *couponRepository) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO coupons (code, type, value, min_order, max_discount, expiry, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id, is_active, created_at, updated_at
	`

	err := r.DB.QueryRowContext(dbCtx, query,
		coupon.Code, coupon.Type, coupon.Value, coupon.MinOrder, coupon.MaxDiscount, coupon.Expiry).
		Scan(&coupon.ID, &coupon.IsActive, &coupon.CreatedAt, &coupon.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCoupon
		}
		return fmt.Errorf("failed to create coupon: %w", err)
	}

	return nil
}

func (r *couponRepository) GetActiveByCode(ctx context.Context, code string) (*models.Coupon, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 AND is_active = TRUE`

	coupon := &models.Coupon{}

	err := r.DB.QueryRowContext(dbCtx, query, code).
		Scan(&coupon.ID, &coupon.Code, &coupon.Type, &coupon.Value, &coupon.MinOrder,
			&coupon.MaxDiscount, &coupon.Expiry, &coupon.IsActive, &coupon.CreatedAt, &coupon.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("querying coupon: %w", err)
	}

	return coupon, nil
}

func (r *couponRepository) ListActive(ctx context.Context) ([]models.Coupon, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE is_active = TRUE ORDER BY created_at DESC`

	rows, err := r.DB.QueryContext(dbCtx, query)
	if err != nil {
		return nil, fmt.Errorf("querying coupons: %w", err)
	}
	defer rows.Close()

	var coupons []models.Coupon

	for rows.Next() {
		var coupon models.Coupon

		err := rows.Scan(&coupon.ID, &coupon.Code, &coupon.Type, &coupon.Value, &coupon.MinOrder,
			&coupon.MaxDiscount, &coupon.Expiry, &coupon.IsActive, &coupon.CreatedAt, &coupon.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning coupon: %w", err)
		}

		coupons = append(coupons, coupon)
	}

	return coupons, rows.Err()
}
