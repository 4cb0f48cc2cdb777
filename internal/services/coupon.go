package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
)

// EvaluateCoupon computes the discount a coupon yields against a subtotal.
// Pure: same inputs, same answer. Rules, in order:
//
//  1. expired coupons are rejected,
//  2. the subtotal must reach the coupon's minimum order,
//  3. PERCENT discounts round half up and respect MaxDiscount (0 = uncapped),
//  4. FLAT discounts never exceed the subtotal.
func EvaluateCoupon(coupon *models.Coupon, subtotal int64, now time.Time) (int64, error) {

	if coupon.Expiry.Before(now) {
		return 0, appErrors.CouponExpiredError("Coupon expired")
	}

	if subtotal < coupon.MinOrder {
		return 0, appErrors.CouponNotMetError(coupon.MinOrder)
	}

	if coupon.Type == models.CouponTypePercent {

		discount := int64(math.Round(float64(subtotal) * float64(coupon.Value) / 100))

		if coupon.MaxDiscount > 0 && discount > coupon.MaxDiscount {
			discount = coupon.MaxDiscount
		}

		return discount, nil
	}

	if coupon.Value > subtotal {
		return subtotal, nil
	}

	return coupon.Value, nil
}

type CouponService interface {
	CreateCoupon(ctx context.Context, req *models.CreateCouponRequest) (*models.Coupon, error)
	ListActiveCoupons(ctx context.Context) ([]models.Coupon, error)
}

type couponService struct {
	repo repository.CouponRepository
}

func NewCouponService(repo repository.CouponRepository) CouponService {
	return &couponService{repo: repo}
}

func (s *couponService) CreateCoupon(ctx context.Context, req *models.CreateCouponRequest) (*models.Coupon, error) {

	coupon := &models.Coupon{
		Code:        strings.ToUpper(strings.TrimSpace(req.Code)),
		Type:        req.Type,
		Value:       req.Value,
		MinOrder:    req.MinOrder,
		MaxDiscount: req.MaxDiscount,
		Expiry:      req.Expiry,
	}

	err := s.repo.CreateCoupon(ctx, coupon)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateCoupon) {
			return nil, appErrors.DuplicateEntryError("Coupon already exists")
		}
		return nil, appErrors.DatabaseError("Failed to create coupon").WithError(err)
	}

	return coupon, nil
}

func (s *couponService) ListActiveCoupons(ctx context.Context) ([]models.Coupon, error) {

	coupons, err := s.repo.ListActive(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.DatabaseError("Failed to fetch coupons").WithError(err)
	}

	return coupons, nil
}
