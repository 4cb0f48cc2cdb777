package models

import (
	"time"

	"github.com/google/uuid"
)

type CouponType string

const (
	CouponTypePercent CouponType = "PERCENT"
	CouponTypeFlat    CouponType = "FLAT"
)

// Coupon codes are stored uppercase. MaxDiscount == 0 means uncapped.
type Coupon struct {
	ID          uuid.UUID  `json:"id"`
	Code        string     `json:"code"`
	Type        CouponType `json:"type"`
	Value       int64      `json:"value"`
	MinOrder    int64      `json:"min_order"`
	MaxDiscount int64      `json:"max_discount"`
	Expiry      time.Time  `json:"expiry"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type CreateCouponRequest struct {
	Code        string     `json:"code" validate:"required,min=3,max=32"`
	Type        CouponType `json:"type" validate:"required,oneof=PERCENT FLAT"`
	Value       int64      `json:"value" validate:"required,min=1"`
	MinOrder    int64      `json:"min_order" validate:"gte=0"`
	MaxDiscount int64      `json:"max_discount" validate:"gte=0"`
	Expiry      time.Time  `json:"expiry" validate:"required"`
}
