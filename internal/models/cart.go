package models

import (
	"time"

	"github.com/google/uuid"
)

// CartItem is the persisted form: only the product reference and quantity.
// Prices are never stored on the cart; totals are derived from live products.
type CartItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int64     `json:"quantity"`
}

type CouponSlot struct {
	Code     string `json:"code"`
	Discount int64  `json:"discount"`
}

type Cart struct {
	ID        uuid.UUID           `json:"id"`
	UserID    uuid.UUID           `json:"user_id"`
	Items     map[string]CartItem `json:"items"`
	Coupon    CouponSlot          `json:"coupon"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// CartProduct is the slice of product state a cart line exposes. Stock is
// included so clients can surface availability, but it is advisory only.
type CartProduct struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Price    int64     `json:"price"`
	Stock    int64     `json:"stock"`
	Images   []string  `json:"images"`
}

type CartLine struct {
	Product   CartProduct `json:"product"`
	Quantity  int64       `json:"quantity"`
	ItemTotal int64       `json:"item_total"`
}

// CartView is the computed response shape: subtotal is always recomputed
// from live prices, finalTotal = max(0, subtotal - discount).
type CartView struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Items      []CartLine `json:"items"`
	Subtotal   int64      `json:"subtotal"`
	CountItems int64      `json:"count_items"`
	Coupon     CouponSlot `json:"coupon"`
	Discount   int64      `json:"discount"`
	FinalTotal int64      `json:"final_total"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type AddItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int64     `json:"quantity" validate:"required,min=1"`
}

type UpdateQuantityRequest struct {
	Quantity int64 `json:"quantity" validate:"required,min=1"`
}

type ApplyCouponRequest struct {
	Code string `json:"code" validate:"required"`
}
