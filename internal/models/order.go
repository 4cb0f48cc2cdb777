package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

type PaymentMethod string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"

	PaymentMethodCOD    PaymentMethod = "COD"
	PaymentMethodOnline PaymentMethod = "ONLINE"
)

// Terminal reports whether no further transitions are allowed from s,
// even for administrators.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusPlaced, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}

	return false
}

type ShippingAddress struct {
	FullName     string `json:"full_name" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	AddressLine1 string `json:"address_line1" validate:"required"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city" validate:"required"`
	State        string `json:"state" validate:"required"`
	PostalCode   string `json:"postal_code" validate:"required"`
	Country      string `json:"country,omitempty"`
}

// OrderItem freezes title and price at placement time; later product edits
// never change an existing order.
type OrderItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Title     string    `json:"title"`
	Price     int64     `json:"price"`
	Quantity  int64     `json:"quantity"`
	ItemTotal int64     `json:"item_total"`
	Image     string    `json:"image,omitempty"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Items           []OrderItem     `json:"items"`
	Subtotal        int64           `json:"subtotal"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Discount        int64           `json:"discount"`
	Tax             int64           `json:"tax"`
	Shipping        int64           `json:"shipping"`
	Total           int64           `json:"total"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	IsPaid          bool            `json:"is_paid"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	PaymentRef      string          `json:"payment_ref,omitempty"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type PlaceOrderRequest struct {
	ShippingAddress ShippingAddress `json:"shipping_address" validate:"required"`
	PaymentMethod   PaymentMethod   `json:"payment_method" validate:"omitempty,oneof=COD ONLINE"`
}

type PayOrderRequest struct {
	PaymentRef string `json:"payment_ref,omitempty"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" validate:"required,oneof=pending placed shipped delivered cancelled"`
}
