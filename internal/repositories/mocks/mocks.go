// Package mocks provides testify mocks for the repository interfaces.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/stretchr/testify/mock"
)

type ProductRepository struct {
	mock.Mock
}

func (m *ProductRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *ProductRepository) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *ProductRepository) UpdateProduct(ctx context.Context, product *models.Product) error {
	args := m.Called(ctx, product)
	return args.Error(0)
}

func (m *ProductRepository) ListProducts(ctx context.Context, page, pageSize int) ([]*models.Product, int, error) {
	args := m.Called(ctx, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Product), args.Int(1), args.Error(2)
}

func (m *ProductRepository) ListProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Product), args.Error(1)
}

func (m *ProductRepository) ListTopRated(ctx context.Context, limit int) ([]*models.Product, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Product), args.Error(1)
}

func (m *ProductRepository) DecrementStock(ctx context.Context, id uuid.UUID, qty int64) error {
	args := m.Called(ctx, id, qty)
	return args.Error(0)
}

func (m *ProductRepository) RestoreStock(ctx context.Context, id uuid.UUID, qty int64) error {
	args := m.Called(ctx, id, qty)
	return args.Error(0)
}

type CartRepository struct {
	mock.Mock
}

func (m *CartRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Cart), args.Error(1)
}

func (m *CartRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Cart), args.Error(1)
}

func (m *CartRepository) UpdateCart(ctx context.Context, cart *models.Cart) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

type CouponRepository struct {
	mock.Mock
}

func (m *CouponRepository) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	args := m.Called(ctx, coupon)
	return args.Error(0)
}

func (m *CouponRepository) GetActiveByCode(ctx context.Context, code string) (*models.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Coupon), args.Error(1)
}

func (m *CouponRepository) ListActive(ctx context.Context) ([]models.Coupon, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Coupon), args.Error(1)
}

type OrderRepository struct {
	mock.Mock
}

func (m *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *OrderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderRepository) GetOrderForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderRepository) ListOrdersByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Order, int, error) {
	args := m.Called(ctx, userID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.Order), args.Int(1), args.Error(2)
}

func (m *OrderRepository) ListAllOrders(ctx context.Context, page, pageSize int) ([]models.Order, int, error) {
	args := m.Called(ctx, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.Order), args.Int(1), args.Error(2)
}

func (m *OrderRepository) MarkPaid(ctx context.Context, id uuid.UUID, paymentRef string, setPlaced bool) (*models.Order, error) {
	args := m.Called(ctx, id, paymentRef, setPlaced)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderRepository) CancelOrder(ctx context.Context, id uuid.UUID, allowedFrom []models.OrderStatus) (*models.Order, error) {
	args := m.Called(ctx, id, allowedFrom)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderRepository) HasDeliveredProduct(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, productID)
	return args.Bool(0), args.Error(1)
}

type UserRepository struct {
	mock.Mock
}

func (m *UserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *UserRepository) AddToWishlist(ctx context.Context, userID, productID uuid.UUID) error {
	args := m.Called(ctx, userID, productID)
	return args.Error(0)
}

func (m *UserRepository) RemoveFromWishlist(ctx context.Context, userID, productID uuid.UUID) error {
	args := m.Called(ctx, userID, productID)
	return args.Error(0)
}

type ReviewRepository struct {
	mock.Mock
}

func (m *ReviewRepository) AddReview(ctx context.Context, review *models.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *ReviewRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.Review, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Review), args.Error(1)
}

type NotificationRepository struct {
	mock.Mock
}

func (m *NotificationRepository) CreateNotification(ctx context.Context, notification *models.Notification) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}
