// Package mocks provides testify mocks for the service interfaces.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/stretchr/testify/mock"
)

type CartService struct {
	mock.Mock
}

func (m *CartService) GetCart(ctx context.Context, userID uuid.UUID) (*models.CartView, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CartView), args.Error(1)
}

func (m *CartService) AddItem(ctx context.Context, userID uuid.UUID, req *models.AddItemRequest) (*models.CartView, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CartView), args.Error(1)
}

func (m *CartService) UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int64) (*models.CartView, error) {
	args := m.Called(ctx, userID, productID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CartView), args.Error(1)
}

func (m *CartService) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*models.CartView, error) {
	args := m.Called(ctx, userID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CartView), args.Error(1)
}

func (m *CartService) ClearCart(ctx context.Context, userID uuid.UUID) (*models.CartView, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CartView), args.Error(1)
}

func (m *CartService) ApplyCoupon(ctx context.Context, userID uuid.UUID, code string) (*models.CartView, error) {
	args := m.Called(ctx, userID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CartView), args.Error(1)
}

func (m *CartService) RemoveCoupon(ctx context.Context, userID uuid.UUID) (*models.CartView, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CartView), args.Error(1)
}

type OrderService struct {
	mock.Mock
}

func (m *OrderService) PlaceOrder(ctx context.Context, userID uuid.UUID, req *models.PlaceOrderRequest) (*models.Order, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, userID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderService) ListMyOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Order, int, error) {
	args := m.Called(ctx, userID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.Order), args.Int(1), args.Error(2)
}

func (m *OrderService) PayFake(ctx context.Context, userID, orderID uuid.UUID, req *models.PayOrderRequest) (*models.Order, error) {
	args := m.Called(ctx, userID, orderID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, userID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderService) ListAllOrders(ctx context.Context, page, pageSize int) ([]models.Order, int, error) {
	args := m.Called(ctx, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]models.Order), args.Int(1), args.Error(2)
}

func (m *OrderService) SetStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	args := m.Called(ctx, orderID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderService) MarkPaid(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *OrderService) AdminCancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

type ProductService struct {
	mock.Mock
}

func (m *ProductService) CreateProduct(ctx context.Context, req *models.CreateProductRequest) (*models.Product, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *ProductService) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *ProductService) UpdateProduct(ctx context.Context, id uuid.UUID, req *models.UpdateProductRequest) (*models.Product, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *ProductService) ListProducts(ctx context.Context, page, pageSize int) ([]*models.Product, int, error) {
	args := m.Called(ctx, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Product), args.Int(1), args.Error(2)
}

func (m *ProductService) Recommend(ctx context.Context) ([]*models.Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Product), args.Error(1)
}

type CouponService struct {
	mock.Mock
}

func (m *CouponService) CreateCoupon(ctx context.Context, req *models.CreateCouponRequest) (*models.Coupon, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Coupon), args.Error(1)
}

func (m *CouponService) ListActiveCoupons(ctx context.Context) ([]models.Coupon, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Coupon), args.Error(1)
}

type ReviewService struct {
	mock.Mock
}

func (m *ReviewService) AddReview(ctx context.Context, userID uuid.UUID, userName string, productID uuid.UUID, req *models.AddReviewRequest) (*models.Review, error) {
	args := m.Called(ctx, userID, userName, productID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Review), args.Error(1)
}

func (m *ReviewService) ListReviews(ctx context.Context, productID uuid.UUID) (*models.ReviewsResponse, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReviewsResponse), args.Error(1)
}

type WishlistService struct {
	mock.Mock
}

func (m *WishlistService) GetWishlist(ctx context.Context, userID uuid.UUID) (*models.WishlistResponse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WishlistResponse), args.Error(1)
}

func (m *WishlistService) AddToWishlist(ctx context.Context, userID, productID uuid.UUID) (*models.WishlistResponse, error) {
	args := m.Called(ctx, userID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WishlistResponse), args.Error(1)
}

func (m *WishlistService) RemoveFromWishlist(ctx context.Context, userID, productID uuid.UUID) (*models.WishlistResponse, error) {
	args := m.Called(ctx, userID, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WishlistResponse), args.Error(1)
}

type Notifier struct {
	mock.Mock
}

func (m *Notifier) OrderPlaced(ctx context.Context, order *models.Order) {
	m.Called(ctx, order)
}

func (m *Notifier) OrderCancelled(ctx context.Context, order *models.Order) {
	m.Called(ctx, order)
}
