package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rohanverma-dev/kartify-backend/internal/config"
	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/metrics"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, req *models.PlaceOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	ListMyOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Order, int, error)
	PayFake(ctx context.Context, userID, orderID uuid.UUID, req *models.PayOrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	ListAllOrders(ctx context.Context, page, pageSize int) ([]models.Order, int, error)
	SetStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	AdminCancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type orderService struct {
	orderRepo   repository.OrderRepository
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	couponRepo  repository.CouponRepository
	notifier    Notifier
	pricing     config.Pricing
	locks       *utils.KeyedMutex
}

// NewOrderService shares the per-user KeyedMutex with the cart service so a
// placement never races a cart mutation for the same user.
func NewOrderService(orderRepo repository.OrderRepository, cartRepo repository.CartRepository,
	productRepo repository.ProductRepository, couponRepo repository.CouponRepository,
	notifier Notifier, pricing config.Pricing, locks *utils.KeyedMutex) OrderService {
	return &orderService{
		orderRepo:   orderRepo,
		cartRepo:    cartRepo,
		productRepo: productRepo,
		couponRepo:  couponRepo,
		notifier:    notifier,
		pricing:     pricing,
		locks:       locks,
	}
}

// PlaceOrder converts the user's cart into an order. Prices and titles are
// frozen from the live catalog at this moment; the stock reservation itself
// happens inside the repository transaction, so a concurrent placement on the
// same items fails there rather than overselling.
func (s *orderService) PlaceOrder(ctx context.Context, userID uuid.UUID, req *models.PlaceOrderRequest) (*models.Order, error) {

	method := req.PaymentMethod
	if method == "" {
		method = models.PaymentMethodCOD
	}

	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	cart, err := s.cartRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.EmptyCartError("Cart is empty")
		}
		return nil, appErrors.DatabaseError("Failed to load cart").WithError(err)
	}

	if len(cart.Items) == 0 {
		return nil, appErrors.EmptyCartError("Cart is empty")
	}

	items, subtotal, err := s.freezeItems(ctx, cart)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, appErrors.EmptyCartError("Cart is empty")
	}

	couponCode, discount := s.settleCoupon(ctx, cart, subtotal)

	tax := int64(math.Round(float64(subtotal) * s.pricing.TaxRate))

	shipping := s.pricing.ShippingFee
	if subtotal > s.pricing.FreeShippingOver {
		shipping = 0
	}

	status := models.OrderStatusPlaced
	if method == models.PaymentMethodOnline {
		status = models.OrderStatusPending
	}

	order := &models.Order{
		UserID:          userID,
		Items:           items,
		Subtotal:        subtotal,
		CouponCode:      couponCode,
		Discount:        discount,
		Tax:             tax,
		Shipping:        shipping,
		Total:           subtotal - discount + tax + shipping,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   method,
		Status:          status,
	}

	if err := s.orderRepo.CreateOrder(ctx, order); err != nil {

		var shortfall *repository.InsufficientStockError
		if errors.As(err, &shortfall) {
			metrics.StockConflicts.Inc()
			return nil, appErrors.InsufficientStockError(shortfall.Title, shortfall.Available)
		}

		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Product no longer exists")
		}

		return nil, appErrors.DatabaseError("Failed to place order").WithError(err)
	}

	metrics.OrdersPlaced.Inc()
	s.notifier.OrderPlaced(ctx, order)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {

	order, err := s.orderRepo.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch order").WithError(err)
	}

	return order, nil
}

func (s *orderService) ListMyOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Order, int, error) {

	page, pageSize = clampPage(page, pageSize)

	orders, total, err := s.orderRepo.ListOrdersByUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.DatabaseError("Failed to fetch orders").WithError(err)
	}

	return orders, total, nil
}

// PayFake settles an order through the stand-in payment provider. A missing
// reference gets a generated one. Paying a pending online order also moves it
// to placed; paying twice is rejected by the repository's guard.
func (s *orderService) PayFake(ctx context.Context, userID, orderID uuid.UUID, req *models.PayOrderRequest) (*models.Order, error) {

	order, err := s.orderRepo.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch order").WithError(err)
	}

	if order.PaymentMethod != models.PaymentMethodOnline {
		return nil, appErrors.InvalidStateError("Only online orders are paid through the payment provider")
	}

	if order.Status == models.OrderStatusCancelled {
		return nil, appErrors.InvalidStateError("Cannot pay a cancelled order")
	}

	ref := req.PaymentRef
	if ref == "" {
		ref = fmt.Sprintf("FAKEPAY_%d", time.Now().UnixMilli())
	}

	setPlaced := order.Status == models.OrderStatusPending

	paid, err := s.orderRepo.MarkPaid(ctx, orderID, ref, setPlaced)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, appErrors.InvalidStateError("Order is already paid")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to record payment").WithError(err)
	}

	return paid, nil
}

// CancelOrder lets the owner back out of an order that has not shipped yet.
// Stock restoration rides in the repository transaction, keyed off the same
// status guard, so a double cancel can never restore stock twice.
func (s *orderService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {

	if _, err := s.orderRepo.GetOrderForUser(ctx, orderID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch order").WithError(err)
	}

	order, err := s.orderRepo.CancelOrder(ctx, orderID,
		[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusPlaced})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, appErrors.InvalidStateError("Order can no longer be cancelled")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to cancel order").WithError(err)
	}

	metrics.OrdersCancelled.Inc()
	s.notifier.OrderCancelled(ctx, order)

	return order, nil
}

func (s *orderService) ListAllOrders(ctx context.Context, page, pageSize int) ([]models.Order, int, error) {

	page, pageSize = clampPage(page, pageSize)

	orders, total, err := s.orderRepo.ListAllOrders(ctx, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.DatabaseError("Failed to fetch orders").WithError(err)
	}

	return orders, total, nil
}

// MarkPaid settles a cash-on-delivery order. The same repository guard that
// stops a double fake-payment stops a double settlement here.
func (s *orderService) MarkPaid(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {

	order, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch order").WithError(err)
	}

	if order.Status == models.OrderStatusCancelled {
		return nil, appErrors.InvalidStateError("Cannot settle a cancelled order")
	}

	setPlaced := order.Status == models.OrderStatusPending

	paid, err := s.orderRepo.MarkPaid(ctx, orderID, "COD", setPlaced)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, appErrors.InvalidStateError("Order is already paid")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to record payment").WithError(err)
	}

	return paid, nil
}

// AdminCancel cancels any order that has not reached a terminal state,
// restoring its stock. Deliveries and prior cancellations are rejected by the
// same guard that protects CancelOrder.
func (s *orderService) AdminCancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {

	order, err := s.orderRepo.CancelOrder(ctx, orderID, []models.OrderStatus{
		models.OrderStatusPending, models.OrderStatusPlaced, models.OrderStatusShipped,
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, appErrors.InvalidStateError("Order can no longer be cancelled")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to cancel order").WithError(err)
	}

	metrics.OrdersCancelled.Inc()
	s.notifier.OrderCancelled(ctx, order)

	return order, nil
}

// SetStatus is the admin override. Terminal orders stay terminal, and unlike
// a cancellation this never touches stock: an admin who wants the reservation
// released cancels through AdminCancel instead.
func (s *orderService) SetStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus) (*models.Order, error) {

	if !models.ValidOrderStatus(status) {
		return nil, appErrors.ValidationError("Unknown order status")
	}

	current, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch order").WithError(err)
	}

	if current.Status == status {
		return current, nil
	}

	if current.Status.Terminal() {
		return nil, appErrors.InvalidStateError(
			fmt.Sprintf("Order is %s and cannot change status", current.Status))
	}

	order, err := s.orderRepo.UpdateStatus(ctx, orderID, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Order not found")
		}
		return nil, appErrors.DatabaseError("Failed to update order status").WithError(err)
	}

	return order, nil
}

// freezeItems snapshots the cart against the live catalog. Items whose product
// has disappeared are silently dropped, matching the cart view.
func (s *orderService) freezeItems(ctx context.Context, cart *models.Cart) ([]models.OrderItem, int64, error) {

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := s.productRepo.ListProductsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, appErrors.DatabaseError("Failed to load cart products").WithError(err)
	}

	byID := make(map[string]models.Product, len(products))
	for _, product := range products {
		byID[product.ID.String()] = product
	}

	var items []models.OrderItem
	var subtotal int64

	for key, item := range cart.Items {
		product, ok := byID[key]
		if !ok {
			continue
		}

		image := ""
		if len(product.Images) > 0 {
			image = product.Images[0]
		}

		itemTotal := product.Price * item.Quantity

		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Title:     product.Title,
			Price:     product.Price,
			Quantity:  item.Quantity,
			ItemTotal: itemTotal,
			Image:     image,
		})

		subtotal += itemTotal
	}

	return items, subtotal, nil
}

// settleCoupon re-evaluates the cart's coupon against the subtotal the order
// will actually be priced at. A coupon that no longer qualifies is simply
// dropped from the order rather than failing the placement.
func (s *orderService) settleCoupon(ctx context.Context, cart *models.Cart, subtotal int64) (string, int64) {

	if cart.Coupon.Code == "" {
		return "", 0
	}

	coupon, err := s.couponRepo.GetActiveByCode(ctx, cart.Coupon.Code)
	if err != nil {
		return "", 0
	}

	discount, err := EvaluateCoupon(coupon, subtotal, time.Now())
	if err != nil {
		return "", 0
	}

	return coupon.Code, discount
}

func clampPage(page, pageSize int) (int, int) {

	if page < 1 {
		page = 1
	}

	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	return page, pageSize
}
