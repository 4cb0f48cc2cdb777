package service_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rohanverma-dev/kartify-backend/internal/config"
	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
	"github.com/rohanverma-dev/kartify-backend/internal/repositories/mocks"
	service "github.com/rohanverma-dev/kartify-backend/internal/services"
	serviceMocks "github.com/rohanverma-dev/kartify-backend/internal/services/mocks"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var testPricing = config.Pricing{TaxRate: 0.05, ShippingFee: 100, FreeShippingOver: 5000}

type orderServiceMocks struct {
	orderRepo   *mocks.OrderRepository
	cartRepo    *mocks.CartRepository
	productRepo *mocks.ProductRepository
	couponRepo  *mocks.CouponRepository
	notifier    *serviceMocks.Notifier
}

func setupOrderServiceTest() (service.OrderService, *orderServiceMocks) {
	m := &orderServiceMocks{
		orderRepo:   new(mocks.OrderRepository),
		cartRepo:    new(mocks.CartRepository),
		productRepo: new(mocks.ProductRepository),
		couponRepo:  new(mocks.CouponRepository),
		notifier:    new(serviceMocks.Notifier),
	}

	orderService := service.NewOrderService(m.orderRepo, m.cartRepo, m.productRepo, m.couponRepo,
		m.notifier, testPricing, utils.NewKeyedMutex())

	return orderService, m
}

func testAddress() models.ShippingAddress {
	return models.ShippingAddress{
		FullName: "Asha Rao", Phone: "9999999999", AddressLine1: "12 MG Road",
		City: "Bengaluru", State: "KA", PostalCode: "560001",
	}
}

func TestPlaceOrder(t *testing.T) {

	ctx := context.Background()
	userID := uuid.New()
	productID := uuid.New()
	product := models.Product{ID: productID, Title: "Headphones", Price: 100, Stock: 10, Images: []string{"h.jpg"}}

	cartWith := func(qty int64) *models.Cart {
		return &models.Cart{UserID: userID, Items: map[string]models.CartItem{
			productID.String(): {ProductID: productID, Quantity: qty},
		}}
	}

	t.Run("COD order is placed immediately with derived totals", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		m.cartRepo.On("GetByUserID", mock.Anything, userID).Return(cartWith(2), nil).Once()
		m.productRepo.On("ListProductsByIDs", mock.Anything, mock.Anything).Return([]models.Product{product}, nil).Once()
		m.orderRepo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*models.Order")).Return(nil).Once()
		m.notifier.On("OrderPlaced", mock.Anything, mock.AnythingOfType("*models.Order")).Return().Once()

		// Act
		order, err := orderService.PlaceOrder(ctx, userID, &models.PlaceOrderRequest{
			ShippingAddress: testAddress(),
			PaymentMethod:   models.PaymentMethodCOD,
		})

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, models.OrderStatusPlaced, order.Status)
		assert.Equal(t, int64(200), order.Subtotal)
		assert.Equal(t, int64(10), order.Tax)       // round(200 * 0.05)
		assert.Equal(t, int64(100), order.Shipping) // under the free shipping threshold
		assert.Equal(t, int64(310), order.Total)
		assert.False(t, order.IsPaid)
		assert.Len(t, order.Items, 1)
		assert.Equal(t, "Headphones", order.Items[0].Title)
		assert.Equal(t, int64(100), order.Items[0].Price)
		m.orderRepo.AssertExpectations(t)
		m.notifier.AssertExpectations(t)
	})

	t.Run("Online order starts pending", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		m.cartRepo.On("GetByUserID", mock.Anything, userID).Return(cartWith(1), nil).Once()
		m.productRepo.On("ListProductsByIDs", mock.Anything, mock.Anything).Return([]models.Product{product}, nil).Once()
		m.orderRepo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*models.Order")).Return(nil).Once()
		m.notifier.On("OrderPlaced", mock.Anything, mock.AnythingOfType("*models.Order")).Return().Once()

		// Act
		order, err := orderService.PlaceOrder(ctx, userID, &models.PlaceOrderRequest{
			ShippingAddress: testAddress(),
			PaymentMethod:   models.PaymentMethodOnline,
		})

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, models.OrderStatusPending, order.Status)
	})

	t.Run("Shipping is free above the threshold", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		expensive := models.Product{ID: productID, Title: "Laptop", Price: 6000, Stock: 3}

		m.cartRepo.On("GetByUserID", mock.Anything, userID).Return(cartWith(1), nil).Once()
		m.productRepo.On("ListProductsByIDs", mock.Anything, mock.Anything).Return([]models.Product{expensive}, nil).Once()
		m.orderRepo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*models.Order")).Return(nil).Once()
		m.notifier.On("OrderPlaced", mock.Anything, mock.AnythingOfType("*models.Order")).Return().Once()

		// Act
		order, err := orderService.PlaceOrder(ctx, userID, &models.PlaceOrderRequest{ShippingAddress: testAddress()})

		// Assert
		assert.NoError(t, err)
		assert.Zero(t, order.Shipping)
		assert.Equal(t, int64(300), order.Tax)
		assert.Equal(t, int64(6300), order.Total)
	})

	t.Run("Coupon discount is snapshotted and subtracted from the total", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		cart := cartWith(2)
		cart.Coupon = models.CouponSlot{Code: "SAVE10", Discount: 999} // stale on purpose

		coupon := &models.Coupon{
			Code: "SAVE10", Type: models.CouponTypePercent, Value: 10,
			Expiry: orderTestExpiry(), IsActive: true,
		}

		m.cartRepo.On("GetByUserID", mock.Anything, userID).Return(cart, nil).Once()
		m.productRepo.On("ListProductsByIDs", mock.Anything, mock.Anything).Return([]models.Product{product}, nil).Once()
		m.couponRepo.On("GetActiveByCode", mock.Anything, "SAVE10").Return(coupon, nil).Once()
		m.orderRepo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*models.Order")).Return(nil).Once()
		m.notifier.On("OrderPlaced", mock.Anything, mock.AnythingOfType("*models.Order")).Return().Once()

		// Act
		order, err := orderService.PlaceOrder(ctx, userID, &models.PlaceOrderRequest{ShippingAddress: testAddress()})

		// Assert - discount re-derived from the live subtotal, not the stale slot
		assert.NoError(t, err)
		assert.Equal(t, "SAVE10", order.CouponCode)
		assert.Equal(t, int64(20), order.Discount)
		assert.Equal(t, int64(200-20+10+100), order.Total)
	})

	t.Run("Coupon that stopped qualifying is dropped, placement proceeds", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		cart := cartWith(1)
		cart.Coupon = models.CouponSlot{Code: "GONE", Discount: 30}

		m.cartRepo.On("GetByUserID", mock.Anything, userID).Return(cart, nil).Once()
		m.productRepo.On("ListProductsByIDs", mock.Anything, mock.Anything).Return([]models.Product{product}, nil).Once()
		m.couponRepo.On("GetActiveByCode", mock.Anything, "GONE").Return(nil, sql.ErrNoRows).Once()
		m.orderRepo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*models.Order")).Return(nil).Once()
		m.notifier.On("OrderPlaced", mock.Anything, mock.AnythingOfType("*models.Order")).Return().Once()

		// Act
		order, err := orderService.PlaceOrder(ctx, userID, &models.PlaceOrderRequest{ShippingAddress: testAddress()})

		// Assert
		assert.NoError(t, err)
		assert.Empty(t, order.CouponCode)
		assert.Zero(t, order.Discount)
	})

	t.Run("Failure - empty cart", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		m.cartRepo.On("GetByUserID", mock.Anything, userID).
			Return(&models.Cart{UserID: userID, Items: map[string]models.CartItem{}}, nil).Once()

		// Act
		order, err := orderService.PlaceOrder(ctx, userID, &models.PlaceOrderRequest{ShippingAddress: testAddress()})

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeEmptyCart, appErr.Code)
		m.orderRepo.AssertNotCalled(t, "CreateOrder")
	})

	t.Run("Failure - stock reservation rejected in the transaction", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		m.cartRepo.On("GetByUserID", mock.Anything, userID).Return(cartWith(5), nil).Once()
		m.productRepo.On("ListProductsByIDs", mock.Anything, mock.Anything).Return([]models.Product{product}, nil).Once()
		m.orderRepo.On("CreateOrder", mock.Anything, mock.AnythingOfType("*models.Order")).
			Return(&repository.InsufficientStockError{ProductID: productID, Title: "Headphones", Available: 3}).Once()

		// Act
		order, err := orderService.PlaceOrder(ctx, userID, &models.PlaceOrderRequest{ShippingAddress: testAddress()})

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeInsufficientStock, appErr.Code)
		assert.Contains(t, appErr.Message, "Only 3 of 'Headphones' in stock")
		m.notifier.AssertNotCalled(t, "OrderPlaced")
	})
}

func TestPayFake(t *testing.T) {

	ctx := context.Background()
	userID := uuid.New()
	orderID := uuid.New()

	t.Run("Paying a pending online order moves it to placed", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		pending := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusPending,
			PaymentMethod: models.PaymentMethodOnline}
		paid := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusPlaced, IsPaid: true}

		m.orderRepo.On("GetOrderForUser", mock.Anything, orderID, userID).Return(pending, nil).Once()
		m.orderRepo.On("MarkPaid", mock.Anything, orderID, mock.MatchedBy(func(ref string) bool {
			return len(ref) > len("FAKEPAY_")
		}), true).Return(paid, nil).Once()

		// Act
		order, err := orderService.PayFake(ctx, userID, orderID, &models.PayOrderRequest{})

		// Assert
		assert.NoError(t, err)
		assert.True(t, order.IsPaid)
		assert.Equal(t, models.OrderStatusPlaced, order.Status)
		m.orderRepo.AssertExpectations(t)
	})

	t.Run("Caller-provided reference is kept", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		placed := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusPlaced,
			PaymentMethod: models.PaymentMethodOnline}
		paid := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusPlaced, IsPaid: true, PaymentRef: "UPI-123"}

		m.orderRepo.On("GetOrderForUser", mock.Anything, orderID, userID).Return(placed, nil).Once()
		m.orderRepo.On("MarkPaid", mock.Anything, orderID, "UPI-123", false).Return(paid, nil).Once()

		// Act
		order, err := orderService.PayFake(ctx, userID, orderID, &models.PayOrderRequest{PaymentRef: "UPI-123"})

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, "UPI-123", order.PaymentRef)
	})

	t.Run("Failure - already paid", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		placed := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusPlaced, IsPaid: true,
			PaymentMethod: models.PaymentMethodOnline}

		m.orderRepo.On("GetOrderForUser", mock.Anything, orderID, userID).Return(placed, nil).Once()
		m.orderRepo.On("MarkPaid", mock.Anything, orderID, mock.Anything, false).
			Return(nil, repository.ErrInvalidTransition).Once()

		// Act
		order, err := orderService.PayFake(ctx, userID, orderID, &models.PayOrderRequest{})

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeInvalidState, appErr.Code)
	})

	t.Run("Failure - cancelled order cannot be paid", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		cancelled := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusCancelled,
			PaymentMethod: models.PaymentMethodOnline}
		m.orderRepo.On("GetOrderForUser", mock.Anything, orderID, userID).Return(cancelled, nil).Once()

		// Act
		order, err := orderService.PayFake(ctx, userID, orderID, &models.PayOrderRequest{})

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeInvalidState, appErr.Code)
		m.orderRepo.AssertNotCalled(t, "MarkPaid")
	})

	t.Run("Failure - COD orders are settled by an admin, not paid online", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		cod := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusPlaced,
			PaymentMethod: models.PaymentMethodCOD}
		m.orderRepo.On("GetOrderForUser", mock.Anything, orderID, userID).Return(cod, nil).Once()

		// Act
		order, err := orderService.PayFake(ctx, userID, orderID, &models.PayOrderRequest{})

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeInvalidState, appErr.Code)
		m.orderRepo.AssertNotCalled(t, "MarkPaid")
	})

	t.Run("Failure - not the owner", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		m.orderRepo.On("GetOrderForUser", mock.Anything, orderID, userID).Return(nil, sql.ErrNoRows).Once()

		// Act
		order, err := orderService.PayFake(ctx, userID, orderID, &models.PayOrderRequest{})

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeNotFound, appErr.Code)
	})
}

func TestCancelOrder(t *testing.T) {

	ctx := context.Background()
	userID := uuid.New()
	orderID := uuid.New()

	t.Run("Success - cancellable states are pending and placed", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		placed := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusPlaced}
		cancelled := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusCancelled}

		m.orderRepo.On("GetOrderForUser", mock.Anything, orderID, userID).Return(placed, nil).Once()
		m.orderRepo.On("CancelOrder", mock.Anything, orderID,
			[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusPlaced}).
			Return(cancelled, nil).Once()
		m.notifier.On("OrderCancelled", mock.Anything, cancelled).Return().Once()

		// Act
		order, err := orderService.CancelOrder(ctx, userID, orderID)

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, models.OrderStatusCancelled, order.Status)
		m.orderRepo.AssertExpectations(t)
		m.notifier.AssertExpectations(t)
	})

	t.Run("Failure - shipped order can no longer be cancelled", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		shipped := &models.Order{ID: orderID, UserID: userID, Status: models.OrderStatusShipped}

		m.orderRepo.On("GetOrderForUser", mock.Anything, orderID, userID).Return(shipped, nil).Once()
		m.orderRepo.On("CancelOrder", mock.Anything, orderID, mock.Anything).
			Return(nil, repository.ErrInvalidTransition).Once()

		// Act
		order, err := orderService.CancelOrder(ctx, userID, orderID)

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeInvalidState, appErr.Code)
		m.notifier.AssertNotCalled(t, "OrderCancelled")
	})
}

func TestAdminCancel(t *testing.T) {

	ctx := context.Background()
	orderID := uuid.New()

	t.Run("Success - shipped order is still cancellable by an admin", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		cancelled := &models.Order{ID: orderID, Status: models.OrderStatusCancelled}

		m.orderRepo.On("CancelOrder", mock.Anything, orderID,
			[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusPlaced, models.OrderStatusShipped}).
			Return(cancelled, nil).Once()
		m.notifier.On("OrderCancelled", mock.Anything, cancelled).Return().Once()

		// Act
		order, err := orderService.AdminCancel(ctx, orderID)

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, models.OrderStatusCancelled, order.Status)
		m.orderRepo.AssertExpectations(t)
		m.notifier.AssertExpectations(t)
	})

	t.Run("Failure - repeated cancel does not restore stock twice", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		m.orderRepo.On("CancelOrder", mock.Anything, orderID, mock.Anything).
			Return(nil, repository.ErrInvalidTransition).Once()

		// Act
		order, err := orderService.AdminCancel(ctx, orderID)

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeInvalidState, appErr.Code)
		m.notifier.AssertNotCalled(t, "OrderCancelled")
	})

	t.Run("Failure - unknown order", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		m.orderRepo.On("CancelOrder", mock.Anything, orderID, mock.Anything).
			Return(nil, sql.ErrNoRows).Once()

		// Act
		order, err := orderService.AdminCancel(ctx, orderID)

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeNotFound, appErr.Code)
	})
}

func TestMarkPaid(t *testing.T) {

	ctx := context.Background()
	orderID := uuid.New()

	t.Run("Success - settles a placed COD order", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		placed := &models.Order{ID: orderID, Status: models.OrderStatusPlaced,
			PaymentMethod: models.PaymentMethodCOD}
		settled := &models.Order{ID: orderID, Status: models.OrderStatusPlaced,
			PaymentMethod: models.PaymentMethodCOD, IsPaid: true, PaymentRef: "COD"}

		m.orderRepo.On("GetOrderByID", mock.Anything, orderID).Return(placed, nil).Once()
		m.orderRepo.On("MarkPaid", mock.Anything, orderID, "COD", false).Return(settled, nil).Once()

		// Act
		order, err := orderService.MarkPaid(ctx, orderID)

		// Assert
		assert.NoError(t, err)
		assert.True(t, order.IsPaid)
		m.orderRepo.AssertExpectations(t)
	})

	t.Run("Success - a pending order moves to placed on settlement", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		pending := &models.Order{ID: orderID, Status: models.OrderStatusPending}
		settled := &models.Order{ID: orderID, Status: models.OrderStatusPlaced, IsPaid: true}

		m.orderRepo.On("GetOrderByID", mock.Anything, orderID).Return(pending, nil).Once()
		m.orderRepo.On("MarkPaid", mock.Anything, orderID, "COD", true).Return(settled, nil).Once()

		// Act
		order, err := orderService.MarkPaid(ctx, orderID)

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, models.OrderStatusPlaced, order.Status)
		m.orderRepo.AssertExpectations(t)
	})

	t.Run("Failure - already paid", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		placed := &models.Order{ID: orderID, Status: models.OrderStatusPlaced}

		m.orderRepo.On("GetOrderByID", mock.Anything, orderID).Return(placed, nil).Once()
		m.orderRepo.On("MarkPaid", mock.Anything, orderID, "COD", false).
			Return(nil, repository.ErrInvalidTransition).Once()

		// Act
		order, err := orderService.MarkPaid(ctx, orderID)

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeInvalidState, appErr.Code)
	})

	t.Run("Failure - cancelled order cannot be settled", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		cancelled := &models.Order{ID: orderID, Status: models.OrderStatusCancelled}

		m.orderRepo.On("GetOrderByID", mock.Anything, orderID).Return(cancelled, nil).Once()

		// Act
		order, err := orderService.MarkPaid(ctx, orderID)

		// Assert
		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeInvalidState, appErr.Code)
		m.orderRepo.AssertNotCalled(t, "MarkPaid")
	})
}

func TestSetStatus(t *testing.T) {

	ctx := context.Background()
	orderID := uuid.New()

	t.Run("Success - forward transition", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		placed := &models.Order{ID: orderID, Status: models.OrderStatusPlaced}
		shipped := &models.Order{ID: orderID, Status: models.OrderStatusShipped}

		m.orderRepo.On("GetOrderByID", mock.Anything, orderID).Return(placed, nil).Once()
		m.orderRepo.On("UpdateStatus", mock.Anything, orderID, models.OrderStatusShipped).Return(shipped, nil).Once()

		// Act
		order, err := orderService.SetStatus(ctx, orderID, models.OrderStatusShipped)

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, models.OrderStatusShipped, order.Status)
	})

	t.Run("Setting the current status is a no-op", func(t *testing.T) {
		// Arrange
		orderService, m := setupOrderServiceTest()

		placed := &models.Order{ID: orderID, Status: models.OrderStatusPlaced}
		m.orderRepo.On("GetOrderByID", mock.Anything, orderID).Return(placed, nil).Once()

		// Act
		order, err := orderService.SetStatus(ctx, orderID, models.OrderStatusPlaced)

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, placed, order)
		m.orderRepo.AssertNotCalled(t, "UpdateStatus")
	})

	t.Run("Failure - terminal states stay terminal", func(t *testing.T) {
		for _, terminal := range []models.OrderStatus{models.OrderStatusDelivered, models.OrderStatusCancelled} {
			// Arrange
			orderService, m := setupOrderServiceTest()

			current := &models.Order{ID: orderID, Status: terminal}
			m.orderRepo.On("GetOrderByID", mock.Anything, orderID).Return(current, nil).Once()

			// Act
			order, err := orderService.SetStatus(ctx, orderID, models.OrderStatusPlaced)

			// Assert
			assert.Nil(t, order)
			appErr, ok := appErrors.IsAppError(err)
			assert.True(t, ok)
			assert.Equal(t, appErrors.ErrCodeInvalidState, appErr.Code)
			m.orderRepo.AssertNotCalled(t, "UpdateStatus")
		}
	})

	t.Run("Failure - unknown status", func(t *testing.T) {
		orderService, m := setupOrderServiceTest()

		order, err := orderService.SetStatus(ctx, orderID, models.OrderStatus("returned"))

		assert.Nil(t, order)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeValidation, appErr.Code)
		m.orderRepo.AssertNotCalled(t, "GetOrderByID")
	})
}

// reservingOrderRepo is a stand-in whose CreateOrder enforces a shared stock
// pool atomically, mimicking the guarded decrement in the real transaction.
type reservingOrderRepo struct {
	mocks.OrderRepository

	mu    sync.Mutex
	stock map[uuid.UUID]int64
}

func (r *reservingOrderRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range order.Items {
		if r.stock[item.ProductID] < item.Quantity {
			return &repository.InsufficientStockError{
				ProductID: item.ProductID,
				Title:     item.Title,
				Available: r.stock[item.ProductID],
			}
		}
	}

	for _, item := range order.Items {
		r.stock[item.ProductID] -= item.Quantity
	}

	return nil
}

func TestPlaceOrder_ConcurrentPlacementsNeverOversell(t *testing.T) {

	productID := uuid.New()
	product := models.Product{ID: productID, Title: "Limited Edition", Price: 100, Stock: 1}

	orderRepo := &reservingOrderRepo{stock: map[uuid.UUID]int64{productID: 1}}
	cartRepo := new(mocks.CartRepository)
	productRepo := new(mocks.ProductRepository)
	couponRepo := new(mocks.CouponRepository)
	notifier := new(serviceMocks.Notifier)
	notifier.On("OrderPlaced", mock.Anything, mock.Anything).Return()

	userA := uuid.New()
	userB := uuid.New()

	for _, userID := range []uuid.UUID{userA, userB} {
		userID := userID
		cartRepo.On("GetByUserID", mock.Anything, userID).Return(&models.Cart{
			UserID: userID,
			Items:  map[string]models.CartItem{productID.String(): {ProductID: productID, Quantity: 1}},
		}, nil)
	}

	productRepo.On("ListProductsByIDs", mock.Anything, mock.Anything).Return([]models.Product{product}, nil)

	orderService := service.NewOrderService(orderRepo, cartRepo, productRepo, couponRepo,
		notifier, testPricing, utils.NewKeyedMutex())

	results := make(chan error, 2)

	var wg sync.WaitGroup
	for _, userID := range []uuid.UUID{userA, userB} {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := orderService.PlaceOrder(context.Background(), id,
				&models.PlaceOrderRequest{ShippingAddress: testAddress()})
			results <- err
		}(userID)
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		appErr, ok := appErrors.IsAppError(err)
		if assert.True(t, ok) {
			assert.Equal(t, appErrors.ErrCodeInsufficientStock, appErr.Code)
			conflicts++
		}
	}

	assert.Equal(t, 1, successes, "exactly one placement reserves the last unit")
	assert.Equal(t, 1, conflicts, "the other placement is rejected")
	assert.Zero(t, orderRepo.stock[productID])
}

func orderTestExpiry() time.Time {
	return time.Now().Add(24 * time.Hour)
}
