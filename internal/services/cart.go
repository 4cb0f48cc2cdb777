package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
)

type CartService interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*models.CartView, error)
	AddItem(ctx context.Context, userID uuid.UUID, req *models.AddItemRequest) (*models.CartView, error)
	UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int64) (*models.CartView, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*models.CartView, error)
	ClearCart(ctx context.Context, userID uuid.UUID) (*models.CartView, error)
	ApplyCoupon(ctx context.Context, userID uuid.UUID, code string) (*models.CartView, error)
	RemoveCoupon(ctx context.Context, userID uuid.UUID) (*models.CartView, error)
}

type cartService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	couponRepo  repository.CouponRepository
	locks       *utils.KeyedMutex
}

// NewCartService wires the cart store. The KeyedMutex must be shared with the
// order service so that cart mutation and order placement for the same user
// are serialized against each other.
func NewCartService(cartRepo repository.CartRepository, productRepo repository.ProductRepository,
	couponRepo repository.CouponRepository, locks *utils.KeyedMutex) CartService {
	return &cartService{cartRepo: cartRepo, productRepo: productRepo, couponRepo: couponRepo, locks: locks}
}

func (s *cartService) GetCart(ctx context.Context, userID uuid.UUID) (*models.CartView, error) {

	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	cart, err := s.cartRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to load cart").WithError(err)
	}

	return s.buildView(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, userID uuid.UUID, req *models.AddItemRequest) (*models.CartView, error) {

	if req.Quantity < 1 {
		return nil, appErrors.ValidationError("Quantity must be an integer >= 1")
	}

	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	product, err := s.productRepo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Product not found")
		}
		return nil, appErrors.DatabaseError("Failed to load product").WithError(err)
	}

	cart, err := s.cartRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to load cart").WithError(err)
	}

	key := req.ProductID.String()

	newQty := req.Quantity
	if existing, ok := cart.Items[key]; ok {
		newQty += existing.Quantity
	}

	// Advisory check against current stock; the authoritative one happens
	// inside the placement transaction.
	if newQty > product.Stock {
		return nil, appErrors.InsufficientStockError(product.Title, product.Stock)
	}

	cart.Items[key] = models.CartItem{ProductID: req.ProductID, Quantity: newQty}

	return s.saveAndView(ctx, cart)
}

func (s *cartService) UpdateQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int64) (*models.CartView, error) {

	if quantity < 1 {
		return nil, appErrors.ValidationError("Quantity must be an integer >= 1")
	}

	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	product, err := s.productRepo.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Product not found")
		}
		return nil, appErrors.DatabaseError("Failed to load product").WithError(err)
	}

	if quantity > product.Stock {
		return nil, appErrors.InsufficientStockError(product.Title, product.Stock)
	}

	cart, err := s.cartRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to load cart").WithError(err)
	}

	key := productID.String()

	if _, ok := cart.Items[key]; !ok {
		return nil, appErrors.NotFoundError("Item not in cart")
	}

	cart.Items[key] = models.CartItem{ProductID: productID, Quantity: quantity}

	return s.saveAndView(ctx, cart)
}

func (s *cartService) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*models.CartView, error) {

	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	cart, err := s.cartRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to load cart").WithError(err)
	}

	key := productID.String()

	if _, ok := cart.Items[key]; !ok {
		return nil, appErrors.NotFoundError("Item not in cart")
	}

	delete(cart.Items, key)

	return s.saveAndView(ctx, cart)
}

func (s *cartService) ClearCart(ctx context.Context, userID uuid.UUID) (*models.CartView, error) {

	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	cart, err := s.cartRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to load cart").WithError(err)
	}

	cart.Items = make(map[string]models.CartItem)
	cart.Coupon = models.CouponSlot{}

	return s.saveAndView(ctx, cart)
}

func (s *cartService) ApplyCoupon(ctx context.Context, userID uuid.UUID, code string) (*models.CartView, error) {

	if strings.TrimSpace(code) == "" {
		return nil, appErrors.ValidationError("Coupon code is required")
	}

	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	coupon, err := s.couponRepo.GetActiveByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Invalid coupon")
		}
		return nil, appErrors.DatabaseError("Failed to load coupon").WithError(err)
	}

	cart, err := s.cartRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to load cart").WithError(err)
	}

	lines, err := s.computeLines(ctx, cart)
	if err != nil {
		return nil, err
	}

	// Evaluation failures leave the previously applied coupon untouched.
	discount, err := EvaluateCoupon(coupon, lines.subtotal, time.Now())
	if err != nil {
		return nil, err
	}

	cart.Coupon = models.CouponSlot{Code: coupon.Code, Discount: discount}

	if err := s.cartRepo.UpdateCart(ctx, cart); err != nil {
		return nil, appErrors.DatabaseError("Failed to update cart").WithError(err)
	}

	return viewFrom(cart, lines), nil
}

func (s *cartService) RemoveCoupon(ctx context.Context, userID uuid.UUID) (*models.CartView, error) {

	s.locks.Lock(userID.String())
	defer s.locks.Unlock(userID.String())

	cart, err := s.cartRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Cart not found")
		}
		return nil, appErrors.DatabaseError("Failed to load cart").WithError(err)
	}

	cart.Coupon = models.CouponSlot{}

	return s.saveAndView(ctx, cart)
}

// cartLines is the priced expansion of a cart's items.
type cartLines struct {
	lines      []models.CartLine
	subtotal   int64
	countItems int64
}

// computeLines resolves every cart item against the live catalog. Items whose
// product has disappeared are dropped from the view, matching how the cart is
// priced at placement.
func (s *cartService) computeLines(ctx context.Context, cart *models.Cart) (*cartLines, error) {

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := s.productRepo.ListProductsByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to load cart products").WithError(err)
	}

	byID := make(map[string]models.Product, len(products))
	for _, product := range products {
		byID[product.ID.String()] = product
	}

	result := &cartLines{}

	for key, item := range cart.Items {
		product, ok := byID[key]
		if !ok {
			continue
		}

		itemTotal := product.Price * item.Quantity

		result.lines = append(result.lines, models.CartLine{
			Product: models.CartProduct{
				ID:       product.ID,
				Title:    product.Title,
				Category: product.Category,
				Price:    product.Price,
				Stock:    product.Stock,
				Images:   product.Images,
			},
			Quantity:  item.Quantity,
			ItemTotal: itemTotal,
		})

		result.subtotal += itemTotal
		result.countItems += item.Quantity
	}

	sort.Slice(result.lines, func(i, j int) bool {
		return result.lines[i].Product.ID.String() < result.lines[j].Product.ID.String()
	})

	return result, nil
}

// buildView derives the response without persisting anything.
func (s *cartService) buildView(ctx context.Context, cart *models.Cart) (*models.CartView, error) {

	lines, err := s.computeLines(ctx, cart)
	if err != nil {
		return nil, err
	}

	return viewFrom(cart, lines), nil
}

// saveAndView re-derives totals, refreshes the coupon against the live
// subtotal, persists and returns the view. The coupon slot is force-cleared
// whenever the item set is empty.
func (s *cartService) saveAndView(ctx context.Context, cart *models.Cart) (*models.CartView, error) {

	lines, err := s.computeLines(ctx, cart)
	if err != nil {
		return nil, err
	}

	if len(cart.Items) == 0 {
		cart.Coupon = models.CouponSlot{}
	} else if cart.Coupon.Code != "" {
		s.refreshCoupon(ctx, cart, lines.subtotal)
	}

	if err := s.cartRepo.UpdateCart(ctx, cart); err != nil {
		return nil, appErrors.DatabaseError("Failed to update cart").WithError(err)
	}

	return viewFrom(cart, lines), nil
}

// refreshCoupon re-evaluates the applied coupon against the current subtotal
// so the stored discount never goes stale. A coupon that no longer qualifies
// (expired, deactivated, minimum no longer met) is dropped from the cart.
func (s *cartService) refreshCoupon(ctx context.Context, cart *models.Cart, subtotal int64) {

	coupon, err := s.couponRepo.GetActiveByCode(ctx, cart.Coupon.Code)
	if err != nil {
		cart.Coupon = models.CouponSlot{}
		return
	}

	discount, err := EvaluateCoupon(coupon, subtotal, time.Now())
	if err != nil {
		cart.Coupon = models.CouponSlot{}
		return
	}

	cart.Coupon.Discount = discount
}

func viewFrom(cart *models.Cart, lines *cartLines) *models.CartView {

	finalTotal := lines.subtotal - cart.Coupon.Discount
	if finalTotal < 0 {
		finalTotal = 0
	}

	return &models.CartView{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Items:      lines.lines,
		Subtotal:   lines.subtotal,
		CountItems: lines.countItems,
		Coupon:     cart.Coupon,
		Discount:   cart.Coupon.Discount,
		FinalTotal: finalTotal,
		UpdatedAt:  cart.UpdatedAt,
	}
}
