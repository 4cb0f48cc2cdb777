package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rohanverma-dev/kartify-backend/internal/api/middleware"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	service "github.com/rohanverma-dev/kartify-backend/internal/services"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
	"github.com/rohanverma-dev/kartify-backend/internal/utils/response"
)

type CartHandler struct {
	cartService service.CartService
	validator   *validator.Validate
}

func NewCartHandler(cartService service.CartService) *CartHandler {
	return &CartHandler{cartService: cartService, validator: validator.New()}
}

func (h *CartHandler) GetCart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		cart, err := h.cartService.GetCart(r.Context(), claims.UserID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, cart)
	}
}

func (h *CartHandler) AddItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		var req models.AddItemRequest
		if !utils.ParseAndValidate(r, w, &req, h.validator) {
			return
		}

		cart, err := h.cartService.AddItem(r.Context(), claims.UserID, &req)
		if err != nil {
			middleware.LoggerFromContext(r.Context()).Warn("Failed to add cart item",
				slog.String("productId", req.ProductID.String()), slog.String("error", err.Error()))
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, cart)
	}
}

func (h *CartHandler) UpdateQuantity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		productID, err := utils.ParseID(r, "productId")
		if err != nil {
			response.Error(w, err)
			return
		}

		var req models.UpdateQuantityRequest
		if !utils.ParseAndValidate(r, w, &req, h.validator) {
			return
		}

		cart, err := h.cartService.UpdateQuantity(r.Context(), claims.UserID, productID, req.Quantity)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, cart)
	}
}

func (h *CartHandler) RemoveItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		productID, err := utils.ParseID(r, "productId")
		if err != nil {
			response.Error(w, err)
			return
		}

		cart, err := h.cartService.RemoveItem(r.Context(), claims.UserID, productID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, cart)
	}
}

func (h *CartHandler) ClearCart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		cart, err := h.cartService.ClearCart(r.Context(), claims.UserID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, cart)
	}
}

func (h *CartHandler) ApplyCoupon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		var req models.ApplyCouponRequest
		if !utils.ParseAndValidate(r, w, &req, h.validator) {
			return
		}

		cart, err := h.cartService.ApplyCoupon(r.Context(), claims.UserID, req.Code)
		if err != nil {
			middleware.LoggerFromContext(r.Context()).Warn("Coupon rejected",
				slog.String("code", req.Code), slog.String("error", err.Error()))
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, cart)
	}
}

func (h *CartHandler) RemoveCoupon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		cart, err := h.cartService.RemoveCoupon(r.Context(), claims.UserID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, cart)
	}
}
