package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	service "github.com/rohanverma-dev/kartify-backend/internal/services"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
	"github.com/rohanverma-dev/kartify-backend/internal/utils/response"
)

type WishlistHandler struct {
	wishlistService service.WishlistService
	validator       *validator.Validate
}

func NewWishlistHandler(wishlistService service.WishlistService) *WishlistHandler {
	return &WishlistHandler{wishlistService: wishlistService, validator: validator.New()}
}

func (h *WishlistHandler) GetWishlist() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		wishlist, err := h.wishlistService.GetWishlist(r.Context(), claims.UserID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, wishlist)
	}
}

func (h *WishlistHandler) AddToWishlist() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		var req models.AddWishlistRequest
		if !utils.ParseAndValidate(r, w, &req, h.validator) {
			return
		}

		wishlist, err := h.wishlistService.AddToWishlist(r.Context(), claims.UserID, req.ProductID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, wishlist)
	}
}

func (h *WishlistHandler) RemoveFromWishlist() http.HandlerFunc {
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

		wishlist, err := h.wishlistService.RemoveFromWishlist(r.Context(), claims.UserID, productID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, wishlist)
	}
}
