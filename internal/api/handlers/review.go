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

type ReviewHandler struct {
	reviewService service.ReviewService
	validator     *validator.Validate
}

func NewReviewHandler(reviewService service.ReviewService) *ReviewHandler {
	return &ReviewHandler{reviewService: reviewService, validator: validator.New()}
}

func (h *ReviewHandler) AddReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		productID, err := utils.ParseID(r, "id")
		if err != nil {
			response.Error(w, err)
			return
		}

		var req models.AddReviewRequest
		if !utils.ParseAndValidate(r, w, &req, h.validator) {
			return
		}

		review, err := h.reviewService.AddReview(r.Context(), claims.UserID, claims.Name, productID, &req)
		if err != nil {
			middleware.LoggerFromContext(r.Context()).Warn("Review rejected",
				slog.String("productId", productID.String()), slog.String("error", err.Error()))
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusCreated, review)
	}
}

func (h *ReviewHandler) ListReviews() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		productID, err := utils.ParseID(r, "id")
		if err != nil {
			response.Error(w, err)
			return
		}

		reviews, err := h.reviewService.ListReviews(r.Context(), productID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, reviews)
	}
}
