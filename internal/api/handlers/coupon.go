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

type CouponHandler struct {
	couponService service.CouponService
	validator     *validator.Validate
}

func NewCouponHandler(couponService service.CouponService) *CouponHandler {
	return &CouponHandler{couponService: couponService, validator: validator.New()}
}

func (h *CouponHandler) CreateCoupon() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		var req models.CreateCouponRequest
		if !utils.ParseAndValidate(r, w, &req, h.validator) {
			return
		}

		coupon, err := h.couponService.CreateCoupon(r.Context(), &req)
		if err != nil {
			response.Error(w, err)
			return
		}

		middleware.LoggerFromContext(r.Context()).Info("Coupon created",
			slog.String("code", coupon.Code))

		response.Success(w, http.StatusCreated, coupon)
	}
}

func (h *CouponHandler) ListCoupons() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		coupons, err := h.couponService.ListActiveCoupons(r.Context())
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, coupons)
	}
}
