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

type OrderHandler struct {
	orderService service.OrderService
	validator    *validator.Validate
}

func NewOrderHandler(orderService service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService, validator: validator.New()}
}

func (h *OrderHandler) PlaceOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		var req models.PlaceOrderRequest
		if !utils.ParseAndValidate(r, w, &req, h.validator) {
			return
		}

		logger := middleware.LoggerFromContext(r.Context())

		order, err := h.orderService.PlaceOrder(r.Context(), claims.UserID, &req)
		if err != nil {
			logger.Warn("Order placement failed", slog.String("error", err.Error()))
			response.Error(w, err)
			return
		}

		logger.Info("Order placed",
			slog.String("orderId", order.ID.String()),
			slog.Int64("total", order.Total),
			slog.String("status", string(order.Status)))

		response.Success(w, http.StatusCreated, order)
	}
}

func (h *OrderHandler) GetOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		orderID, err := utils.ParseID(r, "id")
		if err != nil {
			response.Error(w, err)
			return
		}

		order, err := h.orderService.GetOrder(r.Context(), claims.UserID, orderID)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, order)
	}
}

func (h *OrderHandler) ListMyOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		page, pageSize := paginationParams(r)

		orders, total, err := h.orderService.ListMyOrders(r.Context(), claims.UserID, page, pageSize)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, models.PaginatedResponse{
			Data:     orders,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
		})
	}
}

func (h *OrderHandler) PayOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		orderID, err := utils.ParseID(r, "id")
		if err != nil {
			response.Error(w, err)
			return
		}

		// Body is optional; an empty one means a generated payment reference.
		var req models.PayOrderRequest
		if r.ContentLength > 0 {
			if !utils.ParseAndValidate(r, w, &req, h.validator) {
				return
			}
		}

		order, err := h.orderService.PayFake(r.Context(), claims.UserID, orderID, &req)
		if err != nil {
			response.Error(w, err)
			return
		}

		middleware.LoggerFromContext(r.Context()).Info("Order paid",
			slog.String("orderId", order.ID.String()),
			slog.String("paymentRef", order.PaymentRef))

		response.Success(w, http.StatusOK, order)
	}
}

func (h *OrderHandler) CancelOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		claims, ok := claimsFrom(w, r)
		if !ok {
			return
		}

		orderID, err := utils.ParseID(r, "id")
		if err != nil {
			response.Error(w, err)
			return
		}

		order, err := h.orderService.CancelOrder(r.Context(), claims.UserID, orderID)
		if err != nil {
			response.Error(w, err)
			return
		}

		middleware.LoggerFromContext(r.Context()).Info("Order cancelled",
			slog.String("orderId", order.ID.String()))

		response.Success(w, http.StatusOK, order)
	}
}

func (h *OrderHandler) ListAllOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		page, pageSize := paginationParams(r)

		orders, total, err := h.orderService.ListAllOrders(r.Context(), page, pageSize)
		if err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, models.PaginatedResponse{
			Data:     orders,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
		})
	}
}

func (h *OrderHandler) UpdateStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		orderID, err := utils.ParseID(r, "id")
		if err != nil {
			response.Error(w, err)
			return
		}

		var req models.UpdateOrderStatusRequest
		if !utils.ParseAndValidate(r, w, &req, h.validator) {
			return
		}

		order, err := h.orderService.SetStatus(r.Context(), orderID, req.Status)
		if err != nil {
			response.Error(w, err)
			return
		}

		middleware.LoggerFromContext(r.Context()).Info("Order status updated",
			slog.String("orderId", order.ID.String()),
			slog.String("status", string(order.Status)))

		response.Success(w, http.StatusOK, order)
	}
}

func (h *OrderHandler) MarkPaid() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		orderID, err := utils.ParseID(r, "id")
		if err != nil {
			response.Error(w, err)
			return
		}

		order, err := h.orderService.MarkPaid(r.Context(), orderID)
		if err != nil {
			response.Error(w, err)
			return
		}

		middleware.LoggerFromContext(r.Context()).Info("Order settled",
			slog.String("orderId", order.ID.String()))

		response.Success(w, http.StatusOK, order)
	}
}

func (h *OrderHandler) AdminCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		orderID, err := utils.ParseID(r, "id")
		if err != nil {
			response.Error(w, err)
			return
		}

		order, err := h.orderService.AdminCancel(r.Context(), orderID)
		if err != nil {
			response.Error(w, err)
			return
		}

		middleware.LoggerFromContext(r.Context()).Info("Order cancelled by admin",
			slog.String("orderId", order.ID.String()))

		response.Success(w, http.StatusOK, order)
	}
}
