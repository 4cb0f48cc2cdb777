package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code       string
	Message    string
	Detail     string
	StatusCode int
	Err        error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail

	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err

	return e
}

const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeDatabaseError     = "DATABASE_ERROR"
	ErrCodeDuplicateEntry    = "DUPLICATE_ENTRY"
	ErrCodeEmptyCart         = "EMPTY_CART"
	ErrCodeInsufficientStock = "INSUFFICIENT_STOCK"
	ErrCodeCouponExpired     = "COUPON_EXPIRED"
	ErrCodeCouponNotMet      = "COUPON_MIN_ORDER_NOT_MET"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeThirdPartyError   = "THIRD_PARTY_ERROR"
)

func ValidationError(message string) *AppError {
	return NewAppError(ErrCodeValidation, message, http.StatusBadRequest)
}

func BadRequestError(message string) *AppError {
	return NewAppError(ErrCodeBadRequest, message, http.StatusBadRequest)
}

func NotFoundError(message string) *AppError {
	return NewAppError(ErrCodeNotFound, message, http.StatusNotFound)
}

func UnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func ForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func InternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(message string) *AppError {
	return NewAppError(ErrCodeDatabaseError, message, http.StatusInternalServerError)
}

func DuplicateEntryError(message string) *AppError {
	return NewAppError(ErrCodeDuplicateEntry, message, http.StatusConflict)
}

func EmptyCartError(message string) *AppError {
	return NewAppError(ErrCodeEmptyCart, message, http.StatusBadRequest)
}

// InsufficientStockError carries the remaining stock so the caller can act on it.
func InsufficientStockError(productName string, available int64) *AppError {
	return NewAppError(ErrCodeInsufficientStock,
		fmt.Sprintf("Only %d of '%s' in stock", available, productName),
		http.StatusConflict)
}

func CouponExpiredError(message string) *AppError {
	return NewAppError(ErrCodeCouponExpired, message, http.StatusBadRequest)
}

func CouponNotMetError(minOrder int64) *AppError {
	return NewAppError(ErrCodeCouponNotMet,
		fmt.Sprintf("Minimum order must be %d to use this coupon", minOrder),
		http.StatusBadRequest)
}

func InvalidStateError(message string) *AppError {
	return NewAppError(ErrCodeInvalidState, message, http.StatusConflict)
}

func ThirdPartyError(message string) *AppError {
	return NewAppError(ErrCodeThirdPartyError, message, http.StatusInternalServerError)
}

func IsAppError(err error) (*AppError, bool) {
	var appError *AppError

	if errors.As(err, &appError) {
		return appError, true
	}

	return nil, false
}
