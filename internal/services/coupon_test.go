package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
	"github.com/rohanverma-dev/kartify-backend/internal/repositories/mocks"
	service "github.com/rohanverma-dev/kartify-backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestEvaluateCoupon(t *testing.T) {

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)

	t.Run("Percent discount rounds half up", func(t *testing.T) {
		coupon := &models.Coupon{Type: models.CouponTypePercent, Value: 10, Expiry: future}

		// 10% of 205 = 20.5, rounds to 21
		discount, err := service.EvaluateCoupon(coupon, 205, now)

		assert.NoError(t, err)
		assert.Equal(t, int64(21), discount)
	})

	t.Run("Percent discount capped at MaxDiscount", func(t *testing.T) {
		coupon := &models.Coupon{Type: models.CouponTypePercent, Value: 50, MaxDiscount: 100, Expiry: future}

		discount, err := service.EvaluateCoupon(coupon, 1000, now)

		assert.NoError(t, err)
		assert.Equal(t, int64(100), discount)
	})

	t.Run("Percent discount uncapped when MaxDiscount is zero", func(t *testing.T) {
		coupon := &models.Coupon{Type: models.CouponTypePercent, Value: 50, Expiry: future}

		discount, err := service.EvaluateCoupon(coupon, 1000, now)

		assert.NoError(t, err)
		assert.Equal(t, int64(500), discount)
	})

	t.Run("Flat discount never exceeds subtotal", func(t *testing.T) {
		coupon := &models.Coupon{Type: models.CouponTypeFlat, Value: 300, Expiry: future}

		discount, err := service.EvaluateCoupon(coupon, 200, now)

		assert.NoError(t, err)
		assert.Equal(t, int64(200), discount)
	})

	t.Run("Flat discount below subtotal applies in full", func(t *testing.T) {
		coupon := &models.Coupon{Type: models.CouponTypeFlat, Value: 50, Expiry: future}

		discount, err := service.EvaluateCoupon(coupon, 200, now)

		assert.NoError(t, err)
		assert.Equal(t, int64(50), discount)
	})

	t.Run("Expired coupon rejected before minimum order check", func(t *testing.T) {
		coupon := &models.Coupon{Type: models.CouponTypeFlat, Value: 50, MinOrder: 10000, Expiry: now.Add(-time.Minute)}

		_, err := service.EvaluateCoupon(coupon, 10, now)

		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeCouponExpired, appErr.Code)
	})

	t.Run("Minimum order not met", func(t *testing.T) {
		coupon := &models.Coupon{Type: models.CouponTypePercent, Value: 10, MinOrder: 500, Expiry: future}

		_, err := service.EvaluateCoupon(coupon, 499, now)

		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeCouponNotMet, appErr.Code)
	})

	t.Run("Subtotal exactly at minimum qualifies", func(t *testing.T) {
		coupon := &models.Coupon{Type: models.CouponTypePercent, Value: 10, MinOrder: 500, Expiry: future}

		discount, err := service.EvaluateCoupon(coupon, 500, now)

		assert.NoError(t, err)
		assert.Equal(t, int64(50), discount)
	})
}

func TestCreateCoupon(t *testing.T) {

	ctx := context.Background()

	req := &models.CreateCouponRequest{
		Code:   "save10",
		Type:   models.CouponTypePercent,
		Value:  10,
		Expiry: time.Now().Add(24 * time.Hour),
	}

	t.Run("Success - code stored uppercase", func(t *testing.T) {
		// Arrange
		mockRepo := new(mocks.CouponRepository)
		couponService := service.NewCouponService(mockRepo)

		mockRepo.On("CreateCoupon", mock.Anything, mock.MatchedBy(func(c *models.Coupon) bool {
			return c.Code == "SAVE10" && c.Type == models.CouponTypePercent
		})).Return(nil).Once()

		// Act
		coupon, err := couponService.CreateCoupon(ctx, req)

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, "SAVE10", coupon.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Failure - duplicate code", func(t *testing.T) {
		// Arrange
		mockRepo := new(mocks.CouponRepository)
		couponService := service.NewCouponService(mockRepo)

		mockRepo.On("CreateCoupon", mock.Anything, mock.AnythingOfType("*models.Coupon")).
			Return(repository.ErrDuplicateCoupon).Once()

		// Act
		coupon, err := couponService.CreateCoupon(ctx, req)

		// Assert
		assert.Nil(t, coupon)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeDuplicateEntry, appErr.Code)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Failure - database error", func(t *testing.T) {
		// Arrange
		mockRepo := new(mocks.CouponRepository)
		couponService := service.NewCouponService(mockRepo)

		mockErr := errors.New("connection refused")
		mockRepo.On("CreateCoupon", mock.Anything, mock.AnythingOfType("*models.Coupon")).
			Return(mockErr).Once()

		// Act
		coupon, err := couponService.CreateCoupon(ctx, req)

		// Assert
		assert.Nil(t, coupon)
		appErr, ok := appErrors.IsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, appErrors.ErrCodeDatabaseError, appErr.Code)
		assert.ErrorIs(t, appErr.Unwrap(), mockErr)
		mockRepo.AssertExpectations(t)
	})
}
