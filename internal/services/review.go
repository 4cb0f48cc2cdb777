package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rohanverma-dev/kartify-backend/internal/cache"
	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
)

type ReviewService interface {
	AddReview(ctx context.Context, userID uuid.UUID, userName string, productID uuid.UUID, req *models.AddReviewRequest) (*models.Review, error)
	ListReviews(ctx context.Context, productID uuid.UUID) (*models.ReviewsResponse, error)
}

type reviewService struct {
	reviewRepo  repository.ReviewRepository
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	cache       cache.Cache
	sanitizer   *bluemonday.Policy
	logger      *slog.Logger
}

func NewReviewService(reviewRepo repository.ReviewRepository, orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository, c cache.Cache, logger *slog.Logger) ReviewService {
	return &reviewService{
		reviewRepo:  reviewRepo,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		cache:       c,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger,
	}
}

// AddReview accepts a review only from a user with a delivered order that
// contains the product, and at most one review per user per product.
func (s *reviewService) AddReview(ctx context.Context, userID uuid.UUID, userName string, productID uuid.UUID, req *models.AddReviewRequest) (*models.Review, error) {

	if _, err := s.productRepo.GetProductByID(ctx, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Product not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch product").WithError(err)
	}

	delivered, err := s.orderRepo.HasDeliveredProduct(ctx, userID, productID)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to check purchase history").WithError(err)
	}

	if !delivered {
		return nil, appErrors.ForbiddenError("Only buyers with a delivered order can review this product")
	}

	review := &models.Review{
		ProductID: productID,
		UserID:    userID,
		Name:      userName,
		Rating:    req.Rating,
		Comment:   strings.TrimSpace(s.sanitizer.Sanitize(req.Comment)),
	}

	if err := s.reviewRepo.AddReview(ctx, review); err != nil {
		if errors.Is(err, repository.ErrDuplicateReview) {
			return nil, appErrors.BadRequestError("You have already reviewed this product")
		}
		return nil, appErrors.DatabaseError("Failed to add review").WithError(err)
	}

	// The review changed the product's rating aggregates.
	key := cache.Key(cache.ProductKeyPrefix, productID.String())
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("Product cache invalidation failed", slog.String("key", key), slog.Any("error", err))
	}

	return review, nil
}

func (s *reviewService) ListReviews(ctx context.Context, productID uuid.UUID) (*models.ReviewsResponse, error) {

	product, err := s.productRepo.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Product not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch product").WithError(err)
	}

	reviews, err := s.reviewRepo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to fetch reviews").WithError(err)
	}

	return &models.ReviewsResponse{
		RatingAvg:   product.RatingAvg,
		RatingCount: product.RatingCount,
		Reviews:     reviews,
	}, nil
}
