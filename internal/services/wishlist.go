package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
)

type WishlistService interface {
	GetWishlist(ctx context.Context, userID uuid.UUID) (*models.WishlistResponse, error)
	AddToWishlist(ctx context.Context, userID, productID uuid.UUID) (*models.WishlistResponse, error)
	RemoveFromWishlist(ctx context.Context, userID, productID uuid.UUID) (*models.WishlistResponse, error)
}

type wishlistService struct {
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
}

func NewWishlistService(userRepo repository.UserRepository, productRepo repository.ProductRepository) WishlistService {
	return &wishlistService{userRepo: userRepo, productRepo: productRepo}
}

func (s *wishlistService) GetWishlist(ctx context.Context, userID uuid.UUID) (*models.WishlistResponse, error) {
	return s.buildResponse(ctx, userID)
}

func (s *wishlistService) AddToWishlist(ctx context.Context, userID, productID uuid.UUID) (*models.WishlistResponse, error) {

	if _, err := s.productRepo.GetProductByID(ctx, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Product not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch product").WithError(err)
	}

	err := s.userRepo.AddToWishlist(ctx, userID, productID)
	// Already wishlisted is not an error; adding is idempotent.
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.DatabaseError("Failed to update wishlist").WithError(err)
	}

	return s.buildResponse(ctx, userID)
}

func (s *wishlistService) RemoveFromWishlist(ctx context.Context, userID, productID uuid.UUID) (*models.WishlistResponse, error) {

	err := s.userRepo.RemoveFromWishlist(ctx, userID, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("User not found")
		}
		return nil, appErrors.DatabaseError("Failed to update wishlist").WithError(err)
	}

	return s.buildResponse(ctx, userID)
}

// buildResponse resolves wishlist entries against the live catalog; deleted
// products drop out of the response.
func (s *wishlistService) buildResponse(ctx context.Context, userID uuid.UUID) (*models.WishlistResponse, error) {

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("User not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch user").WithError(err)
	}

	products, err := s.productRepo.ListProductsByIDs(ctx, user.Wishlist)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to fetch wishlist products").WithError(err)
	}

	if products == nil {
		products = []models.Product{}
	}

	return &models.WishlistResponse{Count: len(products), Wishlist: products}, nil
}
