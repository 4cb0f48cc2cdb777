package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rohanverma-dev/kartify-backend/internal/cache"
	appErrors "github.com/rohanverma-dev/kartify-backend/internal/errors"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
)

const recommendationLimit = 5

type ProductService interface {
	CreateProduct(ctx context.Context, req *models.CreateProductRequest) (*models.Product, error)
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, req *models.UpdateProductRequest) (*models.Product, error)
	ListProducts(ctx context.Context, page, pageSize int) ([]*models.Product, int, error)
	Recommend(ctx context.Context) ([]*models.Product, error)
}

type productService struct {
	repo   repository.ProductRepository
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewProductService(repo repository.ProductRepository, c cache.Cache, ttl time.Duration, logger *slog.Logger) ProductService {
	return &productService{repo: repo, cache: c, ttl: ttl, logger: logger}
}

func (s *productService) CreateProduct(ctx context.Context, req *models.CreateProductRequest) (*models.Product, error) {

	product := &models.Product{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
		Images:      req.Images,
	}

	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return nil, appErrors.DatabaseError("Failed to create product").WithError(err)
	}

	return product, nil
}

// GetProductByID reads through the cache. Cache failures degrade to the
// database rather than failing the request.
func (s *productService) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {

	key := cache.Key(cache.ProductKeyPrefix, id.String())

	var cached models.Product

	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("Product cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	if hit {
		return &cached, nil
	}

	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Product not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch product").WithError(err)
	}

	if err := s.cache.Set(ctx, key, product, s.ttl); err != nil {
		s.logger.Warn("Product cache write failed", slog.String("key", key), slog.Any("error", err))
	}

	return product, nil
}

func (s *productService) UpdateProduct(ctx context.Context, id uuid.UUID, req *models.UpdateProductRequest) (*models.Product, error) {

	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFoundError("Product not found")
		}
		return nil, appErrors.DatabaseError("Failed to fetch product").WithError(err)
	}

	if req.Title != nil {
		product.Title = *req.Title
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.Category != nil {
		product.Category = *req.Category
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.Stock != nil {
		product.Stock = *req.Stock
	}
	if req.Images != nil {
		product.Images = *req.Images
	}

	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return nil, appErrors.DatabaseError("Failed to update product").WithError(err)
	}

	s.invalidate(ctx, id)

	return product, nil
}

func (s *productService) ListProducts(ctx context.Context, page, pageSize int) ([]*models.Product, int, error) {

	page, pageSize = clampPage(page, pageSize)

	products, total, err := s.repo.ListProducts(ctx, page, pageSize)
	if err != nil {
		return nil, 0, appErrors.DatabaseError("Failed to fetch products").WithError(err)
	}

	return products, total, nil
}

// Recommend returns the highest rated products in stock.
func (s *productService) Recommend(ctx context.Context) ([]*models.Product, error) {

	products, err := s.repo.ListTopRated(ctx, recommendationLimit)
	if err != nil {
		return nil, appErrors.DatabaseError("Failed to fetch recommendations").WithError(err)
	}

	return products, nil
}

func (s *productService) invalidate(ctx context.Context, id uuid.UUID) {

	key := cache.Key(cache.ProductKeyPrefix, id.String())

	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("Product cache invalidation failed", slog.String("key", key), slog.Any("error", err))
	}
}
