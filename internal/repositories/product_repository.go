package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
)

// InsufficientStockError reports how much stock was left when a guarded
// decrement failed.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Title     string
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: %d available", e.ProductID, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type ProductRepository interface {
	CreateProduct(ctx context.Context, product *models.Product) error
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	UpdateProduct(ctx context.Context, product *models.Product) error
	ListProducts(ctx context.Context, page, pageSize int) ([]*models.Product, int, error)
	ListProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	ListTopRated(ctx context.Context, limit int) ([]*models.Product, error)
	DecrementStock(ctx context.Context, id uuid.UUID, qty int64) error
	RestoreStock(ctx context.Context, id uuid.UUID, qty int64) error
}

type productRepository struct {
	DB *sql.DB
}

func NewProductRepo(db *sql.DB) ProductRepository {
	return &productRepository{DB: db}
}

const productColumns = `id, title, description, category, price, stock, images, rating_avg, rating_count, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	product := &models.Product{}

	err := row.Scan(&product.ID, &product.Title, &product.Description, &product.Category,
		&product.Price, &product.Stock, pq.Array(&product.Images),
		&product.RatingAvg, &product.RatingCount, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return product, nil
}

func (r *productRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO products (title, description, category, price, stock, images)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	return r.DB.QueryRowContext(dbCtx, query,
		product.Title, product.Description, product.Category,
		product.Price, product.Stock, pq.Array(product.Images)).
		Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
}

func (r *productRepository) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(r.DB.QueryRowContext(dbCtx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("querying product: %w", err)
	}

	return product, nil
}

func (r *productRepository) UpdateProduct(ctx context.Context, product *models.Product) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		UPDATE products
		SET title = $1, description = $2, category = $3, price = $4, stock = $5, images = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at
	`

	err := r.DB.QueryRowContext(dbCtx, query,
		product.Title, product.Description, product.Category,
		product.Price, product.Stock, pq.Array(product.Images), product.ID).
		Scan(&product.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("failed to update product: %w", err)
	}

	return nil
}

func (r *productRepository) ListProducts(ctx context.Context, page, pageSize int) ([]*models.Product, int, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	var total int
	if err := r.DB.QueryRowContext(dbCtx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}

	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.DB.QueryContext(dbCtx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, product)
	}

	return products, total, rows.Err()
}

func (r *productRepository) ListProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	rows, err := r.DB.QueryContext(dbCtx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("querying products by ids: %w", err)
	}
	defer rows.Close()

	var products []models.Product

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, *product)
	}

	return products, rows.Err()
}

func (r *productRepository) ListTopRated(ctx context.Context, limit int) ([]*models.Product, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY rating_avg DESC
		LIMIT $1
	`

	rows, err := r.DB.QueryContext(dbCtx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top rated products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, product)
	}

	return products, rows.Err()
}

// stockDecrementQuery only matches when enough stock remains, which makes the
// decrement atomic per product. Shared with the order placement transaction.
const stockDecrementQuery = `
	UPDATE products
	SET stock = stock - $1, updated_at = NOW()
	WHERE id = $2 AND stock >= $1
`

const stockRestoreQuery = `
	UPDATE products
	SET stock = stock + $1, updated_at = NOW()
	WHERE id = $2
`

func (r *productRepository) DecrementStock(ctx context.Context, id uuid.UUID, qty int64) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	result, err := r.DB.ExecContext(dbCtx, stockDecrementQuery, qty, id)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return stockShortfall(dbCtx, r.DB, id)
	}

	return nil
}

func (r *productRepository) RestoreStock(ctx context.Context, id uuid.UUID, qty int64) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	result, err := r.DB.ExecContext(dbCtx, stockRestoreQuery, qty, id)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// stockShortfall distinguishes "product missing" from "not enough stock" and
// reports what is left.
func stockShortfall(ctx context.Context, q queryRower, id uuid.UUID) error {

	var title string
	var available int64

	err := q.QueryRowContext(ctx, `SELECT title, stock FROM products WHERE id = $1`, id).Scan(&title, &available)
	if err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("querying remaining stock: %w", err)
	}

	return &InsufficientStockError{ProductID: id, Title: title, Available: available}
}
