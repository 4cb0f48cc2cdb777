package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
)

// ErrDuplicateReview maps the one-review-per-user-per-product constraint.
var ErrDuplicateReview = errors.New("user already reviewed this product")

type ReviewRepository interface {
	AddReview(ctx context.Context, review *models.Review) error
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.Review, error)
}

type reviewRepository struct {
	DB *sql.DB
}

func NewReviewRepo(db *sql.DB) ReviewRepository {
	return &reviewRepository{DB: db}
}

// AddReview inserts the review and folds its rating into the product's
// aggregates in the same transaction.
func (r *reviewRepository) AddReview(ctx context.Context, review *models.Review) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	tx, err := r.DB.BeginTx(dbCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO product_reviews (product_id, user_id, name, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err = tx.QueryRowContext(dbCtx, insert,
		review.ProductID, review.UserID, review.Name, review.Rating, review.Comment).
		Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReview
		}
		return fmt.Errorf("failed to insert review: %w", err)
	}

	aggregate := `
		UPDATE products
		SET rating_avg = (rating_avg * rating_count + $2) / (rating_count + 1),
			rating_count = rating_count + 1,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := tx.ExecContext(dbCtx, aggregate, review.ProductID, review.Rating)
	if err != nil {
		return fmt.Errorf("failed to update rating aggregates: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return sql.ErrNoRows
	}

	return tx.Commit()
}

func (r *reviewRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.Review, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, product_id, user_id, name, rating, comment, created_at
		FROM product_reviews
		WHERE product_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.DB.QueryContext(dbCtx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("querying reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review

	for rows.Next() {
		var review models.Review

		err := rows.Scan(&review.ID, &review.ProductID, &review.UserID, &review.Name,
			&review.Rating, &review.Comment, &review.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}

		reviews = append(reviews, review)
	}

	return reviews, rows.Err()
}
