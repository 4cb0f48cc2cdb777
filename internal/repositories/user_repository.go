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

type UserRepository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	AddToWishlist(ctx context.Context, userID, productID uuid.UUID) error
	RemoveFromWishlist(ctx context.Context, userID, productID uuid.UUID) error
}

type userRepository struct {
	DB *sql.DB
}

func NewUserRepo(db *sql.DB) UserRepository {
	return &userRepository{DB: db}
}

func (r *userRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, name, email, role, wishlist, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user := &models.User{}

	var wishlist []string

	err := r.DB.QueryRowContext(dbCtx, query, id).
		Scan(&user.ID, &user.Name, &user.Email, &user.Role, pq.Array(&wishlist), &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}

	for _, raw := range wishlist {
		productID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid wishlist entry %q: %w", raw, err)
		}
		user.Wishlist = append(user.Wishlist, productID)
	}

	return user, nil
}

func (r *userRepository) AddToWishlist(ctx context.Context, userID, productID uuid.UUID) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		UPDATE users
		SET wishlist = array_append(wishlist, $2), updated_at = NOW()
		WHERE id = $1 AND NOT ($2 = ANY(wishlist))
	`

	result, err := r.DB.ExecContext(dbCtx, query, userID, productID.String())
	if err != nil {
		return fmt.Errorf("failed to add to wishlist: %w", err)
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

func (r *userRepository) RemoveFromWishlist(ctx context.Context, userID, productID uuid.UUID) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		UPDATE users
		SET wishlist = array_remove(wishlist, $2), updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.DB.ExecContext(dbCtx, query, userID, productID.String())
	if err != nil {
		return fmt.Errorf("failed to remove from wishlist: %w", err)
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
