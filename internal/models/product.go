package models

import (
	"time"

	"github.com/google/uuid"
)

// Product prices and all derived amounts are whole currency units.
type Product struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Price       int64     `json:"price"`
	Stock       int64     `json:"stock"`
	Images      []string  `json:"images"`
	RatingAvg   float64   `json:"rating_avg"`
	RatingCount int       `json:"rating_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateProductRequest struct {
	Title       string   `json:"title" validate:"required,min=3,max=200"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category" validate:"required"`
	Price       int64    `json:"price" validate:"required,gte=0"`
	Stock       int64    `json:"stock" validate:"gte=0"`
	Images      []string `json:"images,omitempty"`
}

type UpdateProductRequest struct {
	Title       *string   `json:"title,omitempty" validate:"omitempty,min=3,max=200"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Price       *int64    `json:"price,omitempty" validate:"omitempty,gte=0"`
	Stock       *int64    `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Images      *[]string `json:"images,omitempty"`
}

type Review struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type AddReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

type ReviewsResponse struct {
	RatingAvg   float64  `json:"rating_avg"`
	RatingCount int      `json:"rating_count"`
	Reviews     []Review `json:"reviews"`
}
