package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
)

type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification *models.Notification) error
}

type notificationRepository struct {
	DB *sql.DB
}

func NewNotificationRepo(db *sql.DB) NotificationRepository {
	return &notificationRepository{DB: db}
}

func (r *notificationRepository) CreateNotification(ctx context.Context, notification *models.Notification) error {
	dbCtx, cancel := utils.WithDBTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO notifications (user_id, order_id, type, recipient, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.DB.QueryRowContext(dbCtx, query,
		notification.UserID, notification.OrderID, notification.Type,
		notification.Recipient, notification.Subject, notification.Status).
		Scan(&notification.ID, &notification.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	return nil
}
