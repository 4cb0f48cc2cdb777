package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rohanverma-dev/kartify-backend/internal/models"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
	"github.com/rohanverma-dev/kartify-backend/pkg/sendgrid"
)

// Notifier delivers order lifecycle emails. Callers treat delivery as best
// effort: a failed email never fails the order operation that triggered it.
type Notifier interface {
	OrderPlaced(ctx context.Context, order *models.Order)
	OrderCancelled(ctx context.Context, order *models.Order)
}

type notificationService struct {
	repo     repository.NotificationRepository
	userRepo repository.UserRepository
	email    sendgrid.EmailClient
	logger   *slog.Logger
}

func NewNotificationService(repo repository.NotificationRepository, userRepo repository.UserRepository,
	email sendgrid.EmailClient, logger *slog.Logger) Notifier {
	return &notificationService{repo: repo, userRepo: userRepo, email: email, logger: logger}
}

func (n *notificationService) OrderPlaced(ctx context.Context, order *models.Order) {

	subject := fmt.Sprintf("Order confirmed: %s", order.ID)
	content := fmt.Sprintf("Your order of %d item(s) totalling %d has been received. Status: %s.",
		len(order.Items), order.Total, order.Status)

	n.notify(ctx, order, models.NotificationOrderPlaced, subject, content)
}

func (n *notificationService) OrderCancelled(ctx context.Context, order *models.Order) {

	subject := fmt.Sprintf("Order cancelled: %s", order.ID)
	content := "Your order has been cancelled and any reserved items have been released."

	n.notify(ctx, order, models.NotificationOrderCancelled, subject, content)
}

func (n *notificationService) notify(ctx context.Context, order *models.Order,
	kind models.NotificationType, subject, content string) {

	user, err := n.userRepo.GetUserByID(ctx, order.UserID)
	if err != nil {
		n.logger.Warn("Skipping order notification, user lookup failed",
			slog.String("orderId", order.ID.String()), slog.Any("error", err))
		return
	}

	notification := &models.Notification{
		UserID:    order.UserID,
		OrderID:   order.ID,
		Type:      kind,
		Recipient: user.Email,
		Subject:   subject,
		Status:    "sent",
		CreatedAt: time.Now(),
	}

	if err := n.email.Send(ctx, &models.EmailNotificationRequest{
		To:      user.Email,
		Subject: subject,
		Content: content,
	}); err != nil {
		notification.Status = "failed"
		n.logger.Warn("Order notification email failed",
			slog.String("orderId", order.ID.String()), slog.Any("error", err))
	}

	if err := n.repo.CreateNotification(ctx, notification); err != nil {
		n.logger.Warn("Failed to record notification",
			slog.String("orderId", order.ID.String()), slog.Any("error", err))
	}
}
