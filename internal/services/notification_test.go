package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rohanverma-dev/kartify-backend/internal/models"
	"github.com/rohanverma-dev/kartify-backend/internal/repositories/mocks"
	service "github.com/rohanverma-dev/kartify-backend/internal/services"
	"github.com/stretchr/testify/mock"
)

type mockEmailClient struct {
	mock.Mock
}

func (m *mockEmailClient) Send(ctx context.Context, req *models.EmailNotificationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type notificationServiceMocks struct {
	repo     *mocks.NotificationRepository
	userRepo *mocks.UserRepository
	email    *mockEmailClient
}

func setupNotificationServiceTest() (service.Notifier, *notificationServiceMocks) {
	m := &notificationServiceMocks{
		repo:     new(mocks.NotificationRepository),
		userRepo: new(mocks.UserRepository),
		email:    new(mockEmailClient),
	}

	notifier := service.NewNotificationService(m.repo, m.userRepo, m.email, discardLogger())
	return notifier, m
}

func TestOrderNotifications(t *testing.T) {

	ctx := context.Background()
	userID := uuid.New()
	order := &models.Order{ID: uuid.New(), UserID: userID, Total: 310, Status: models.OrderStatusPlaced,
		Items: []models.OrderItem{{Title: "Headphones", Quantity: 2}}}
	user := &models.User{ID: userID, Name: "Asha", Email: "asha@example.com"}

	t.Run("Placed order emails the buyer and records the notification", func(t *testing.T) {
		// Arrange
		notifier, m := setupNotificationServiceTest()

		m.userRepo.On("GetUserByID", mock.Anything, userID).Return(user, nil).Once()
		m.email.On("Send", mock.Anything, mock.MatchedBy(func(req *models.EmailNotificationRequest) bool {
			return req.To == "asha@example.com" && req.Subject == "Order confirmed: "+order.ID.String()
		})).Return(nil).Once()
		m.repo.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
			return n.Type == models.NotificationOrderPlaced && n.Status == "sent"
		})).Return(nil).Once()

		// Act
		notifier.OrderPlaced(ctx, order)

		// Assert
		m.email.AssertExpectations(t)
		m.repo.AssertExpectations(t)
	})

	t.Run("Email failure is recorded, not propagated", func(t *testing.T) {
		// Arrange
		notifier, m := setupNotificationServiceTest()

		m.userRepo.On("GetUserByID", mock.Anything, userID).Return(user, nil).Once()
		m.email.On("Send", mock.Anything, mock.Anything).Return(errors.New("sendgrid 503")).Once()
		m.repo.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
			return n.Status == "failed"
		})).Return(nil).Once()

		// Act
		notifier.OrderCancelled(ctx, order)

		// Assert
		m.repo.AssertExpectations(t)
	})

	t.Run("User lookup failure skips the notification entirely", func(t *testing.T) {
		// Arrange
		notifier, m := setupNotificationServiceTest()
		m.userRepo.On("GetUserByID", mock.Anything, userID).Return(nil, errors.New("connection refused")).Once()

		// Act
		notifier.OrderPlaced(ctx, order)

		// Assert
		m.email.AssertNotCalled(t, "Send")
		m.repo.AssertNotCalled(t, "CreateNotification")
	})

	t.Run("Cancelled order uses the cancellation template", func(t *testing.T) {
		// Arrange
		notifier, m := setupNotificationServiceTest()

		m.userRepo.On("GetUserByID", mock.Anything, userID).Return(user, nil).Once()
		m.email.On("Send", mock.Anything, mock.MatchedBy(func(req *models.EmailNotificationRequest) bool {
			return req.Subject == "Order cancelled: "+order.ID.String()
		})).Return(nil).Once()
		m.repo.On("CreateNotification", mock.Anything, mock.MatchedBy(func(n *models.Notification) bool {
			return n.Type == models.NotificationOrderCancelled
		})).Return(nil).Once()

		// Act
		notifier.OrderCancelled(ctx, order)

		// Assert
		m.email.AssertExpectations(t)
	})
}
