package app

import (
	"context"

	"community_chat_service/internal/notification/domain"
	rtdomain "community_chat_service/internal/realtime/domain"

	"github.com/stretchr/testify/mock"
)

// MockNotificationRepository Mock NotificationRepository
type MockNotificationRepository struct {
	mock.Mock
}

// AutoMigrate mock migrate
func (m *MockNotificationRepository) AutoMigrate() error {
	args := m.Called()
	return args.Error(0)
}

// Create mock insert notification
func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// FindByDedupKey mock find by dedup key
func (m *MockNotificationRepository) FindByDedupKey(ctx context.Context, key string) (*domain.Notification, error) {
	args := m.Called(ctx, key)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

// ListFor mock list backlog
func (m *MockNotificationRepository) ListFor(ctx context.Context, userID string, sinceID uint64, limit int) ([]domain.Notification, error) {
	args := m.Called(ctx, userID, sinceID, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}

// Deactivate mock deactivate
func (m *MockNotificationRepository) Deactivate(ctx context.Context, id uint64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockPublisher Mock EventPublisher
type MockPublisher struct {
	mock.Mock
}

// Publish mock bus publish
func (m *MockPublisher) Publish(ctx context.Context, ev rtdomain.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// MockPresence Mock PresenceChecker
type MockPresence struct {
	mock.Mock
}

// IsOnline mock presence query
func (m *MockPresence) IsOnline(ctx context.Context, userID, scope string) (bool, error) {
	args := m.Called(ctx, userID, scope)
	return args.Bool(0), args.Error(1)
}
