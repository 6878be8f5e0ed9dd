package app

import (
	"context"
	"time"

	chatdomain "community_chat_service/internal/chat/domain"
	"community_chat_service/internal/connection/domain"
	notificationdomain "community_chat_service/internal/notification/domain"

	"github.com/stretchr/testify/mock"
)

// MockRequestRepository Mock RequestRepository
type MockRequestRepository struct {
	mock.Mock
}

// EnsureSchema mock create table
func (m *MockRequestRepository) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Create mock insert request
func (m *MockRequestRepository) Create(ctx context.Context, req *domain.ConnectionRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// FindByID mock find request
func (m *MockRequestRepository) FindByID(ctx context.Context, id string) (*domain.ConnectionRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ConnectionRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindPendingBetween mock find pending
func (m *MockRequestRepository) FindPendingBetween(ctx context.Context, a, b string) (*domain.ConnectionRequest, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ConnectionRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

// ListPending mock list pending
func (m *MockRequestRepository) ListPending(ctx context.Context, toUserID string) ([]domain.ConnectionRequest, error) {
	args := m.Called(ctx, toUserID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.ConnectionRequest), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateStatus mock update status
func (m *MockRequestRepository) UpdateStatus(ctx context.Context, id string, status domain.RequestStatus, roomID string, at time.Time) error {
	args := m.Called(ctx, id, status, roomID, at)
	return args.Error(0)
}

// MockRoomDirectory Mock RoomDirectory
type MockRoomDirectory struct {
	mock.Mock
}

// GetOrCreateRoom mock get or create room
func (m *MockRoomDirectory) GetOrCreateRoom(ctx context.Context, kind chatdomain.ChatRoomType, participantIDs []string) (*chatdomain.RoomResult, error) {
	args := m.Called(ctx, kind, participantIDs)
	if args.Get(0) != nil {
		return args.Get(0).(*chatdomain.RoomResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockNotifier Mock NotificationEmitter
type MockNotifier struct {
	mock.Mock
}

// Emit mock emit notification
func (m *MockNotifier) Emit(ctx context.Context, n notificationdomain.Notification) (*notificationdomain.Notification, error) {
	args := m.Called(ctx, n)
	if args.Get(0) != nil {
		return args.Get(0).(*notificationdomain.Notification), args.Error(1)
	}
	return nil, args.Error(1)
}
