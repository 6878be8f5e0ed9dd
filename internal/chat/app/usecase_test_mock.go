package app

import (
	"context"
	"io"
	"time"

	"community_chat_service/internal/chat/domain"
	rtdomain "community_chat_service/internal/realtime/domain"

	"github.com/stretchr/testify/mock"
)

// MockRoomRepository Mock RoomRepository
type MockRoomRepository struct {
	mock.Mock
}

// CreateRoom mock create room
func (m *MockRoomRepository) CreateRoom(ctx context.Context, room *domain.ChatRoom) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

// FindByID mock find room by room id
func (m *MockRoomRepository) FindByID(ctx context.Context, roomID string) (*domain.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatRoom), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindPrivateRooms mock find private rooms by pair key
func (m *MockRoomRepository) FindPrivateRooms(ctx context.Context, pairKey string) ([]domain.ChatRoom, error) {
	args := m.Called(ctx, pairKey)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.ChatRoom), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpsertGroupRoom mock upsert group room
func (m *MockRoomRepository) UpsertGroupRoom(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error) {
	args := m.Called(ctx, room)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatRoom), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

// FindByMember mock list member rooms
func (m *MockRoomRepository) FindByMember(ctx context.Context, userID string) ([]domain.ChatRoom, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.ChatRoom), args.Error(1)
	}
	return nil, args.Error(1)
}

// Archive mock archive room
func (m *MockRoomRepository) Archive(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// EnsureIndexes mock
func (m *MockRoomRepository) EnsureIndexes(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// NextSeq mock next seq
func (m *MockMessageRepository) NextSeq(ctx context.Context, roomID string) (int64, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(int64), args.Error(1)
}

// Insert mock insert msg
func (m *MockMessageRepository) Insert(ctx context.Context, msg *domain.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// FindByDedupToken mock find by dedup token
func (m *MockMessageRepository) FindByDedupToken(ctx context.Context, roomID, senderID, token string) (*domain.ChatMessage, error) {
	args := m.Called(ctx, roomID, senderID, token)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindByID mock find msg
func (m *MockMessageRepository) FindByID(ctx context.Context, roomID, messageID string) (*domain.ChatMessage, error) {
	args := m.Called(ctx, roomID, messageID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindAfter mock history page
func (m *MockMessageRepository) FindAfter(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, roomID, afterSeq, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

// EnsureIndexes mock
func (m *MockMessageRepository) EnsureIndexes(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockEventWriter Mock MessageEventWriter
type MockEventWriter struct {
	mock.Mock
}

// WriteMessageEvent mock kafka write
func (m *MockEventWriter) WriteMessageEvent(ctx context.Context, ev domain.MessageEvent) error {
	args := m.Called(ctx, ev)
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

// MockObjectStorage Mock ObjectStorage
type MockObjectStorage struct {
	mock.Mock
}

// UploadObject mock upload
func (m *MockObjectStorage) UploadObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, objectName, reader, size, contentType)
	return args.Error(0)
}

// PresignGetURL mock presign
func (m *MockObjectStorage) PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

// ObjectExists mock stat
func (m *MockObjectStorage) ObjectExists(ctx context.Context, objectName string) (bool, error) {
	args := m.Called(ctx, objectName)
	return args.Bool(0), args.Error(1)
}
