package app

import (
	"context"
	"io"
	"strings"
	"time"

	"community_chat_service/internal/chat/domain"
	errprocess "community_chat_service/pkg/err"
	"community_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ObjectStorage minio client
type ObjectStorage interface {
	UploadObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectName string) (bool, error)
}

// AttachmentUseCase 聊天室附件上傳, storage 為 nil 時代表未啟用
type AttachmentUseCase struct {
	rooms   *RoomUseCase
	storage ObjectStorage
	expiry  time.Duration
}

// NewAttachmentUseCase init attachment use case
func NewAttachmentUseCase(rooms *RoomUseCase, storage ObjectStorage, expiry time.Duration) *AttachmentUseCase {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &AttachmentUseCase{rooms: rooms, storage: storage, expiry: expiry}
}

// Upload 上傳檔案並回傳 presigned url
func (uc *AttachmentUseCase) Upload(ctx context.Context, roomID, userID, fileName, contentType string, size int64, r io.Reader) (*domain.Attachment, error) {
	if uc.storage == nil {
		return nil, domain.ErrStorageUnavailable
	}
	room, err := uc.rooms.Authorize(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if room.Archived {
		return nil, domain.ErrRoomArchived
	}

	key := domain.AttachmentKey(roomID, uuid.New().String(), fileName)
	if err := uc.storage.UploadObject(ctx, key, r, size, contentType); err != nil {
		return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "upload attachment", err)
	}

	url, err := uc.storage.PresignGetURL(ctx, key, uc.expiry)
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "presign attachment", err)
	}

	logger.Log.Info("attachment uploaded", zap.String("room_id", roomID), zap.String("key", key), zap.Int64("size", size))
	return &domain.Attachment{ObjectKey: key, URL: url, ContentType: contentType, Size: size}, nil
}

// URL 重新產生 presigned url, key 必須屬於該房間
func (uc *AttachmentUseCase) URL(ctx context.Context, roomID, userID, objectKey string) (string, error) {
	if uc.storage == nil {
		return "", domain.ErrStorageUnavailable
	}
	if _, err := uc.rooms.Authorize(ctx, roomID, userID); err != nil {
		return "", err
	}
	if !strings.HasPrefix(objectKey, domain.AttachmentPrefix(roomID)) || strings.Contains(objectKey, "..") {
		return "", domain.ErrAttachmentNotFound
	}

	ok, err := uc.storage.ObjectExists(ctx, objectKey)
	if err != nil {
		return "", errprocess.Wrap(domain.ErrStorageUnavailable, "stat attachment", err)
	}
	if !ok {
		return "", domain.ErrAttachmentNotFound
	}

	url, err := uc.storage.PresignGetURL(ctx, objectKey, uc.expiry)
	if err != nil {
		return "", errprocess.Wrap(domain.ErrStorageUnavailable, "presign attachment", err)
	}
	return url, nil
}
