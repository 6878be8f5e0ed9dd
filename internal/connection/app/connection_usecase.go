package app

import (
	"context"
	"errors"
	"strings"
	"time"

	chatdomain "community_chat_service/internal/chat/domain"
	"community_chat_service/internal/connection/domain"
	"community_chat_service/internal/connection/repository"
	notificationdomain "community_chat_service/internal/notification/domain"
	errprocess "community_chat_service/pkg/err"
	"community_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RoomDirectory 建立 private room
type RoomDirectory interface {
	GetOrCreateRoom(ctx context.Context, kind chatdomain.ChatRoomType, participantIDs []string) (*chatdomain.RoomResult, error)
}

// NotificationEmitter 發送 new_request 通知
type NotificationEmitter interface {
	Emit(ctx context.Context, n notificationdomain.Notification) (*notificationdomain.Notification, error)
}

// ConnectionUseCase 聊天邀請
type ConnectionUseCase struct {
	repo     repository.RequestRepository
	rooms    RoomDirectory
	notifier NotificationEmitter
	now      func() time.Time
}

// NewConnectionUseCase create ConnectionUseCase, notifier 可為 nil
func NewConnectionUseCase(repo repository.RequestRepository, rooms RoomDirectory, notifier NotificationEmitter) *ConnectionUseCase {
	return &ConnectionUseCase{
		repo:     repo,
		rooms:    rooms,
		notifier: notifier,
		now:      time.Now,
	}
}

// Send from 邀請 to, 兩人之間只能有一筆 pending
func (uc *ConnectionUseCase) Send(ctx context.Context, fromUserID, toUserID string) (*domain.ConnectionRequest, error) {
	fromUserID = strings.TrimSpace(fromUserID)
	toUserID = strings.TrimSpace(toUserID)
	if fromUserID == "" || toUserID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if fromUserID == toUserID {
		return nil, domain.ErrSelfRequest
	}

	_, err := uc.repo.FindPendingBetween(ctx, fromUserID, toUserID)
	if err == nil {
		return nil, domain.ErrAlreadyPending
	}
	if !errors.Is(err, domain.ErrRequestNotFound) {
		return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "find pending request", err)
	}

	now := uc.now()
	req := &domain.ConnectionRequest{
		ID:         uuid.New().String(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.repo.Create(ctx, req); err != nil {
		if errors.Is(err, domain.ErrAlreadyPending) {
			return nil, err
		}
		return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "create request", err)
	}

	uc.notify(ctx, req)
	return req, nil
}

func (uc *ConnectionUseCase) notify(ctx context.Context, req *domain.ConnectionRequest) {
	if uc.notifier == nil {
		return
	}
	key := "request:" + req.ID
	_, err := uc.notifier.Emit(ctx, notificationdomain.Notification{
		Type:         notificationdomain.TypeNewRequest,
		TargetUserID: req.ToUserID,
		Title:        "New chat request",
		Body:         req.FromUserID + " wants to chat with you",
		NavTarget:    "/connections/pending",
		DedupKey:     &key,
	})
	if err != nil {
		logger.Log.Warn("new request notification", zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (uc *ConnectionUseCase) findForAddressee(ctx context.Context, requestID, userID string) (*domain.ConnectionRequest, error) {
	req, err := uc.repo.FindByID(ctx, requestID)
	if errors.Is(err, domain.ErrRequestNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "find request", err)
	}
	if req.ToUserID != userID {
		return nil, domain.ErrNotAddressee
	}
	return req, nil
}

// Accept 接受邀請並回傳 private room id
// 已接受的 request 再次接受時回傳同一個 room
func (uc *ConnectionUseCase) Accept(ctx context.Context, requestID, userID string) (string, error) {
	req, err := uc.findForAddressee(ctx, requestID, userID)
	if err != nil {
		return "", err
	}
	switch req.Status {
	case domain.StatusAccepted:
		return req.RoomID, nil
	case domain.StatusRejected:
		return "", domain.ErrRequestClosed
	}

	res, err := uc.rooms.GetOrCreateRoom(ctx, chatdomain.ChatRoomTypePrivate, []string{req.FromUserID, req.ToUserID})
	if err != nil {
		return "", err
	}

	err = uc.repo.UpdateStatus(ctx, req.ID, domain.StatusAccepted, res.Room.ID, uc.now())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRequestClosed):
		// 另一個請求先處理完, 以 db 狀態為準
		latest, ferr := uc.repo.FindByID(ctx, req.ID)
		if ferr != nil {
			return "", errprocess.Wrap(domain.ErrStorageUnavailable, "find request", ferr)
		}
		if latest.Status != domain.StatusAccepted {
			return "", domain.ErrRequestClosed
		}
	default:
		return "", errprocess.Wrap(domain.ErrStorageUnavailable, "accept request", err)
	}

	logger.Log.Info("connection accepted",
		zap.String("request_id", req.ID),
		zap.String("room_id", res.Room.ID),
		zap.Bool("room_created", res.Created),
	)
	return res.Room.ID, nil
}

// Reject 拒絕邀請
func (uc *ConnectionUseCase) Reject(ctx context.Context, requestID, userID string) error {
	req, err := uc.findForAddressee(ctx, requestID, userID)
	if err != nil {
		return err
	}
	switch req.Status {
	case domain.StatusRejected:
		return nil
	case domain.StatusAccepted:
		return domain.ErrRequestClosed
	}

	err = uc.repo.UpdateStatus(ctx, req.ID, domain.StatusRejected, "", uc.now())
	if errors.Is(err, domain.ErrRequestClosed) || errors.Is(err, domain.ErrRequestNotFound) {
		return err
	}
	if err != nil {
		return errprocess.Wrap(domain.ErrStorageUnavailable, "reject request", err)
	}
	return nil
}

// ListPending 等待 user 回覆的邀請
func (uc *ConnectionUseCase) ListPending(ctx context.Context, userID string) ([]domain.ConnectionRequest, error) {
	list, err := uc.repo.ListPending(ctx, userID)
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "list pending", err)
	}
	if list == nil {
		list = []domain.ConnectionRequest{}
	}
	return list, nil
}
