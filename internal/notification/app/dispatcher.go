package app

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	chatdomain "community_chat_service/internal/chat/domain"
	"community_chat_service/internal/notification/domain"
	"community_chat_service/internal/notification/repository"
	rtdomain "community_chat_service/internal/realtime/domain"
	errprocess "community_chat_service/pkg/err"
	"community_chat_service/pkg/logger"

	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	previewLength    = 80
)

// EventPublisher event bus publish
type EventPublisher interface {
	Publish(ctx context.Context, ev rtdomain.Event) error
}

// PresenceChecker presence tracker 的唯讀查詢
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID, scope string) (bool, error)
}

// Dispatcher 通知的寫入與推播
// 已讀狀態由 client 自行保存, server 只負責 backlog 與即時推送
type Dispatcher struct {
	repo     repository.NotificationRepository
	pub      EventPublisher
	presence PresenceChecker
	now      func() time.Time
}

// NewDispatcher create dispatcher, presence 為 nil 時視為所有人離線
func NewDispatcher(repo repository.NotificationRepository, pub EventPublisher, presence PresenceChecker) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		pub:      pub,
		presence: presence,
		now:      time.Now,
	}
}

// Emit 寫入後推送到 user:<id> 或 broadcast
// dedup key 已存在時回傳原本的通知, 不重複推送
func (d *Dispatcher) Emit(ctx context.Context, n domain.Notification) (*domain.Notification, error) {
	if !n.Type.Valid() || strings.TrimSpace(n.Title) == "" {
		return nil, domain.ErrInvalidNotification
	}

	n.ID = 0
	n.IsActive = true
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}

	err := d.repo.Create(ctx, &n)
	if errors.Is(err, domain.ErrDuplicateKey) && n.DedupKey != nil {
		existing, ferr := d.repo.FindByDedupKey(ctx, *n.DedupKey)
		if ferr == nil {
			logger.Log.Debug("notification dedup", zap.String("dedup_key", *n.DedupKey), zap.Uint64("id", existing.ID))
			return existing, nil
		}
		err = ferr
	}
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "create notification", err)
	}

	if d.pub != nil {
		if err := d.pub.Publish(ctx, rtdomain.NotificationCreated(&n)); err != nil {
			logger.Log.Warn("publish notification", zap.Uint64("id", n.ID), zap.Error(err))
		}
	}
	return &n, nil
}

// ListFor 離線期間的通知, 包含個人與廣播, 依 id 升序且不重複
func (d *Dispatcher) ListFor(ctx context.Context, userID string, sinceID uint64, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	list, err := d.repo.ListFor(ctx, userID, sinceID, limit)
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "list notifications", err)
	}

	out := make([]domain.Notification, 0, len(list))
	seen := make(map[uint64]struct{}, len(list))
	for _, n := range list {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// Deactivate 撤回通知 (admin)
func (d *Dispatcher) Deactivate(ctx context.Context, id uint64) error {
	err := d.repo.Deactivate(ctx, id)
	if errors.Is(err, domain.ErrNotificationNotFound) {
		return err
	}
	if err != nil {
		return errprocess.Wrap(domain.ErrStorageUnavailable, "deactivate notification", err)
	}
	return nil
}

// HandleMessageCreated private room 的新訊息通知不在房間內的另一方
// group room 不發通知
func (d *Dispatcher) HandleMessageCreated(ctx context.Context, ev chatdomain.MessageEvent) (int, error) {
	if ev.RoomType != chatdomain.ChatRoomTypePrivate {
		return 0, nil
	}

	scope := rtdomain.RoomScope(ev.RoomID)
	sent := 0
	var firstErr error
	for _, member := range ev.Members {
		if member == ev.SenderID {
			continue
		}
		if d.isOnline(ctx, member, scope) {
			continue
		}

		key := "msg:" + ev.MessageID + ":" + member
		_, err := d.Emit(ctx, domain.Notification{
			Type:         domain.TypeNewMessage,
			TargetUserID: member,
			Title:        "New message",
			Body:         preview(ev.Body),
			NavTarget:    "/rooms/" + ev.RoomID,
			DedupKey:     &key,
			CreatedAt:    time.UnixMilli(ev.CreatedAt),
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

func (d *Dispatcher) isOnline(ctx context.Context, userID, scope string) bool {
	if d.presence == nil {
		return false
	}
	online, err := d.presence.IsOnline(ctx, userID, scope)
	if err != nil {
		// presence 查不到就當作離線, 多發一則通知
		logger.Log.Warn("presence check", zap.String("user", userID), zap.Error(err))
		return false
	}
	return online
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= previewLength {
		return body
	}
	return string([]rune(body)[:previewLength]) + "…"
}

// InlineEventWriter kafka 未啟用時 chat service 直接呼叫 dispatcher
type InlineEventWriter struct {
	dispatcher *Dispatcher
}

// NewInlineEventWriter create InlineEventWriter
func NewInlineEventWriter(d *Dispatcher) *InlineEventWriter {
	return &InlineEventWriter{dispatcher: d}
}

// WriteMessageEvent handle message event synchronously
func (w *InlineEventWriter) WriteMessageEvent(ctx context.Context, ev chatdomain.MessageEvent) error {
	_, err := w.dispatcher.HandleMessageCreated(ctx, ev)
	return err
}
