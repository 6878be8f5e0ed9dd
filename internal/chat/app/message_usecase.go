package app

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"community_chat_service/internal/chat/domain"
	"community_chat_service/internal/chat/repository"
	rtdomain "community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg"
	"community_chat_service/pkg/config"
	"community_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventPublisher event bus publish
type EventPublisher interface {
	Publish(ctx context.Context, ev rtdomain.Event) error
}

const defaultGapHold = 5 * time.Second

// MessageUseCase 負責處理聊天訊息
// 同一房間的 append 在 node 內以 room lock 串行, 跨 node 由 seq counter 決定順序
// seq 先取號再 insert, 其他 node 的較大 seq 可能先寫入; history 不會越過還沒寫入的 seq
type MessageUseCase struct {
	roomRepo repository.RoomRepository
	msgRepo  repository.MessageRepository
	bus      EventPublisher
	events   repository.MessageEventWriter
	cfg      config.MessageConfig
	locks    pkg.KeyedMutex
	now      func() time.Time
}

// NewMessageUseCase init message use case, events 可為 nil
func NewMessageUseCase(
	roomRepo repository.RoomRepository,
	msgRepo repository.MessageRepository,
	bus EventPublisher,
	events repository.MessageEventWriter,
	cfg config.MessageConfig,
) *MessageUseCase {
	if cfg.MaxBodyLength <= 0 {
		cfg.MaxBodyLength = 4000
	}
	if cfg.DefaultHistoryLimit <= 0 {
		cfg.DefaultHistoryLimit = 50
	}
	if cfg.MaxHistoryLimit < cfg.DefaultHistoryLimit {
		cfg.MaxHistoryLimit = cfg.DefaultHistoryLimit
	}
	if cfg.GapHold <= 0 {
		cfg.GapHold = defaultGapHold
	}
	return &MessageUseCase{
		roomRepo: roomRepo,
		msgRepo:  msgRepo,
		bus:      bus,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Append 新增訊息
// dedup token 已使用過時回傳原本的訊息, Duplicate=true
func (uc *MessageUseCase) Append(ctx context.Context, in domain.AppendInput) (*domain.AppendResult, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" || in.SenderID == "" || utf8.RuneCountInString(body) > uc.cfg.MaxBodyLength {
		return nil, domain.ErrInvalidMessage
	}

	room, err := uc.roomRepo.FindByID(ctx, in.RoomID)
	if err != nil {
		return nil, storageErr("append find room", err)
	}
	if room.Archived || !room.CanPost(in.SenderID) {
		// 之前已寫入的 token 重送仍回傳原本的訊息
		if in.DedupToken != "" {
			existing, err := uc.msgRepo.FindByDedupToken(ctx, room.ID, in.SenderID, in.DedupToken)
			if err != nil {
				return nil, storageErr("find dedup token", err)
			}
			if existing != nil {
				return &domain.AppendResult{Message: existing, Duplicate: true}, nil
			}
		}
		if room.Archived {
			return nil, domain.ErrRoomArchived
		}
		return nil, domain.ErrNotParticipant
	}

	msg, dup, err := uc.persist(ctx, room, in.SenderID, body, in.DedupToken)
	if err != nil {
		return nil, err
	}
	if dup {
		logger.Log.Debug("dedup token replay", zap.String("room_id", room.ID), zap.String("message_id", msg.ID))
		return &domain.AppendResult{Message: msg, Duplicate: true}, nil
	}

	// domain event 不需要在 room lock 內
	if uc.events != nil {
		if err := uc.events.WriteMessageEvent(ctx, domain.NewMessageEvent(room, msg)); err != nil {
			logger.Log.Warn("write message event", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return &domain.AppendResult{Message: msg}, nil
}

// persist 在 room lock 內: dedup 查詢 -> 取 seq -> insert -> bus publish
func (uc *MessageUseCase) persist(ctx context.Context, room *domain.ChatRoom, senderID, body, token string) (*domain.ChatMessage, bool, error) {
	unlock := uc.locks.Lock(room.ID)
	defer unlock()

	if token != "" {
		existing, err := uc.msgRepo.FindByDedupToken(ctx, room.ID, senderID, token)
		if err != nil {
			return nil, false, storageErr("find dedup token", err)
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	seq, err := uc.msgRepo.NextSeq(ctx, room.ID)
	if err != nil {
		return nil, false, storageErr("next seq", err)
	}

	msg := &domain.ChatMessage{
		ID:         uuid.New().String(),
		RoomID:     room.ID,
		Seq:        seq,
		SenderID:   senderID,
		Body:       body,
		State:      domain.MessageSent,
		DedupToken: token,
		CreatedAt:  uc.now().UnixMilli(),
	}

	err = uc.msgRepo.Insert(ctx, msg)
	if errors.Is(err, domain.ErrDuplicateKey) && token != "" {
		// 另一個 node 用同一個 token 先寫入了
		existing, ferr := uc.msgRepo.FindByDedupToken(ctx, room.ID, senderID, token)
		if ferr == nil && existing != nil {
			return existing, true, nil
		}
	}
	if err != nil {
		return nil, false, storageErr("insert message", err)
	}

	if uc.bus != nil {
		if err := uc.bus.Publish(ctx, rtdomain.MessageCreated(msg)); err != nil {
			logger.Log.Warn("publish message.created", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return msg, false, nil
}

// History sinceID 之後的訊息, 依 seq 升序
func (uc *MessageUseCase) History(ctx context.Context, roomID, sinceID string, limit int) ([]domain.ChatMessage, error) {
	if _, err := uc.roomRepo.FindByID(ctx, roomID); err != nil {
		return nil, storageErr("history find room", err)
	}

	afterSeq, err := uc.resolveSince(ctx, roomID, sinceID)
	if err != nil {
		return nil, err
	}
	return uc.page(ctx, roomID, afterSeq, limit)
}

func (uc *MessageUseCase) resolveSince(ctx context.Context, roomID, sinceID string) (int64, error) {
	if sinceID == "" {
		return 0, nil
	}
	msg, err := uc.msgRepo.FindByID(ctx, roomID, sinceID)
	if err != nil {
		return 0, storageErr("history find since", err)
	}
	return msg.Seq, nil
}

func (uc *MessageUseCase) page(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.ChatMessage, error) {
	msgs, err := uc.msgRepo.FindAfter(ctx, roomID, afterSeq, uc.normalizeLimit(limit))
	if err != nil {
		return nil, storageErr("history find", err)
	}
	return uc.untilGap(roomID, afterSeq, msgs), nil
}

// untilGap 截在第一個缺號前面
// 缺號之後的訊息建立超過 GapHold 才視為該 seq 已放棄 (insert 失敗或 dedup race), 直接跳過
func (uc *MessageUseCase) untilGap(roomID string, afterSeq int64, msgs []domain.ChatMessage) []domain.ChatMessage {
	expected := afterSeq + 1
	settled := uc.now().Add(-uc.cfg.GapHold).UnixMilli()
	for i := range msgs {
		if msgs[i].Seq != expected && msgs[i].CreatedAt > settled {
			logger.Log.Debug("history held at seq gap",
				zap.String("room_id", roomID),
				zap.Int64("missing", expected),
				zap.Int64("next", msgs[i].Seq),
			)
			return msgs[:i]
		}
		expected = msgs[i].Seq + 1
	}
	return msgs
}

func (uc *MessageUseCase) normalizeLimit(limit int) int {
	if limit <= 0 {
		return uc.cfg.DefaultHistoryLimit
	}
	if limit > uc.cfg.MaxHistoryLimit {
		return uc.cfg.MaxHistoryLimit
	}
	return limit
}

// HistoryCursor 分頁讀取歷史訊息, 用 Cursor() 的值可以重新開始
type HistoryCursor struct {
	uc       *MessageUseCase
	roomID   string
	sinceID  string
	afterSeq int64
	limit    int
	resolved bool
	done     bool
}

// HistoryCursor create cursor start after sinceID
func (uc *MessageUseCase) HistoryCursor(roomID, sinceID string, limit int) *HistoryCursor {
	return &HistoryCursor{
		uc:      uc,
		roomID:  roomID,
		sinceID: sinceID,
		limit:   uc.normalizeLimit(limit),
	}
}

// Next 下一頁, 讀完後回傳空 slice
func (c *HistoryCursor) Next(ctx context.Context) ([]domain.ChatMessage, error) {
	if c.done {
		return nil, nil
	}
	if !c.resolved {
		if _, err := c.uc.roomRepo.FindByID(ctx, c.roomID); err != nil {
			return nil, storageErr("cursor find room", err)
		}
		seq, err := c.uc.resolveSince(ctx, c.roomID, c.sinceID)
		if err != nil {
			return nil, err
		}
		c.afterSeq = seq
		c.resolved = true
	}

	msgs, err := c.uc.page(ctx, c.roomID, c.afterSeq, c.limit)
	if err != nil {
		return nil, err
	}
	if len(msgs) < c.limit {
		c.done = true
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		c.afterSeq = last.Seq
		c.sinceID = last.ID
	}
	return msgs, nil
}

// Cursor 最後一則已回傳訊息的 id
func (c *HistoryCursor) Cursor() string {
	return c.sinceID
}

// LastSeq 最後一則已回傳訊息的 seq
func (c *HistoryCursor) LastSeq() int64 {
	return c.afterSeq
}
