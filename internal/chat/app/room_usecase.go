package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"community_chat_service/internal/chat/domain"
	"community_chat_service/internal/chat/repository"
	"community_chat_service/pkg"
	errprocess "community_chat_service/pkg/err"
	"community_chat_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultGeneralRoomID 社區大廳 room id
const DefaultGeneralRoomID = "general"

// RoomUseCase - room directory, 唯一建立聊天室的入口
type RoomUseCase struct {
	roomRepo      repository.RoomRepository
	generalRoomID string
	locks         pkg.KeyedMutex
	now           func() time.Time
}

// NewRoomUseCase init room use case
func NewRoomUseCase(r repository.RoomRepository, generalRoomID string) *RoomUseCase {
	if generalRoomID == "" {
		generalRoomID = DefaultGeneralRoomID
	}
	return &RoomUseCase{
		roomRepo:      r,
		generalRoomID: generalRoomID,
		now:           time.Now,
	}
}

// GeneralRoomID configured group room id
func (uc *RoomUseCase) GeneralRoomID() string {
	return uc.generalRoomID
}

// GetOrCreateRoom 先用排序後的成員查詢, 找不到才建立
// 同一對成員有多個 private room 時取最舊的一個, 其餘視為 orphan
func (uc *RoomUseCase) GetOrCreateRoom(ctx context.Context, kind domain.ChatRoomType, participantIDs []string) (*domain.RoomResult, error) {
	switch kind {
	case domain.ChatRoomTypeGroup:
		return uc.getOrCreateGroup(ctx)
	case domain.ChatRoomTypePrivate:
		return uc.getOrCreatePrivate(ctx, participantIDs)
	}
	return nil, domain.ErrInvalidRoom
}

func (uc *RoomUseCase) getOrCreateGroup(ctx context.Context) (*domain.RoomResult, error) {
	room, created, err := uc.roomRepo.UpsertGroupRoom(ctx, &domain.ChatRoom{
		ID:        uc.generalRoomID,
		RoomType:  domain.ChatRoomTypeGroup,
		CreatedAt: uc.now().UnixMilli(),
	})
	if err != nil {
		return nil, storageErr("upsert group room", err)
	}
	return &domain.RoomResult{Room: room, Created: created}, nil
}

func (uc *RoomUseCase) getOrCreatePrivate(ctx context.Context, participantIDs []string) (*domain.RoomResult, error) {
	members := pkg.SortedUnique(participantIDs)
	if len(members) != 2 || len(participantIDs) != 2 {
		return nil, domain.ErrInvalidRoom
	}
	pairKey := domain.PairKey(members)

	// 同一 node 上同一對成員只會有一個 goroutine 走建立流程
	unlock := uc.locks.Lock("pair:" + pairKey)
	defer unlock()

	room, err := uc.lookupPrivate(ctx, pairKey)
	if err != nil {
		return nil, err
	}
	if room != nil {
		return &domain.RoomResult{Room: room}, nil
	}

	room = &domain.ChatRoom{
		ID:        uuid.New().String(),
		RoomType:  domain.ChatRoomTypePrivate,
		Members:   members,
		PairKey:   pairKey,
		CreatedAt: uc.now().UnixMilli(),
	}
	err = uc.roomRepo.CreateRoom(ctx, room)
	if errors.Is(err, domain.ErrDuplicateKey) {
		// 其他 node 先建立了, 重新查詢取得勝出的那個
		logger.Log.Info("private room create race", zap.String("pair_key", pairKey))
		winner, lerr := uc.lookupPrivate(ctx, pairKey)
		if lerr != nil {
			return nil, lerr
		}
		if winner == nil {
			return nil, errprocess.Wrap(domain.ErrStorageUnavailable, "private room race lookup", err)
		}
		return &domain.RoomResult{Room: winner}, nil
	}
	if err != nil {
		return nil, storageErr("create private room", err)
	}

	logger.Log.Info("private room created", zap.String("room_id", room.ID), zap.Strings("members", members))
	return &domain.RoomResult{Room: room, Created: true}, nil
}

// lookupPrivate 沒有符合的 room 回傳 nil, nil
func (uc *RoomUseCase) lookupPrivate(ctx context.Context, pairKey string) (*domain.ChatRoom, error) {
	rooms, err := uc.roomRepo.FindPrivateRooms(ctx, pairKey)
	if err != nil {
		return nil, storageErr("find private rooms", err)
	}
	if len(rooms) == 0 {
		return nil, nil
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt != rooms[j].CreatedAt {
			return rooms[i].CreatedAt < rooms[j].CreatedAt
		}
		return rooms[i].ID < rooms[j].ID
	})
	if len(rooms) > 1 {
		orphans := make([]string, 0, len(rooms)-1)
		for _, r := range rooms[1:] {
			orphans = append(orphans, r.ID)
		}
		logger.Log.Warn("duplicate private rooms, using oldest",
			zap.String("pair_key", pairKey),
			zap.String("room_id", rooms[0].ID),
			zap.Strings("orphans", orphans),
		)
	}
	return &rooms[0], nil
}

// FindRoom find room by id
func (uc *RoomUseCase) FindRoom(ctx context.Context, roomID string) (*domain.ChatRoom, error) {
	if roomID == "" {
		return nil, domain.ErrRoomNotFound
	}
	room, err := uc.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, storageErr("find room", err)
	}
	return room, nil
}

// Authorize room 存在且 user 可讀寫
func (uc *RoomUseCase) Authorize(ctx context.Context, roomID, userID string) (*domain.ChatRoom, error) {
	room, err := uc.FindRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanPost(userID) {
		return nil, domain.ErrNotParticipant
	}
	return room, nil
}

// ListRooms private rooms of user, newest first
func (uc *RoomUseCase) ListRooms(ctx context.Context, userID string) ([]domain.ChatRoom, error) {
	rooms, err := uc.roomRepo.FindByMember(ctx, userID)
	if err != nil {
		return nil, storageErr("list rooms", err)
	}
	return rooms, nil
}

// Archive soft archive, private room 限成員, group room 限 admin
func (uc *RoomUseCase) Archive(ctx context.Context, roomID, userID string, isAdmin bool) error {
	room, err := uc.FindRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.IsPrivate() && !room.HasMember(userID) && !isAdmin {
		return domain.ErrNotParticipant
	}
	if !room.IsPrivate() && !isAdmin {
		return domain.ErrNotParticipant
	}
	if err := uc.roomRepo.Archive(ctx, roomID); err != nil {
		return storageErr("archive room", err)
	}
	logger.Log.Info("room archived", zap.String("room_id", roomID), zap.String("by", userID))
	return nil
}

// storageErr domain error 原樣回傳, 其他視為 storage unavailable
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrStorageUnavailable):
		return err
	}
	return errprocess.Wrap(domain.ErrStorageUnavailable, op, err)
}
