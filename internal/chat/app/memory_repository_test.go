package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"community_chat_service/internal/chat/domain"
	"community_chat_service/internal/chat/repository"
)

var errStoreDown = errors.New("connection refused")

// memRoomRepo 模擬 mongo rooms collection, uniquePair 對應 pair_key 唯一索引
type memRoomRepo struct {
	mu         sync.Mutex
	rooms      map[string]domain.ChatRoom
	uniquePair bool
	down       bool
}

func newMemRoomRepo(uniquePair bool) *memRoomRepo {
	return &memRoomRepo{rooms: map[string]domain.ChatRoom{}, uniquePair: uniquePair}
}

var _ repository.RoomRepository = (*memRoomRepo)(nil)

func (r *memRoomRepo) CreateRoom(ctx context.Context, room *domain.ChatRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	if _, ok := r.rooms[room.ID]; ok {
		return domain.ErrDuplicateKey
	}
	if r.uniquePair && room.PairKey != "" {
		for _, existing := range r.rooms {
			if existing.PairKey == room.PairKey {
				return domain.ErrDuplicateKey
			}
		}
	}
	r.rooms[room.ID] = *room
	return nil
}

func (r *memRoomRepo) FindByID(ctx context.Context, roomID string) (*domain.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &room, nil
}

func (r *memRoomRepo) FindPrivateRooms(ctx context.Context, pairKey string) ([]domain.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	out := []domain.ChatRoom{}
	for _, room := range r.rooms {
		if room.RoomType == domain.ChatRoomTypePrivate && room.PairKey == pairKey {
			out = append(out, room)
		}
	}
	return out, nil
}

func (r *memRoomRepo) UpsertGroupRoom(ctx context.Context, room *domain.ChatRoom) (*domain.ChatRoom, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, false, errStoreDown
	}
	if existing, ok := r.rooms[room.ID]; ok {
		return &existing, false, nil
	}
	r.rooms[room.ID] = *room
	created := *room
	return &created, true, nil
}

func (r *memRoomRepo) FindByMember(ctx context.Context, userID string) ([]domain.ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.ChatRoom{}
	for _, room := range r.rooms {
		if room.HasMember(userID) {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (r *memRoomRepo) Archive(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Archived = true
	r.rooms[roomID] = room
	return nil
}

func (r *memRoomRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (r *memRoomRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// memMessageRepo 模擬 chat_messages + room_sequences
type memMessageRepo struct {
	mu   sync.Mutex
	seqs map[string]int64
	msgs map[string][]domain.ChatMessage
	down bool
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{seqs: map[string]int64{}, msgs: map[string][]domain.ChatMessage{}}
}

var _ repository.MessageRepository = (*memMessageRepo)(nil)

func (r *memMessageRepo) NextSeq(ctx context.Context, roomID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return 0, errStoreDown
	}
	r.seqs[roomID]++
	return r.seqs[roomID], nil
}

func (r *memMessageRepo) Insert(ctx context.Context, msg *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errStoreDown
	}
	for _, m := range r.msgs[msg.RoomID] {
		if m.Seq == msg.Seq {
			return domain.ErrDuplicateKey
		}
		if msg.DedupToken != "" && m.SenderID == msg.SenderID && m.DedupToken == msg.DedupToken {
			return domain.ErrDuplicateKey
		}
	}
	r.msgs[msg.RoomID] = append(r.msgs[msg.RoomID], *msg)
	return nil
}

func (r *memMessageRepo) FindByDedupToken(ctx context.Context, roomID, senderID, token string) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	for _, m := range r.msgs[roomID] {
		if m.SenderID == senderID && m.DedupToken == token {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memMessageRepo) FindByID(ctx context.Context, roomID, messageID string) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.msgs[roomID] {
		if m.ID == messageID {
			found := m
			return &found, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (r *memMessageRepo) FindAfter(ctx context.Context, roomID string, afterSeq int64, limit int) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errStoreDown
	}
	all := append([]domain.ChatMessage(nil), r.msgs[roomID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })

	out := []domain.ChatMessage{}
	for _, m := range all {
		if m.Seq > afterSeq {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memMessageRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (r *memMessageRepo) count(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs[roomID])
}
