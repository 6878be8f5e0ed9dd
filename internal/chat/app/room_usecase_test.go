package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"community_chat_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var u1u2PairKey = domain.PairKey([]string{"u1", "u2"})

// 測試 group room 使用固定 id
func TestRoomUseCase_GetOrCreateGroup(t *testing.T) {
	ctx := context.Background()
	mockRoomRepo := new(MockRoomRepository)

	general := &domain.ChatRoom{ID: "lobby", RoomType: domain.ChatRoomTypeGroup}
	mockRoomRepo.On("UpsertGroupRoom", ctx, mock.MatchedBy(func(r *domain.ChatRoom) bool {
		return r.ID == "lobby" && r.RoomType == domain.ChatRoomTypeGroup
	})).Return(general, true, nil)

	uc := NewRoomUseCase(mockRoomRepo, "lobby")
	res, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypeGroup, nil)

	require.NoError(t, err)
	assert.Equal(t, "lobby", res.Room.ID)
	assert.True(t, res.Created)
	mockRoomRepo.AssertExpectations(t)
}

func TestRoomUseCase_GetOrCreatePrivate_Invalid(t *testing.T) {
	uc := NewRoomUseCase(new(MockRoomRepository), "")

	cases := [][]string{
		nil,
		{"u1"},
		{"u1", "u1"},
		{"u1", ""},
		{"u1", "u2", "u3"},
	}
	for _, ids := range cases {
		_, err := uc.GetOrCreateRoom(context.Background(), domain.ChatRoomTypePrivate, ids)
		assert.ErrorIs(t, err, domain.ErrInvalidRoom, "%v", ids)
	}

	_, err := uc.GetOrCreateRoom(context.Background(), "channel", []string{"u1", "u2"})
	assert.ErrorIs(t, err, domain.ErrInvalidRoom)
}

// 成員順序不同仍找到同一個 room
func TestRoomUseCase_GetOrCreatePrivate_Existing(t *testing.T) {
	ctx := context.Background()
	mockRoomRepo := new(MockRoomRepository)

	existing := domain.ChatRoom{ID: "room-1", RoomType: domain.ChatRoomTypePrivate, Members: []string{"u1", "u2"}, PairKey: u1u2PairKey}
	mockRoomRepo.On("FindPrivateRooms", ctx, u1u2PairKey).Return([]domain.ChatRoom{existing}, nil)

	uc := NewRoomUseCase(mockRoomRepo, "")
	res, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"u2", "u1"})

	require.NoError(t, err)
	assert.Equal(t, "room-1", res.Room.ID)
	assert.False(t, res.Created)
	mockRoomRepo.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything)
}

// 有重複 room 時取最舊的
func TestRoomUseCase_GetOrCreatePrivate_OldestWins(t *testing.T) {
	ctx := context.Background()
	mockRoomRepo := new(MockRoomRepository)

	mockRoomRepo.On("FindPrivateRooms", ctx, u1u2PairKey).Return([]domain.ChatRoom{
		{ID: "room-c", PairKey: u1u2PairKey, CreatedAt: 300},
		{ID: "room-b", PairKey: u1u2PairKey, CreatedAt: 100},
		{ID: "room-a", PairKey: u1u2PairKey, CreatedAt: 100},
	}, nil)

	uc := NewRoomUseCase(mockRoomRepo, "")
	for i := 0; i < 3; i++ {
		res, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"u1", "u2"})
		require.NoError(t, err)
		assert.Equal(t, "room-a", res.Room.ID)
	}
	mockRoomRepo.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything)
}

// insert 撞到唯一索引時重新查詢
func TestRoomUseCase_GetOrCreatePrivate_CreateRace(t *testing.T) {
	ctx := context.Background()
	mockRoomRepo := new(MockRoomRepository)

	winner := domain.ChatRoom{ID: "room-winner", PairKey: u1u2PairKey, RoomType: domain.ChatRoomTypePrivate}
	mockRoomRepo.On("FindPrivateRooms", ctx, u1u2PairKey).Return([]domain.ChatRoom{}, nil).Once()
	mockRoomRepo.On("CreateRoom", ctx, mock.Anything).Return(domain.ErrDuplicateKey).Once()
	mockRoomRepo.On("FindPrivateRooms", ctx, u1u2PairKey).Return([]domain.ChatRoom{winner}, nil).Once()

	uc := NewRoomUseCase(mockRoomRepo, "")
	res, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"u1", "u2"})

	require.NoError(t, err)
	assert.Equal(t, "room-winner", res.Room.ID)
	assert.False(t, res.Created)
	mockRoomRepo.AssertExpectations(t)
}

func TestRoomUseCase_GetOrCreatePrivate_StorageUnavailable(t *testing.T) {
	ctx := context.Background()
	mockRoomRepo := new(MockRoomRepository)
	mockRoomRepo.On("FindPrivateRooms", ctx, u1u2PairKey).Return(nil, errStoreDown)

	uc := NewRoomUseCase(mockRoomRepo, "")
	_, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"u1", "u2"})

	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.ErrorIs(t, err, errStoreDown)
}

// N 個 client 同時建立同一對的 room, 全部拿到同一個 id
func TestRoomUseCase_ConcurrentGetOrCreate(t *testing.T) {
	ctx := context.Background()
	repo := newMemRoomRepo(true)

	// 兩個 node 共用同一個 store
	nodes := []*RoomUseCase{NewRoomUseCase(repo, ""), NewRoomUseCase(repo, "")}

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			members := []string{"u1", "u2"}
			if i%2 == 0 {
				members = []string{"u2", "u1"}
			}
			res, err := nodes[i%2].GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, members)
			if assert.NoError(t, err) {
				ids[i] = res.Room.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, repo.count())
}

func TestRoomUseCase_DifferentPairsGetDifferentRooms(t *testing.T) {
	ctx := context.Background()
	uc := NewRoomUseCase(newMemRoomRepo(true), "")

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		res, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"u0", fmt.Sprintf("u%d", i+1)})
		require.NoError(t, err)
		assert.True(t, res.Created)
		seen[res.Room.ID] = true
	}
	assert.Len(t, seen, 5)

	rooms, err := uc.ListRooms(ctx, "u0")
	require.NoError(t, err)
	assert.Len(t, rooms, 5)
}

func TestRoomUseCase_Authorize(t *testing.T) {
	ctx := context.Background()
	repo := newMemRoomRepo(true)
	uc := NewRoomUseCase(repo, "")

	res, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"u1", "u2"})
	require.NoError(t, err)

	_, err = uc.Authorize(ctx, res.Room.ID, "u1")
	assert.NoError(t, err)
	_, err = uc.Authorize(ctx, res.Room.ID, "u3")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
	_, err = uc.Authorize(ctx, "missing", "u1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	group, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypeGroup, nil)
	require.NoError(t, err)
	_, err = uc.Authorize(ctx, group.Room.ID, "anyone")
	assert.NoError(t, err)
}

func TestRoomUseCase_Archive(t *testing.T) {
	ctx := context.Background()
	repo := newMemRoomRepo(true)
	uc := NewRoomUseCase(repo, "")

	res, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"u1", "u2"})
	require.NoError(t, err)
	group, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypeGroup, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, uc.Archive(ctx, res.Room.ID, "u3", false), domain.ErrNotParticipant)
	assert.ErrorIs(t, uc.Archive(ctx, group.Room.ID, "u1", false), domain.ErrNotParticipant)
	assert.ErrorIs(t, uc.Archive(ctx, "missing", "u1", true), domain.ErrRoomNotFound)

	require.NoError(t, uc.Archive(ctx, res.Room.ID, "u1", false))
	room, err := uc.FindRoom(ctx, res.Room.ID)
	require.NoError(t, err)
	assert.True(t, room.Archived)

	// archive 後 getOrCreate 仍回傳同一個 room, 不會建立新的
	again, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, res.Room.ID, again.Room.ID)
}

// user id 含分隔字元時, 不同的兩人組合不能拿到同一個 room
func TestRoomUseCase_GetOrCreatePrivate_PairKeyCollision(t *testing.T) {
	ctx := context.Background()
	uc := NewRoomUseCase(newMemRoomRepo(true), "")

	first, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"a|b", "c"})
	require.NoError(t, err)
	second, err := uc.GetOrCreateRoom(ctx, domain.ChatRoomTypePrivate, []string{"a", "b|c"})
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.True(t, second.Created)
	assert.NotEqual(t, first.Room.ID, second.Room.ID)
	assert.Equal(t, []string{"a", "b|c"}, second.Room.Members)
	assert.True(t, second.Room.CanPost("a"))

	assert.NotEqual(t, domain.PairKey([]string{"a|b", "c"}), domain.PairKey([]string{"a", "b|c"}))
	assert.NotEqual(t, domain.PairKey([]string{"1:a", "b"}), domain.PairKey([]string{"1", "a|1:b"}))
}
