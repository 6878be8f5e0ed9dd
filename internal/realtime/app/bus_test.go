package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	chatdomain "community_chat_service/internal/chat/domain"
	presencedomain "community_chat_service/internal/presence/domain"
	"community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg/config"
	"community_chat_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

// memTransport 模擬 redis, Publish 直接送給所有正在 Run 的 node
type memTransport struct {
	mu       sync.Mutex
	handlers map[int]func(domain.Event)
	nextID   int
}

func newMemTransport() *memTransport {
	return &memTransport{handlers: map[int]func(domain.Event){}}
}

func (m *memTransport) Publish(ctx context.Context, ev domain.Event) error {
	m.mu.Lock()
	hs := make([]func(domain.Event), 0, len(m.handlers))
	for _, h := range m.handlers {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
	return nil
}

func (m *memTransport) Run(ctx context.Context, deliver func(domain.Event)) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = deliver
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.handlers, id)
	m.mu.Unlock()
	return ctx.Err()
}

func (m *memTransport) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

func msgEvent(roomID string, seq int64) domain.Event {
	return domain.MessageCreated(&chatdomain.ChatMessage{
		ID:     fmt.Sprintf("%s-%d", roomID, seq),
		RoomID: roomID,
		Seq:    seq,
		Body:   fmt.Sprintf("m%d", seq),
	})
}

func presenceEvent(scope, user string) domain.Event {
	return domain.PresenceChanged(&presencedomain.PresenceChange{UserID: user, Scope: scope, Online: true})
}

func recv(t *testing.T, sub *Subscription, n int, timeout time.Duration) []domain.Event {
	t.Helper()
	var out []domain.Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func seqs(events []domain.Event) []int64 {
	out := make([]int64, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Message.Seq)
	}
	return out
}

// 測試 Publish 只送到相同 scope
func TestBus_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewBus("node-a", config.BusConfig{BufferSize: 16}, nil)

	s1 := bus.Subscribe(ctx, domain.RoomScope("room1"))
	s2 := bus.Subscribe(ctx, domain.RoomScope("room1"))
	other := bus.Subscribe(ctx, domain.RoomScope("room2"))
	defer s1.Close()
	defer s2.Close()
	defer other.Close()

	require.NoError(t, bus.Publish(ctx, msgEvent("room1", 1)))

	for _, s := range []*Subscription{s1, s2} {
		got := recv(t, s, 1, time.Second)
		require.Len(t, got, 1)
		assert.Equal(t, "room1-1", got[0].Message.ID)
		assert.Equal(t, "node-a", got[0].Origin)
	}
	assert.Empty(t, recv(t, other, 1, 50*time.Millisecond))
}

func TestBus_PublishInvalidEvent(t *testing.T) {
	bus := NewBus("", config.BusConfig{}, nil)
	assert.ErrorIs(t, bus.Publish(context.Background(), domain.Event{Type: domain.EventPresenceChanged}), domain.ErrInvalidEvent)
	assert.ErrorIs(t, bus.Publish(context.Background(), domain.Event{Type: domain.EventMessageCreated, Scope: "room:x"}), domain.ErrInvalidEvent)
	assert.NotEmpty(t, bus.NodeID())
}

// 多個 goroutine 同時 publish, 每個訂閱者看到的順序相同
func TestBus_SameOrderForAllSubscribers(t *testing.T) {
	ctx := context.Background()
	bus := NewBus("node-a", config.BusConfig{BufferSize: 1024}, nil)
	scope := domain.RoomScope("room1")

	subs := make([]*Subscription, 5)
	for i := range subs {
		subs[i] = bus.Subscribe(ctx, scope)
		defer subs[i].Close()
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = bus.Publish(ctx, presenceEvent(scope, fmt.Sprintf("w%d-%d", w, i)))
			}
		}(w)
	}
	wg.Wait()

	var first []string
	for i, s := range subs {
		got := recv(t, s, 200, time.Second)
		require.Len(t, got, 200)
		users := make([]string, 0, len(got))
		for _, ev := range got {
			users = append(users, ev.Presence.UserID)
		}
		if i == 0 {
			first = users
			continue
		}
		assert.Equal(t, first, users)
	}
}

// 測試 message.created 依 seq 重新排序
func TestBus_MessageSequencerReorders(t *testing.T) {
	ctx := context.Background()
	bus := NewBus("node-a", config.BusConfig{BufferSize: 16, HoldTimeout: time.Second}, nil)
	sub := bus.Subscribe(ctx, domain.RoomScope("room1"))
	defer sub.Close()

	for _, seq := range []int64{1, 3, 2, 4} {
		require.NoError(t, bus.Publish(ctx, msgEvent("room1", seq)))
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, seqs(recv(t, sub, 4, time.Second)))
}

func TestBus_MessageSequencerDropsDuplicates(t *testing.T) {
	ctx := context.Background()
	bus := NewBus("node-a", config.BusConfig{BufferSize: 16, HoldTimeout: time.Second}, nil)
	sub := bus.Subscribe(ctx, domain.RoomScope("room1"))
	defer sub.Close()

	for _, seq := range []int64{1, 2, 2, 1, 3} {
		require.NoError(t, bus.Publish(ctx, msgEvent("room1", seq)))
	}

	assert.Equal(t, []int64{1, 2, 3}, seqs(recv(t, sub, 3, time.Second)))
	assert.Empty(t, recv(t, sub, 1, 50*time.Millisecond))
}

// 缺號超過 hold timeout 後跳過
func TestBus_HoldTimeoutSkipsGap(t *testing.T) {
	ctx := context.Background()
	bus := NewBus("node-a", config.BusConfig{BufferSize: 16, HoldTimeout: 20 * time.Millisecond}, nil)
	sub := bus.Subscribe(ctx, domain.RoomScope("room1"))
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, msgEvent("room1", 1)))
	require.NoError(t, bus.Publish(ctx, msgEvent("room1", 3)))
	require.NoError(t, bus.Publish(ctx, msgEvent("room1", 4)))

	assert.Equal(t, []int64{1, 3, 4}, seqs(recv(t, sub, 3, time.Second)))

	// 被跳過的 seq 晚到時視為過期
	require.NoError(t, bus.Publish(ctx, msgEvent("room1", 2)))
	require.NoError(t, bus.Publish(ctx, msgEvent("room1", 5)))
	assert.Equal(t, []int64{5}, seqs(recv(t, sub, 1, time.Second)))
}

// 慢的訂閱者只會丟掉自己最舊的事件, 不影響其他人
func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	ctx := context.Background()
	bus := NewBus("node-a", config.BusConfig{BufferSize: 8}, nil)
	scope := domain.RoomScope("room1")

	slow := bus.Subscribe(ctx, scope)
	fast := bus.Subscribe(ctx, scope)
	defer slow.Close()
	defer fast.Close()

	var fastGot []string
	for i := 1; i <= 100; i++ {
		require.NoError(t, bus.Publish(ctx, presenceEvent(scope, fmt.Sprintf("u%d", i))))
		for _, ev := range recv(t, fast, 1, time.Second) {
			fastGot = append(fastGot, ev.Presence.UserID)
		}
	}

	assert.Len(t, fastGot, 100)
	assert.Equal(t, "u100", fastGot[99])
	assert.Equal(t, uint64(0), fast.Dropped())

	slowGot := recv(t, slow, 8, time.Second)
	require.Len(t, slowGot, 8)
	assert.Equal(t, "u93", slowGot[0].Presence.UserID)
	assert.Equal(t, "u100", slowGot[7].Presence.UserID)
	assert.Equal(t, uint64(92), slow.Dropped())
}

// ctx 結束後自動取消訂閱
func TestBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := NewBus("node-a", config.BusConfig{BufferSize: 4, HoldTimeout: time.Second}, nil)
	scope := domain.RoomScope("room1")

	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx, scope)
	require.NoError(t, bus.Publish(context.Background(), msgEvent("room1", 1)))
	require.NoError(t, bus.Publish(context.Background(), msgEvent("room1", 3)))
	assert.Equal(t, 1, bus.SubscriberCount(scope))

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.Equal(t, 0, bus.SubscriberCount(scope))

	bus.seqMu.Lock()
	_, ok := bus.sequencers[scope]
	bus.seqMu.Unlock()
	assert.False(t, ok)

	// Close 可重複呼叫
	sub.Close()
}

// 兩個 node 透過 transport 互相轉送, 自己發出的事件不會重複收到
func TestBus_RelayAcrossNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newMemTransport()
	busA := NewBus("node-a", config.BusConfig{BufferSize: 16, HoldTimeout: time.Second}, tr)
	busB := NewBus("node-b", config.BusConfig{BufferSize: 16, HoldTimeout: time.Second}, tr)
	go busA.Run(ctx)
	go busB.Run(ctx)
	require.Eventually(t, func() bool { return tr.size() == 2 }, time.Second, 5*time.Millisecond)

	scope := domain.RoomScope("room1")
	onA := busA.Subscribe(ctx, scope)
	onB := busB.Subscribe(ctx, scope)

	require.NoError(t, busA.Publish(ctx, msgEvent("room1", 1)))
	require.NoError(t, busB.Publish(ctx, msgEvent("room1", 2)))

	assert.Equal(t, []int64{1, 2}, seqs(recv(t, onA, 2, time.Second)))
	assert.Equal(t, []int64{1, 2}, seqs(recv(t, onB, 2, time.Second)))
	assert.Empty(t, recv(t, onA, 1, 50*time.Millisecond))
}
