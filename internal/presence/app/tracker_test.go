package app

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"community_chat_service/internal/presence/repository"
	rtdomain "community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg/config"
	"community_chat_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(sec int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.Unix(1_700_000_000, 0).Add(time.Duration(sec) * time.Second)
}

type recordPublisher struct {
	mu     sync.Mutex
	events []rtdomain.Event
	err    error
}

func (p *recordPublisher) Publish(ctx context.Context, ev rtdomain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordPublisher) changes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Presence.Online)
	}
	return out
}

func newTestTracker() (*Tracker, *fakeClock, *recordPublisher) {
	clock := &fakeClock{}
	clock.Set(0)
	pub := &recordPublisher{}
	tr := NewTracker(repository.NewMemoryPresenceRepository(), pub, config.PresenceConfig{
		HeartbeatInterval: 3 * time.Second,
		GraceWindow:       9 * time.Second,
	})
	tr.now = clock.Now
	return tr, clock, pub
}

// 測試 heartbeat 停止後 grace window 過了才離線
func TestTracker_HeartbeatTimeout(t *testing.T) {
	ctx := context.Background()
	tr, clock, pub := newTestTracker()

	require.NoError(t, tr.Join(ctx, "u1", "room:room1"))
	for sec := 3; sec <= 30; sec += 3 {
		clock.Set(sec)
		require.NoError(t, tr.Heartbeat(ctx, "u1", "room:room1"))
	}

	clock.Set(38)
	online, err := tr.IsOnline(ctx, "u1", "room:room1")
	require.NoError(t, err)
	assert.True(t, online)
	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Set(40)
	online, err = tr.IsOnline(ctx, "u1", "room:room1")
	require.NoError(t, err)
	assert.False(t, online)

	n, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []bool{true, false}, pub.changes())
}

// 錯過一次 heartbeat 不會變成離線
func TestTracker_MissedHeartbeatDoesNotFlap(t *testing.T) {
	ctx := context.Background()
	tr, clock, pub := newTestTracker()

	require.NoError(t, tr.Join(ctx, "u1", "global"))
	clock.Set(6) // 跳過 t=3
	online, _ := tr.IsOnline(ctx, "u1", "global")
	assert.True(t, online)

	n, _ := tr.Sweep(ctx)
	assert.Equal(t, 0, n)
	require.NoError(t, tr.Heartbeat(ctx, "u1", "global"))
	assert.Equal(t, []bool{true}, pub.changes())
}

// 過期後的 heartbeat 重新發出 join
func TestTracker_HeartbeatAfterExpiryRejoins(t *testing.T) {
	ctx := context.Background()
	tr, clock, pub := newTestTracker()

	require.NoError(t, tr.Heartbeat(ctx, "u1", "global"))
	clock.Set(20)
	require.NoError(t, tr.Heartbeat(ctx, "u1", "global"))

	assert.Equal(t, []bool{true, true}, pub.changes())
}

// 同一 user 兩條連線, 全部離開才發 leave
func TestTracker_LeaveWithMultipleConnections(t *testing.T) {
	ctx := context.Background()
	tr, _, pub := newTestTracker()

	require.NoError(t, tr.Join(ctx, "u1", "room:room1"))
	require.NoError(t, tr.Join(ctx, "u1", "room:room1"))

	require.NoError(t, tr.Leave(ctx, "u1", "room:room1"))
	online, _ := tr.IsOnline(ctx, "u1", "room:room1")
	assert.True(t, online)

	require.NoError(t, tr.Leave(ctx, "u1", "room:room1"))
	online, _ = tr.IsOnline(ctx, "u1", "room:room1")
	assert.False(t, online)

	// 已離開再 leave 不會重複發事件
	require.NoError(t, tr.Leave(ctx, "u1", "room:room1"))
	assert.Equal(t, []bool{true, false}, pub.changes())
}

// 兩個 node 共用 presence store, 一個 node 的最後一條連線關閉不影響另一個 node 上的連線
func TestTracker_LeaveAcrossNodes(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{}
	clock.Set(0)
	shared := repository.NewMemoryPresenceRepository()
	cfg := config.PresenceConfig{HeartbeatInterval: 3 * time.Second, GraceWindow: 9 * time.Second}

	pubA, pubB := &recordPublisher{}, &recordPublisher{}
	nodeA := NewTracker(shared, pubA, cfg)
	nodeB := NewTracker(shared, pubB, cfg)
	nodeA.now = clock.Now
	nodeB.now = clock.Now

	require.NoError(t, nodeA.Join(ctx, "u1", "room:room1"))
	require.NoError(t, nodeB.Join(ctx, "u1", "room:room1"))

	require.NoError(t, nodeA.Leave(ctx, "u1", "room:room1"))
	online, err := nodeB.IsOnline(ctx, "u1", "room:room1")
	require.NoError(t, err)
	assert.True(t, online)

	// node B 的 heartbeat 不會再發一次 join
	clock.Set(3)
	require.NoError(t, nodeB.Heartbeat(ctx, "u1", "room:room1"))
	assert.Equal(t, []bool{true}, pubA.changes())
	assert.Empty(t, pubB.changes())

	require.NoError(t, nodeB.Leave(ctx, "u1", "room:room1"))
	online, err = nodeA.IsOnline(ctx, "u1", "room:room1")
	require.NoError(t, err)
	assert.False(t, online)
	assert.Equal(t, []bool{false}, pubB.changes())
}

// node 掛掉沒有 leave 時由 sweep 清掉, 之後重新連線從零開始計數
func TestTracker_SweepResetsConnectionCount(t *testing.T) {
	ctx := context.Background()
	tr, clock, pub := newTestTracker()

	require.NoError(t, tr.Join(ctx, "u1", "room:room1"))
	require.NoError(t, tr.Join(ctx, "u1", "room:room1"))

	clock.Set(10)
	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, tr.Join(ctx, "u1", "room:room1"))
	require.NoError(t, tr.Leave(ctx, "u1", "room:room1"))
	online, _ := tr.IsOnline(ctx, "u1", "room:room1")
	assert.False(t, online)
	assert.Equal(t, []bool{true, false, true, false}, pub.changes())
}

func TestTracker_Online(t *testing.T) {
	ctx := context.Background()
	tr, clock, _ := newTestTracker()

	require.NoError(t, tr.Join(ctx, "u2", "room:room1"))
	clock.Set(5)
	require.NoError(t, tr.Join(ctx, "u1", "room:room1"))
	require.NoError(t, tr.Join(ctx, "u3", "room:other"))

	users, err := tr.Online(ctx, "room:room1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	clock.Set(12)
	users, err = tr.Online(ctx, "room:room1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)
}

// publish 失敗不影響 presence
func TestTracker_PublishFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	tr, _, pub := newTestTracker()
	pub.err = errors.New("redis down")

	require.NoError(t, tr.Join(ctx, "u1", "global"))
	online, err := tr.IsOnline(ctx, "u1", "global")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestTracker_InvalidScope(t *testing.T) {
	tr, _, _ := newTestTracker()
	assert.ErrorIs(t, tr.Join(context.Background(), "", "global"), ErrInvalidScope)
	assert.ErrorIs(t, tr.Heartbeat(context.Background(), "u1", ""), ErrInvalidScope)
	assert.ErrorIs(t, tr.Leave(context.Background(), "", ""), ErrInvalidScope)
}

func TestNewTracker_DefaultGrace(t *testing.T) {
	tr := NewTracker(repository.NewMemoryPresenceRepository(), nil, config.PresenceConfig{HeartbeatInterval: 2 * time.Second})
	assert.Equal(t, 6*time.Second, tr.GraceWindow())
	assert.Equal(t, 2*time.Second, tr.HeartbeatInterval())
}
