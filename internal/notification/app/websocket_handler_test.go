package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	chatdomain "community_chat_service/internal/chat/domain"
	"community_chat_service/internal/notification/domain"
	presenceapp "community_chat_service/internal/presence/app"
	presencerepo "community_chat_service/internal/presence/repository"
	rtapp "community_chat_service/internal/realtime/app"
	rtdomain "community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg/config"
	"community_chat_service/pkg/middlewares"
	"community_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notificationWSFixture struct {
	repo       *memNotificationRepo
	bus        *rtapp.Bus
	tracker    *presenceapp.Tracker
	dispatcher *Dispatcher
	addr       string
}

func newNotificationWSFixture(t *testing.T) *notificationWSFixture {
	t.Helper()
	f := &notificationWSFixture{repo: newMemNotificationRepo()}
	f.bus = rtapp.NewBus("node-a", config.BusConfig{BufferSize: 64}, nil)
	f.tracker = presenceapp.NewTracker(presencerepo.NewMemoryPresenceRepository(), f.bus, config.PresenceConfig{HeartbeatInterval: time.Second})
	f.dispatcher = NewDispatcher(f.repo, f.bus, f.tracker)

	handler := NewNotificationWebsocketHandler(f.dispatcher, f.bus, f.tracker)
	app := fiber.New()
	app.Use(middlewares.JWTMiddleware())
	app.Get("/notifications/events", websocket.New(handler.HandleConnection))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })
	f.addr = ln.Addr().String()
	return f
}

func (f *notificationWSFixture) dial(t *testing.T, userID, sinceID string) *gws.Conn {
	t.Helper()
	tok, err := token.GenerateJWT(userID, string(token.RoleMember), "test")
	require.NoError(t, err)

	url := fmt.Sprintf("ws://%s/notifications/events?auth=%s", f.addr, tok)
	if sinceID != "" {
		url += "&sinceId=" + sinceID
	}
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *notificationWSFixture) emit(t *testing.T, target, title string) *domain.Notification {
	t.Helper()
	n, err := f.dispatcher.Emit(context.Background(), domain.Notification{Type: domain.TypeAdminBroadcast, TargetUserID: target, Title: title})
	require.NoError(t, err)
	return n
}

func readNotification(t *testing.T, conn *gws.Conn) domain.Notification {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp struct {
		chatdomain.WSResponse
		Payload struct {
			Notification domain.Notification `json:"notification"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Equal(t, string(rtdomain.EventNotificationCreated), resp.Action)
	return resp.Payload.Notification
}

func TestNotificationWebsocket_LiveDelivery(t *testing.T) {
	f := newNotificationWSFixture(t)
	conn := f.dial(t, "bob", "")
	require.Eventually(t, func() bool {
		return f.bus.SubscriberCount(rtdomain.UserScope("bob")) == 1 && f.bus.SubscriberCount(rtdomain.BroadcastScope) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.emit(t, "alice", "not for bob")
	personal := f.emit(t, "bob", "for bob")
	broadcast := f.emit(t, "", "for everyone")

	assert.Equal(t, personal.ID, readNotification(t, conn).ID)
	assert.Equal(t, broadcast.ID, readNotification(t, conn).ID)

	online, err := f.tracker.IsOnline(context.Background(), "bob", rtdomain.GlobalScope)
	require.NoError(t, err)
	assert.True(t, online)
}

// 帶 sinceId 重連時補送 backlog, 每則只送一次
func TestNotificationWebsocket_Backlog(t *testing.T) {
	f := newNotificationWSFixture(t)
	first := f.emit(t, "bob", "one")
	second := f.emit(t, "bob", "two")
	third := f.emit(t, "", "three")

	conn := f.dial(t, "bob", fmt.Sprint(first.ID))
	assert.Equal(t, second.ID, readNotification(t, conn).ID)
	assert.Equal(t, third.ID, readNotification(t, conn).ID)

	live := f.emit(t, "bob", "four")
	assert.Equal(t, live.ID, readNotification(t, conn).ID)
}

func TestNotificationWebsocket_InvalidSinceID(t *testing.T) {
	f := newNotificationWSFixture(t)
	conn := f.dial(t, "bob", "abc")

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var resp chatdomain.WSResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "error", resp.Action)
	assert.Equal(t, 0, f.bus.SubscriberCount(rtdomain.UserScope("bob")))
}

// 大量 global presence 變動不會擠掉 buffer 裡還沒送出的廣播
func TestNotificationWebsocket_BroadcastSurvivesPresenceChurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := rtapp.NewBus("node-a", config.BusConfig{BufferSize: 4}, nil)
	tracker := presenceapp.NewTracker(presencerepo.NewMemoryPresenceRepository(), bus, config.PresenceConfig{HeartbeatInterval: time.Second})
	dispatcher := NewDispatcher(newMemNotificationRepo(), bus, tracker)

	sub := bus.Subscribe(ctx, rtdomain.BroadcastScope)
	defer sub.Close()

	n, err := dispatcher.Emit(ctx, domain.Notification{Type: domain.TypeAdminBroadcast, Title: "停電公告"})
	require.NoError(t, err)
	for i := 0; i < 64; i++ {
		require.NoError(t, tracker.Join(ctx, fmt.Sprintf("u%d", i), rtdomain.GlobalScope))
	}

	var got []rtdomain.Event
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
		case <-timeout:
			break loop
		}
	}
	require.Len(t, got, 1)
	assert.Equal(t, rtdomain.EventNotificationCreated, got[0].Type)
	assert.Equal(t, n.ID, got[0].Notification.ID)
}

func TestSeenIDs(t *testing.T) {
	s := newSeenIDs(2)
	assert.True(t, s.add(1))
	assert.False(t, s.add(1))
	assert.True(t, s.add(2))
	assert.True(t, s.add(3))
	// 1 已被淘汰
	assert.True(t, s.add(1))
}
