package app

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	chatdomain "community_chat_service/internal/chat/domain"
	"community_chat_service/internal/notification/domain"
	presenceapp "community_chat_service/internal/presence/app"
	rtapp "community_chat_service/internal/realtime/app"
	rtdomain "community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg/logger"
	"community_chat_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// NotificationWebsocketHandler 個人通知串流 (/notifications/events)
type NotificationWebsocketHandler struct {
	dispatcher *Dispatcher
	bus        *rtapp.Bus
	tracker    *presenceapp.Tracker
}

// NewNotificationWebsocketHandler create NotificationWebsocketHandler
func NewNotificationWebsocketHandler(d *Dispatcher, bus *rtapp.Bus, tracker *presenceapp.Tracker) *NotificationWebsocketHandler {
	return &NotificationWebsocketHandler{dispatcher: d, bus: bus, tracker: tracker}
}

// HandleConnection 訂閱 user:<id> 與 broadcast, 帶 sinceId 時先補送 backlog
func (h *NotificationWebsocketHandler) HandleConnection(conn *websocket.Conn) {
	memberID, _ := conn.Locals(middlewares.TokenMemberID).(string)

	var sinceID uint64
	raw := conn.Query("sinceId")
	replay := raw != ""
	if replay {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeResponse(conn, chatdomain.WSResponse{Action: "error", Error: "invalid sinceId"})
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid sinceId"))
			conn.Close()
			return
		}
		sinceID = v
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userSub := h.bus.Subscribe(ctx, rtdomain.UserScope(memberID))
	broadcastSub := h.bus.Subscribe(ctx, rtdomain.BroadcastScope)
	if err := h.tracker.Join(ctx, memberID, rtdomain.GlobalScope); err != nil {
		logger.Log.Warn("notification presence join", zap.String("userID", memberID), zap.Error(err))
	}
	logger.Log.Info("notification websocket connected", zap.String("userID", memberID))

	defer func() {
		userSub.Close()
		broadcastSub.Close()
		if err := h.tracker.Leave(context.Background(), memberID, rtdomain.GlobalScope); err != nil {
			logger.Log.Warn("notification presence leave", zap.String("userID", memberID), zap.Error(err))
		}
		conn.Close()
		logger.Log.Info("notification websocket close", zap.String("userID", memberID))
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, memberID, replay, sinceID, userSub, broadcastSub)
	}()

	grace := h.tracker.GraceWindow()
	_ = conn.SetReadDeadline(time.Now().Add(grace))
	conn.SetPongHandler(func(string) error {
		if err := h.tracker.Heartbeat(ctx, memberID, rtdomain.GlobalScope); err != nil {
			logger.Log.Warn("notification heartbeat", zap.String("userID", memberID), zap.Error(err))
		}
		return conn.SetReadDeadline(time.Now().Add(grace))
	})

	// client 不會送 action, 只讀 control frame 與偵測斷線
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logger.Log.Debug("notification websocket read", zap.String("userID", memberID), zap.Error(err))
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(grace))
		if err := h.tracker.Heartbeat(ctx, memberID, rtdomain.GlobalScope); err != nil {
			logger.Log.Warn("notification heartbeat", zap.String("userID", memberID), zap.Error(err))
		}
	}

	cancel()
	<-writerDone
}

func (h *NotificationWebsocketHandler) writeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	memberID string,
	replay bool,
	sinceID uint64,
	userSub, broadcastSub *rtapp.Subscription,
) {
	defer conn.Close()

	seen := newSeenIDs(256)
	if replay {
		cursor := sinceID
		for {
			list, err := h.dispatcher.ListFor(ctx, memberID, cursor, maxListLimit)
			if err != nil {
				msg := "internal error"
				if errors.Is(err, domain.ErrStorageUnavailable) {
					msg = domain.ErrStorageUnavailable.Error()
				}
				if !writeResponse(conn, chatdomain.WSResponse{Action: "backlog", Error: msg}) {
					return
				}
				break
			}
			for i := range list {
				seen.add(list[i].ID)
				if !writeResponse(conn, notificationResponse(&list[i])) {
					return
				}
				cursor = list[i].ID
			}
			if len(list) < maxListLimit {
				break
			}
		}
	}

	ticker := time.NewTicker(h.tracker.HeartbeatInterval())
	defer ticker.Stop()

	for {
		var ev rtdomain.Event
		var ok bool
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case ev, ok = <-userSub.Events():
		case ev, ok = <-broadcastSub.Events():
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		}
		if !ok {
			return
		}
		if ev.Type != rtdomain.EventNotificationCreated || ev.Notification == nil {
			continue
		}
		if !seen.add(ev.Notification.ID) {
			continue
		}
		if !writeResponse(conn, notificationResponse(ev.Notification)) {
			return
		}
	}
}

func notificationResponse(n *domain.Notification) chatdomain.WSResponse {
	return chatdomain.WSResponse{
		Action:  string(rtdomain.EventNotificationCreated),
		Success: true,
		Payload: map[string]interface{}{"notification": n},
	}
}

func writeResponse(conn *websocket.Conn, resp chatdomain.WSResponse) bool {
	b, err := json.Marshal(resp)
	if err != nil {
		logger.Log.Error("websocket marshal", zap.Error(err))
		return true
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Log.Debug("write notification error", zap.Error(err))
		return false
	}
	return true
}

// seenIDs 固定大小的已送出 id, 超過時淘汰最舊的
type seenIDs struct {
	limit int
	order []uint64
	set   map[uint64]struct{}
}

func newSeenIDs(limit int) *seenIDs {
	return &seenIDs{limit: limit, set: make(map[uint64]struct{}, limit)}
}

// add 第一次看到回傳 true
func (s *seenIDs) add(id uint64) bool {
	if _, ok := s.set[id]; ok {
		return false
	}
	s.set[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		delete(s.set, s.order[0])
		s.order = s.order[1:]
	}
	return true
}
