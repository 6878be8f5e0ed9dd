package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"community_chat_service/internal/chat/domain"
	presenceapp "community_chat_service/internal/presence/app"
	rtapp "community_chat_service/internal/realtime/app"
	rtdomain "community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg/logger"
	"community_chat_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// ChatWebsocketHandler 房間的事件串流
// 一條連線 = 一個 bus subscription + room/global presence
type ChatWebsocketHandler struct {
	roomUC    *RoomUseCase
	messageUC *MessageUseCase
	bus       *rtapp.Bus
	tracker   *presenceapp.Tracker
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(
	roomUC *RoomUseCase,
	messageUC *MessageUseCase,
	bus *rtapp.Bus,
	tracker *presenceapp.Tracker,
) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{
		roomUC:    roomUC,
		messageUC: messageUC,
		bus:       bus,
		tracker:   tracker,
	}
}

// HandleConnection 是 WebSocket 連線的進入點 (/rooms/:roomId/events)
// 帶 sinceId 時先補送之後的訊息再接即時事件
func (h *ChatWebsocketHandler) HandleConnection(conn *websocket.Conn) {
	memberID, _ := conn.Locals(middlewares.TokenMemberID).(string)
	roomID := conn.Params("roomId")
	sinceID := conn.Query("sinceId")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := h.roomUC.Authorize(ctx, roomID, memberID); err != nil {
		writeJSON(conn, domain.WSResponse{Action: "error", Error: ErrorText(err)})
		closeWebSocketConnection(conn, websocket.ClosePolicyViolation, ErrorText(err))
		return
	}

	// 先訂閱再補歷史訊息, 中間不會漏
	roomScope := rtdomain.RoomScope(roomID)
	sub := h.bus.Subscribe(ctx, roomScope)
	scopes := []string{roomScope, rtdomain.GlobalScope}
	for _, scope := range scopes {
		if err := h.tracker.Join(ctx, memberID, scope); err != nil {
			logger.Log.Warn("websocket presence join", zap.String("userID", memberID), zap.String("scope", scope), zap.Error(err))
		}
	}
	logger.Log.Info("websocket connected", zap.String("userID", memberID), zap.String("roomID", roomID))

	defer func() {
		// 斷線時同步取消訂閱與 presence
		sub.Close()
		for _, scope := range scopes {
			if err := h.tracker.Leave(context.Background(), memberID, scope); err != nil {
				logger.Log.Warn("websocket presence leave", zap.String("userID", memberID), zap.String("scope", scope), zap.Error(err))
			}
		}
		conn.Close()
		logger.Log.Info("websocket close", zap.String("userID", memberID), zap.String("roomID", roomID))
	}()

	var cursor *HistoryCursor
	if sinceID != "" {
		cursor = h.messageUC.HistoryCursor(roomID, sinceID, 0)
	}

	replies := make(chan domain.WSResponse, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, sub, replies, cursor)
	}()

	heartbeat := func() {
		for _, scope := range scopes {
			if err := h.tracker.Heartbeat(ctx, memberID, scope); err != nil {
				logger.Log.Warn("websocket heartbeat", zap.String("userID", memberID), zap.Error(err))
			}
		}
	}

	grace := h.tracker.GraceWindow()
	_ = conn.SetReadDeadline(time.Now().Add(grace))

	//server發出ping之後client連線正常會回pong, 視為 heartbeat
	conn.SetPongHandler(func(appData string) error {
		heartbeat()
		return conn.SetReadDeadline(time.Now().Add(grace))
	})

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Debug("connection closed", zap.String("userID", memberID), zap.Error(err))
			} else {
				//直接斷線 1006
				logger.Log.Warn("websocket read error", zap.String("userID", memberID), zap.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(grace))

		if mt != websocket.TextMessage {
			h.reply(ctx, replies, domain.WSResponse{Action: "error", Error: "unsupported message type"})
			continue
		}
		h.textMessageAction(ctx, replies, roomID, memberID, message, heartbeat)
	}

	cancel()
	<-writerDone
}

func (h *ChatWebsocketHandler) textMessageAction(
	ctx context.Context,
	replies chan<- domain.WSResponse,
	roomID, memberID string,
	msg []byte,
	heartbeat func(),
) {
	var req domain.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		h.reply(ctx, replies, domain.WSResponse{Action: "error", Error: "invalid json"})
		return
	}

	resp := domain.WSResponse{Action: req.Action, Payload: map[string]interface{}{}}
	switch domain.Action(req.Action) {
	//message都會寫入db,並傳訊給聊天室內的人
	case domain.SendMessage:
		res, err := h.messageUC.Append(ctx, domain.AppendInput{
			RoomID:     roomID,
			SenderID:   memberID,
			Body:       req.Body,
			DedupToken: req.DedupToken,
		})
		if err != nil {
			resp.Error = ErrorText(err)
			break
		}
		resp.Success = true
		resp.Payload["message_id"] = res.Message.ID
		resp.Payload["seq"] = res.Message.Seq
		resp.Payload["created_at"] = res.Message.CreatedAt
		resp.Payload["duplicate"] = res.Duplicate

	case domain.Heartbeat:
		heartbeat()
		resp.Success = true

	//斷線重連補訊息
	case domain.History:
		msgs, err := h.messageUC.History(ctx, roomID, req.SinceID, req.Limit)
		if err != nil {
			resp.Error = ErrorText(err)
			break
		}
		resp.Success = true
		resp.Payload["messages"] = msgs

	default:
		resp.Action = "error"
		resp.Error = "unknown action"
	}

	if resp.Error != "" {
		logger.Log.Debug("websocket action failed", zap.String("MemberID", memberID), zap.String("Action", req.Action), zap.String("err", resp.Error))
	}
	h.reply(ctx, replies, resp)
}

func (h *ChatWebsocketHandler) reply(ctx context.Context, replies chan<- domain.WSResponse, resp domain.WSResponse) {
	select {
	case replies <- resp:
	case <-ctx.Done():
	}
}

// writeLoop 唯一寫入 conn 的 goroutine: 補歷史訊息, bus 事件, action 回覆, ping
func (h *ChatWebsocketHandler) writeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	sub *rtapp.Subscription,
	replies <-chan domain.WSResponse,
	cursor *HistoryCursor,
) {
	defer conn.Close()

	var lastSeq int64
	if cursor != nil {
		for {
			msgs, err := cursor.Next(ctx)
			if err != nil {
				if !writeJSON(conn, domain.WSResponse{Action: string(domain.History), Error: ErrorText(err)}) {
					return
				}
				break
			}
			if len(msgs) == 0 {
				break
			}
			for i := range msgs {
				ev := rtdomain.MessageCreated(&msgs[i])
				if !writeJSON(conn, eventResponse(ev)) {
					return
				}
			}
		}
		lastSeq = cursor.LastSeq()
	}

	ticker := time.NewTicker(h.tracker.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case resp := <-replies:
			if !writeJSON(conn, resp) {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			// 已經補送過的訊息不重送
			if ev.Type == rtdomain.EventMessageCreated && ev.Message.Seq <= lastSeq {
				continue
			}
			if !writeJSON(conn, eventResponse(ev)) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				logger.Log.Debug("ping error", zap.Error(err))
				return
			}
		}
	}
}

func eventResponse(ev rtdomain.Event) domain.WSResponse {
	return domain.WSResponse{
		Action:  string(ev.Type),
		Success: true,
		Payload: ev.Payload(),
	}
}

// writeJSON - 發送 JSON 給前端, 失敗回傳 false
func writeJSON(conn *websocket.Conn, resp domain.WSResponse) bool {
	b, err := json.Marshal(resp)
	if err != nil {
		logger.Log.Error("websocket marshal", zap.Error(err))
		return true
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Log.Debug("write message error", zap.Error(err))
		return false
	}
	return true
}

func closeWebSocketConnection(conn *websocket.Conn, code int, reason string) {
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		logger.Log.Debug("Failed to send CloseMessage", zap.Error(err))
	}
}

// ErrorText 回給 client 的錯誤訊息, 只暴露 domain error
func ErrorText(err error) string {
	for _, known := range []error{
		domain.ErrInvalidMessage,
		domain.ErrInvalidRoom,
		domain.ErrRoomNotFound,
		domain.ErrRoomArchived,
		domain.ErrNotParticipant,
		domain.ErrMessageNotFound,
		domain.ErrAttachmentNotFound,
		domain.ErrStorageUnavailable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
