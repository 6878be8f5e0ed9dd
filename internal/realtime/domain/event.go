package domain

import (
	chatdomain "community_chat_service/internal/chat/domain"
	notificationdomain "community_chat_service/internal/notification/domain"
	presencedomain "community_chat_service/internal/presence/domain"
)

// EventType tagged union tag
type EventType string

const (
	// EventMessageCreated payload: Message
	EventMessageCreated EventType = "message.created"
	// EventPresenceChanged payload: Presence
	EventPresenceChanged EventType = "presence.changed"
	// EventNotificationCreated payload: Notification
	EventNotificationCreated EventType = "notification.created"
)

// GlobalScope app 層級 presence
const GlobalScope = presencedomain.GlobalScope

// BroadcastScope 全體通知, 與 global presence 分開, presence 變動不會擠掉廣播
const BroadcastScope = "broadcast"

// RoomScope room subscribers
func RoomScope(roomID string) string {
	return presencedomain.RoomScope(roomID)
}

// UserScope 個人通知
func UserScope(userID string) string {
	return "user:" + userID
}

// Event bus event, 依 Type 只會有一個 payload
// Origin 為發出的 node id, relay 時用來略過自己發出的事件
type Event struct {
	Type         EventType                        `json:"type"`
	Scope        string                           `json:"scope"`
	Origin       string                           `json:"origin,omitempty"`
	Message      *chatdomain.ChatMessage          `json:"message,omitempty"`
	Presence     *presencedomain.PresenceChange   `json:"presence,omitempty"`
	Notification *notificationdomain.Notification `json:"notification,omitempty"`
}

// MessageCreated build message.created event
func MessageCreated(msg *chatdomain.ChatMessage) Event {
	return Event{Type: EventMessageCreated, Scope: RoomScope(msg.RoomID), Message: msg}
}

// PresenceChanged build presence.changed event
func PresenceChanged(change *presencedomain.PresenceChange) Event {
	return Event{Type: EventPresenceChanged, Scope: change.Scope, Presence: change}
}

// NotificationCreated build notification.created event, 依 target 決定 scope
func NotificationCreated(n *notificationdomain.Notification) Event {
	scope := BroadcastScope
	if !n.IsBroadcast() {
		scope = UserScope(n.TargetUserID)
	}
	return Event{Type: EventNotificationCreated, Scope: scope, Notification: n}
}

// Payload websocket response payload
func (e Event) Payload() map[string]interface{} {
	p := map[string]interface{}{"scope": e.Scope}
	switch e.Type {
	case EventMessageCreated:
		p["message"] = e.Message
	case EventPresenceChanged:
		p["presence"] = e.Presence
	case EventNotificationCreated:
		p["notification"] = e.Notification
	}
	return p
}
