package domain

import "time"

// GlobalScope app 層級在線
const GlobalScope = "global"

// RoomScope room 層級在線 scope
func RoomScope(roomID string) string {
	return "room:" + roomID
}

// Record presence record, LastSeen 為最後一次 heartbeat
type Record struct {
	UserID   string
	Scope    string
	LastSeen time.Time
}

// PresenceChange join / leave event payload
type PresenceChange struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
	Online bool   `json:"online"`
	At     int64  `json:"at"` // unix ms
}
