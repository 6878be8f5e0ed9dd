package domain

import (
	"strconv"
	"strings"
)

// ChatRoomType definition chat room type
type ChatRoomType string

const (
	//ChatRoomTypePrivate definition chat room 1 on 1
	ChatRoomTypePrivate ChatRoomType = "private" // 1對1
	//ChatRoomTypeGroup definition chat room group
	ChatRoomTypeGroup ChatRoomType = "group" // 社區大廳
)

// RoomCollection mongo collection name
const RoomCollection = "rooms"

// ChatRoom definition chat room
// private room 的 Members 固定兩人且已排序, PairKey 由 PairKey() 產生
type ChatRoom struct {
	ID        string       `bson:"_id" json:"room_id"`
	RoomType  ChatRoomType `bson:"room_type" json:"room_type"`
	Members   []string     `bson:"members,omitempty" json:"members,omitempty"`
	PairKey   string       `bson:"pair_key,omitempty" json:"-"`
	Archived  bool         `bson:"archived" json:"archived"`
	CreatedAt int64        `bson:"created_at" json:"created_at"` // unix ms
}

// RoomResult getOrCreate 結果
type RoomResult struct {
	Room    *ChatRoom
	Created bool
}

// IsPrivate room type is private
func (r *ChatRoom) IsPrivate() bool {
	return r.RoomType == ChatRoomTypePrivate
}

// HasMember check member in room
func (r *ChatRoom) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// CanPost group room 所有人可發言, private 只限兩位成員
func (r *ChatRoom) CanPost(userID string) bool {
	if r.IsPrivate() {
		return r.HasMember(userID)
	}
	return true
}

// PairKey sorted members 各自加上長度前綴再串接, user id 內含 "|" 也不會撞 key
// ex: [a|b c] -> "3:a|b|1:c", [a b|c] -> "1:a|3:b|c"
func PairKey(sortedMembers []string) string {
	parts := make([]string, 0, len(sortedMembers))
	for _, m := range sortedMembers {
		parts = append(parts, strconv.Itoa(len(m))+":"+m)
	}
	return strings.Join(parts, "|")
}

// ParseRoomType string -> ChatRoomType
func ParseRoomType(s string) (ChatRoomType, bool) {
	switch ChatRoomType(s) {
	case ChatRoomTypePrivate:
		return ChatRoomTypePrivate, true
	case ChatRoomTypeGroup, "general":
		return ChatRoomTypeGroup, true
	}
	return "", false
}
