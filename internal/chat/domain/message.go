package domain

// MessageCollection / SequenceCollection mongo collection name
const (
	MessageCollection  = "chat_messages"
	SequenceCollection = "room_sequences"
)

// MessageState 目前只有 sent, 已讀狀態由 client 自行處理
type MessageState string

const (
	// MessageSent message persisted
	MessageSent MessageState = "sent"
)

// ChatMessage 表示一則聊天訊息, 建立後不再修改
// Seq 為房間內遞增序號, 房間內的排序以 Seq 為準
type ChatMessage struct {
	ID         string       `bson:"id" json:"id"`
	RoomID     string       `bson:"room_id" json:"room_id"`
	Seq        int64        `bson:"seq" json:"seq"`
	SenderID   string       `bson:"sender_id" json:"sender_id"`
	Body       string       `bson:"body" json:"body"`
	State      MessageState `bson:"state" json:"state"`
	DedupToken string       `bson:"dedup_token,omitempty" json:"dedup_token,omitempty"`
	CreatedAt  int64        `bson:"created_at" json:"created_at"` // unix ms
}

// AppendInput append message params
type AppendInput struct {
	RoomID     string
	SenderID   string
	Body       string
	DedupToken string
}

// AppendResult Duplicate=true 代表 dedup token 已使用過, Message 為原本那則
type AppendResult struct {
	Message   *ChatMessage
	Duplicate bool
}

// MessageEvent 寫入 kafka 給 notification worker 的 domain event
type MessageEvent struct {
	MessageID string       `json:"message_id"`
	RoomID    string       `json:"room_id"`
	RoomType  ChatRoomType `json:"room_type"`
	Members   []string     `json:"members,omitempty"`
	SenderID  string       `json:"sender_id"`
	Body      string       `json:"body"`
	Seq       int64        `json:"seq"`
	CreatedAt int64        `json:"created_at"`
}

// NewMessageEvent build event from room & message
func NewMessageEvent(room *ChatRoom, msg *ChatMessage) MessageEvent {
	return MessageEvent{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		RoomType:  room.RoomType,
		Members:   room.Members,
		SenderID:  msg.SenderID,
		Body:      msg.Body,
		Seq:       msg.Seq,
		CreatedAt: msg.CreatedAt,
	}
}
