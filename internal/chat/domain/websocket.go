package domain

// Action websocket request action
type Action string

const (
	// SendMessage websocket action send_message
	SendMessage Action = "send_message"
	// Heartbeat websocket action heartbeat
	Heartbeat Action = "heartbeat"
	// History websocket action history, 斷線重連補訊息
	History Action = "history"
)

// WSRequest websocket Request
type WSRequest struct {
	Action     string `json:"action"`
	Body       string `json:"body,omitempty"`
	DedupToken string `json:"dedup_token,omitempty"`
	SinceID    string `json:"since_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// WSResponse websocket Response, 推播事件時 Action 為事件類型
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
