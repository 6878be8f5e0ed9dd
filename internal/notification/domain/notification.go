package domain

import (
	"errors"
	"time"
)

// NotificationType notification type tag
type NotificationType string

const (
	// TypeNewMessage private room 新訊息
	TypeNewMessage NotificationType = "new_message"
	// TypeNewRequest 新的聊天邀請
	TypeNewRequest NotificationType = "new_request"
	// TypeAdminBroadcast 管理員公告
	TypeAdminBroadcast NotificationType = "admin_broadcast"
	// TypeJobPost 社區職缺
	TypeJobPost NotificationType = "job_post"
)

// Valid known type
func (t NotificationType) Valid() bool {
	switch t {
	case TypeNewMessage, TypeNewRequest, TypeAdminBroadcast, TypeJobPost:
		return true
	}
	return false
}

// Notification notification event, TargetUserID 為空代表廣播
// ID 自動遞增, 作為 sinceId cursor
type Notification struct {
	ID           uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Type         NotificationType `gorm:"type:varchar(32);not null;index" json:"type"`
	TargetUserID string           `gorm:"type:varchar(64);not null;default:'';index" json:"target_user_id,omitempty"`
	Title        string           `gorm:"type:varchar(255);not null" json:"title"`
	Body         string           `gorm:"type:text" json:"body"`
	NavTarget    string           `gorm:"type:varchar(255)" json:"nav_target,omitempty"`
	DedupKey     *string          `gorm:"type:varchar(255);uniqueIndex" json:"-"`
	IsActive     bool             `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt    time.Time        `json:"created_at"`
}

// TableName gorm table name
func (Notification) TableName() string {
	return "notifications"
}

// IsBroadcast target all users
func (n *Notification) IsBroadcast() bool {
	return n.TargetUserID == ""
}

// ExternalEvent rabbitmq 進來的外部事件 (職缺、公告)
type ExternalEvent struct {
	Type         NotificationType `json:"type"`
	TargetUserID string           `json:"target_user_id,omitempty"`
	Title        string           `json:"title"`
	Body         string           `json:"body"`
	NavTarget    string           `json:"nav_target,omitempty"`
	DedupKey     string           `json:"dedup_key,omitempty"`
}

// ToNotification external event -> notification
func (e ExternalEvent) ToNotification() Notification {
	n := Notification{
		Type:         e.Type,
		TargetUserID: e.TargetUserID,
		Title:        e.Title,
		Body:         e.Body,
		NavTarget:    e.NavTarget,
	}
	if e.DedupKey != "" {
		key := e.DedupKey
		n.DedupKey = &key
	}
	return n
}

var (
	// ErrInvalidNotification unknown type or empty title
	ErrInvalidNotification = errors.New("invalid notification")
	// ErrNotificationNotFound id not exist
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrDuplicateKey dedup key conflict (repository 層使用)
	ErrDuplicateKey = errors.New("duplicate notification")
	// ErrStorageUnavailable store unreachable
	ErrStorageUnavailable = errors.New("notification storage unavailable")
)
