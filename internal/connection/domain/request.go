package domain

import (
	"errors"
	"time"
)

// RequestStatus connection request status
type RequestStatus string

const (
	// StatusPending 等待對方回覆
	StatusPending RequestStatus = "pending"
	// StatusAccepted 已接受, RoomID 為建立的 private room
	StatusAccepted RequestStatus = "accepted"
	// StatusRejected 已拒絕
	StatusRejected RequestStatus = "rejected"
)

// ConnectionRequest 聊天邀請, 接受後才會建立 private room
type ConnectionRequest struct {
	ID         string        `json:"id"`
	FromUserID string        `json:"from_user_id"`
	ToUserID   string        `json:"to_user_id"`
	Status     RequestStatus `json:"status"`
	RoomID     string        `json:"room_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

var (
	// ErrInvalidRequest empty user id
	ErrInvalidRequest = errors.New("invalid connection request")
	// ErrRequestNotFound request id not exist
	ErrRequestNotFound = errors.New("connection request not found")
	// ErrAlreadyPending 兩人之間已有待處理的邀請
	ErrAlreadyPending = errors.New("connection request already pending")
	// ErrNotAddressee 只有被邀請的人可以接受或拒絕
	ErrNotAddressee = errors.New("not the request addressee")
	// ErrSelfRequest 不能邀請自己
	ErrSelfRequest = errors.New("cannot send request to yourself")
	// ErrRequestClosed request 已接受或拒絕
	ErrRequestClosed = errors.New("connection request already answered")
	// ErrStorageUnavailable store unreachable
	ErrStorageUnavailable = errors.New("connection storage unavailable")
)
