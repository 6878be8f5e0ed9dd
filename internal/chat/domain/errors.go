package domain

import "errors"

var (
	// ErrInvalidMessage empty or too long body
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidRoom bad room kind or participants
	ErrInvalidRoom = errors.New("invalid room request")
	// ErrRoomNotFound room id not exist
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomArchived room is archived
	ErrRoomArchived = errors.New("room archived")
	// ErrNotParticipant user not in private room
	ErrNotParticipant = errors.New("not a room participant")
	// ErrMessageNotFound message id not exist in room
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound object key not belong to room
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrDuplicateKey unique index conflict (repository 層使用)
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStorageUnavailable store unreachable, caller should retry
	ErrStorageUnavailable = errors.New("storage unavailable")
)
