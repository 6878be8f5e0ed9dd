package handlers

import (
	"strings"

	chatapp "community_chat_service/internal/chat/app"
	"community_chat_service/internal/chat/domain"
	"community_chat_service/pkg"
	"community_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// RoomHandler rooms / messages / attachments
type RoomHandler struct {
	roomUC       *chatapp.RoomUseCase
	messageUC    *chatapp.MessageUseCase
	attachmentUC *chatapp.AttachmentUseCase
}

// NewRoomHandler create RoomHandler, attachmentUC 為 nil 時上傳回 503
func NewRoomHandler(roomUC *chatapp.RoomUseCase, messageUC *chatapp.MessageUseCase, attachmentUC *chatapp.AttachmentUseCase) *RoomHandler {
	return &RoomHandler{roomUC: roomUC, messageUC: messageUC, attachmentUC: attachmentUC}
}

// CreateRoomRequest getOrCreate room body
type CreateRoomRequest struct {
	ParticipantIDs []string `json:"participantIds"`
	Kind           string   `json:"kind"`
}

// CreateRoomResponse getOrCreate room result
type CreateRoomResponse struct {
	RoomID  string `json:"roomId"`
	Created bool   `json:"created"`
}

// CreateRoom get or create room
// @Summary Get or create a room
// @Description private room 需要兩位成員且包含呼叫者, group room 回傳社區大廳
// @Tags Rooms
// @Accept json
// @Produce json
// @Param request body CreateRoomRequest true "participants and kind"
// @Success 200 {object} CreateRoomResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /rooms [post]
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	kind, ok := domain.ParseRoomType(req.Kind)
	if !ok {
		return respondError(c, domain.ErrInvalidRoom)
	}

	memberID := middlewares.MemberID(c)
	if kind == domain.ChatRoomTypePrivate && !pkg.Contains(req.ParticipantIDs, memberID) && !middlewares.IsAdmin(c) {
		return respondError(c, domain.ErrNotParticipant)
	}

	res, err := h.roomUC.GetOrCreateRoom(c.UserContext(), kind, req.ParticipantIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(CreateRoomResponse{RoomID: res.Room.ID, Created: res.Created})
}

// ListRooms rooms of caller
// @Summary List my rooms
// @Tags Rooms
// @Produce json
// @Success 200 {array} domain.ChatRoom
// @Failure 503 {object} ErrorResponse
// @Router /rooms [get]
func (h *RoomHandler) ListRooms(c *fiber.Ctx) error {
	rooms, err := h.roomUC.ListRooms(c.UserContext(), middlewares.MemberID(c))
	if err != nil {
		return respondError(c, err)
	}
	if rooms == nil {
		rooms = []domain.ChatRoom{}
	}
	return c.JSON(rooms)
}

// ArchiveRoom archive room
// @Summary Archive a room
// @Tags Rooms
// @Param roomId path string true "room id"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{roomId}/archive [post]
func (h *RoomHandler) ArchiveRoom(c *fiber.Ctx) error {
	err := h.roomUC.Archive(c.UserContext(), c.Params("roomId"), middlewares.MemberID(c), middlewares.IsAdmin(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PostMessageRequest append message body
type PostMessageRequest struct {
	Body       string `json:"body"`
	DedupToken string `json:"dedupToken,omitempty"`
}

// PostMessageResponse append message result
type PostMessageResponse struct {
	MessageID string `json:"messageId"`
	Seq       int64  `json:"seq"`
	CreatedAt int64  `json:"createdAt"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// PostMessage append message
// @Summary Send a message
// @Description 相同 dedupToken 重送時回傳原本的訊息 (200, duplicate=true)
// @Tags Messages
// @Accept json
// @Produce json
// @Param roomId path string true "room id"
// @Param request body PostMessageRequest true "message"
// @Success 201 {object} PostMessageResponse
// @Success 200 {object} PostMessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /rooms/{roomId}/messages [post]
func (h *RoomHandler) PostMessage(c *fiber.Ctx) error {
	var req PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	res, err := h.messageUC.Append(c.UserContext(), domain.AppendInput{
		RoomID:     c.Params("roomId"),
		SenderID:   middlewares.MemberID(c),
		Body:       req.Body,
		DedupToken: req.DedupToken,
	})
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusCreated
	if res.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(PostMessageResponse{
		MessageID: res.Message.ID,
		Seq:       res.Message.Seq,
		CreatedAt: res.Message.CreatedAt,
		Duplicate: res.Duplicate,
	})
}

// GetMessages history
// @Summary Message history
// @Description sinceId 之後的訊息, 依 seq 升序
// @Tags Messages
// @Produce json
// @Param roomId path string true "room id"
// @Param sinceId query string false "last seen message id"
// @Param limit query int false "page size"
// @Success 200 {array} domain.ChatMessage
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{roomId}/messages [get]
func (h *RoomHandler) GetMessages(c *fiber.Ctx) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, err.Error())
	}
	roomID := c.Params("roomId")
	if _, err := h.roomUC.Authorize(c.UserContext(), roomID, middlewares.MemberID(c)); err != nil {
		return respondError(c, err)
	}

	msgs, err := h.messageUC.History(c.UserContext(), roomID, c.Query("sinceId"), limit)
	if err != nil {
		return respondError(c, err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return c.JSON(msgs)
}

// UploadAttachment upload file to room
// @Summary Upload an attachment
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Param roomId path string true "room id"
// @Param file formData file true "file"
// @Success 200 {object} domain.Attachment
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /rooms/{roomId}/attachments [post]
func (h *RoomHandler) UploadAttachment(c *fiber.Ctx) error {
	if h.attachmentUC == nil {
		return respondError(c, domain.ErrStorageUnavailable)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "missing file")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "invalid file")
	}
	defer f.Close()

	contentType := fh.Header.Get(fiber.HeaderContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att, err := h.attachmentUC.Upload(c.UserContext(), c.Params("roomId"), middlewares.MemberID(c), fh.Filename, contentType, fh.Size, f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(att)
}

// AttachmentURL presigned url
// @Summary Get a fresh attachment URL
// @Tags Attachments
// @Produce json
// @Param roomId path string true "room id"
// @Param key query string true "object key"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /rooms/{roomId}/attachments/url [get]
func (h *RoomHandler) AttachmentURL(c *fiber.Ctx) error {
	if h.attachmentUC == nil {
		return respondError(c, domain.ErrStorageUnavailable)
	}
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		return badRequest(c, "missing key")
	}
	url, err := h.attachmentUC.URL(c.UserContext(), c.Params("roomId"), middlewares.MemberID(c), key)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"url": url})
}
