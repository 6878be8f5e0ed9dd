package handlers

import (
	"strconv"

	notificationapp "community_chat_service/internal/notification/app"
	"community_chat_service/internal/notification/domain"
	"community_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// NotificationHandler notification backlog
type NotificationHandler struct {
	dispatcher *notificationapp.Dispatcher
}

// NewNotificationHandler create NotificationHandler
func NewNotificationHandler(d *notificationapp.Dispatcher) *NotificationHandler {
	return &NotificationHandler{dispatcher: d}
}

// BroadcastRequest admin broadcast body
type BroadcastRequest struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	NavTarget string `json:"navTarget,omitempty"`
}

// List backlog since id
// @Summary List notifications
// @Description 個人通知與廣播, id 升序, 已讀狀態由 client 保存
// @Tags Notifications
// @Produce json
// @Param sinceId query int false "last seen notification id"
// @Param limit query int false "page size"
// @Success 200 {array} domain.Notification
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /notifications [get]
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	var sinceID uint64
	if raw := c.Query("sinceId"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return badRequest(c, "invalid sinceId")
		}
		sinceID = v
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, err.Error())
	}

	list, err := h.dispatcher.ListFor(c.UserContext(), middlewares.MemberID(c), sinceID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// Broadcast admin broadcast
// @Summary Broadcast to all users
// @Tags Notifications
// @Accept json
// @Produce json
// @Param request body BroadcastRequest true "broadcast"
// @Success 201 {object} domain.Notification
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /notifications/broadcast [post]
func (h *NotificationHandler) Broadcast(c *fiber.Ctx) error {
	if !middlewares.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "admin only"})
	}
	var req BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	n, err := h.dispatcher.Emit(c.UserContext(), domain.Notification{
		Type:      domain.TypeAdminBroadcast,
		Title:     req.Title,
		Body:      req.Body,
		NavTarget: req.NavTarget,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

// Deactivate retract notification
// @Summary Retract a notification
// @Tags Notifications
// @Param id path int true "notification id"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /notifications/{id}/deactivate [post]
func (h *NotificationHandler) Deactivate(c *fiber.Ctx) error {
	if !middlewares.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "admin only"})
	}
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "invalid id")
	}
	if err := h.dispatcher.Deactivate(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
