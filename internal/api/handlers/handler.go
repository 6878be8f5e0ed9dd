package handlers

import (
	"errors"
	"fmt"
	"strconv"

	chatdomain "community_chat_service/internal/chat/domain"
	connectiondomain "community_chat_service/internal/connection/domain"
	notificationdomain "community_chat_service/internal/notification/domain"
	presenceapp "community_chat_service/internal/presence/app"
	rtdomain "community_chat_service/internal/realtime/domain"
	"community_chat_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorResponse error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConnectCheck check api connect start
// @Summary Check chat service status
// @Description Returns a simple confirmation message
// @Tags Shared
// @Success 200 {string} string "chat service start!"
// @Router / [get]
func ConnectCheck(c *fiber.Ctx) error {
	return c.SendString("chat service start!")
}

// DebugLogFlag toggle debug log flag
// @Summary Toggle Debug Log Flag
// @Description Enable or disable debug logging
// @Tags Shared
// @Param status query bool true "Debug status"
// @Success 200 {string} string "debug mode updated"
// @Failure 400 {object} ErrorResponse "Invalid status value"
// @Router /debug [post]
func DebugLogFlag(c *fiber.Ctx) error {
	statusStr := c.Query("status")
	logger.Log.Info("debug", zap.String("status", statusStr))
	status, err := strconv.ParseBool(statusStr)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid status value"})
	}

	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("debug mode is : %t", status))
}

var errorStatus = []struct {
	err    error
	status int
}{
	{chatdomain.ErrInvalidMessage, fiber.StatusBadRequest},
	{chatdomain.ErrInvalidRoom, fiber.StatusBadRequest},
	{connectiondomain.ErrInvalidRequest, fiber.StatusBadRequest},
	{connectiondomain.ErrSelfRequest, fiber.StatusBadRequest},
	{notificationdomain.ErrInvalidNotification, fiber.StatusBadRequest},
	{presenceapp.ErrInvalidScope, fiber.StatusBadRequest},

	{chatdomain.ErrNotParticipant, fiber.StatusForbidden},
	{connectiondomain.ErrNotAddressee, fiber.StatusForbidden},

	{chatdomain.ErrRoomNotFound, fiber.StatusNotFound},
	{chatdomain.ErrMessageNotFound, fiber.StatusNotFound},
	{chatdomain.ErrAttachmentNotFound, fiber.StatusNotFound},
	{connectiondomain.ErrRequestNotFound, fiber.StatusNotFound},
	{notificationdomain.ErrNotificationNotFound, fiber.StatusNotFound},

	{chatdomain.ErrRoomArchived, fiber.StatusConflict},
	{connectiondomain.ErrAlreadyPending, fiber.StatusConflict},
	{connectiondomain.ErrRequestClosed, fiber.StatusConflict},

	{chatdomain.ErrStorageUnavailable, fiber.StatusServiceUnavailable},
	{connectiondomain.ErrStorageUnavailable, fiber.StatusServiceUnavailable},
	{notificationdomain.ErrStorageUnavailable, fiber.StatusServiceUnavailable},
	{rtdomain.ErrTransportDisconnected, fiber.StatusServiceUnavailable},
}

// StatusOf domain error -> http status, 未知錯誤為 500
func StatusOf(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.err.Error()
		}
	}
	return fiber.StatusInternalServerError, "internal error"
}

func respondError(c *fiber.Ctx, err error) error {
	status, msg := StatusOf(err)
	if status >= fiber.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	} else {
		logger.Log.Debug("request rejected", zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	}
	return c.Status(status).JSON(ErrorResponse{Error: msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}
