package handlers

import (
	"context"
	"net/url"
	"strings"

	chatapp "community_chat_service/internal/chat/app"
	presenceapp "community_chat_service/internal/presence/app"
	presencedomain "community_chat_service/internal/presence/domain"
	"community_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// PresenceHandler http heartbeat for clients without websocket
type PresenceHandler struct {
	tracker *presenceapp.Tracker
	roomUC  *chatapp.RoomUseCase
}

// NewPresenceHandler create PresenceHandler
func NewPresenceHandler(tracker *presenceapp.Tracker, roomUC *chatapp.RoomUseCase) *PresenceHandler {
	return &PresenceHandler{tracker: tracker, roomUC: roomUC}
}

// HeartbeatRequest presence heartbeat body
type HeartbeatRequest struct {
	Scope string `json:"scope"`
}

// OnlineResponse online users of scope
type OnlineResponse struct {
	Scope string   `json:"scope"`
	Users []string `json:"users"`
}

// checkScope scope 只能是 global 或 room:<id>, room 需有權限
func (h *PresenceHandler) checkScope(ctx context.Context, scope, userID string) error {
	if scope == presencedomain.GlobalScope {
		return nil
	}
	roomID, ok := strings.CutPrefix(scope, "room:")
	if !ok || roomID == "" {
		return presenceapp.ErrInvalidScope
	}
	_, err := h.roomUC.Authorize(ctx, roomID, userID)
	return err
}

// Heartbeat refresh presence
// @Summary Presence heartbeat
// @Tags Presence
// @Accept json
// @Param request body HeartbeatRequest true "scope: global or room:<id>"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /presence/heartbeat [post]
func (h *PresenceHandler) Heartbeat(c *fiber.Ctx) error {
	var req HeartbeatRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	memberID := middlewares.MemberID(c)
	if err := h.checkScope(c.UserContext(), req.Scope, memberID); err != nil {
		return respondError(c, err)
	}
	if err := h.tracker.Heartbeat(c.UserContext(), memberID, req.Scope); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Online list online users
// @Summary Online users of a scope
// @Tags Presence
// @Produce json
// @Param scope path string true "global or room:<id>"
// @Success 200 {object} OnlineResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /presence/{scope} [get]
func (h *PresenceHandler) Online(c *fiber.Ctx) error {
	scope, err := url.PathUnescape(c.Params("scope"))
	if err != nil {
		return respondError(c, presenceapp.ErrInvalidScope)
	}
	if err := h.checkScope(c.UserContext(), scope, middlewares.MemberID(c)); err != nil {
		return respondError(c, err)
	}
	users, err := h.tracker.Online(c.UserContext(), scope)
	if err != nil {
		return respondError(c, err)
	}
	if users == nil {
		users = []string{}
	}
	return c.JSON(OnlineResponse{Scope: scope, Users: users})
}
