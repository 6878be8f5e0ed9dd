package handlers

import (
	connectionapp "community_chat_service/internal/connection/app"
	"community_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// ConnectionHandler chat requests
type ConnectionHandler struct {
	uc *connectionapp.ConnectionUseCase
}

// NewConnectionHandler create ConnectionHandler
func NewConnectionHandler(uc *connectionapp.ConnectionUseCase) *ConnectionHandler {
	return &ConnectionHandler{uc: uc}
}

// SendRequest connection request body
type SendRequest struct {
	ToUserID string `json:"toUserId"`
}

// Send send chat request
// @Summary Send a chat request
// @Tags Connections
// @Accept json
// @Produce json
// @Param request body SendRequest true "addressee"
// @Success 201 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /connections [post]
func (h *ConnectionHandler) Send(c *fiber.Ctx) error {
	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	r, err := h.uc.Send(c.UserContext(), middlewares.MemberID(c), req.ToUserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"requestId": r.ID})
}

// ListPending pending requests to caller
// @Summary Pending chat requests
// @Tags Connections
// @Produce json
// @Success 200 {array} domain.ConnectionRequest
// @Router /connections/pending [get]
func (h *ConnectionHandler) ListPending(c *fiber.Ctx) error {
	list, err := h.uc.ListPending(c.UserContext(), middlewares.MemberID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// Accept accept request and open private room
// @Summary Accept a chat request
// @Tags Connections
// @Produce json
// @Param id path string true "request id"
// @Success 200 {object} map[string]string
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /connections/{id}/accept [post]
func (h *ConnectionHandler) Accept(c *fiber.Ctx) error {
	roomID, err := h.uc.Accept(c.UserContext(), c.Params("id"), middlewares.MemberID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"roomId": roomID})
}

// Reject reject request
// @Summary Reject a chat request
// @Tags Connections
// @Param id path string true "request id"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /connections/{id}/reject [post]
func (h *ConnectionHandler) Reject(c *fiber.Ctx) error {
	if err := h.uc.Reject(c.UserContext(), c.Params("id"), middlewares.MemberID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
