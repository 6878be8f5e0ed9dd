package router

import (
	"community_chat_service/internal/api/handlers"
	"community_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/gofiber/websocket/v2"
)

// Handlers 所有 http / websocket handler
type Handlers struct {
	Room               *handlers.RoomHandler
	Presence           *handlers.PresenceHandler
	Notification       *handlers.NotificationHandler
	Connection         *handlers.ConnectionHandler
	RoomEvents         func(*websocket.Conn)
	NotificationEvents func(*websocket.Conn)
}

// RegisterRoutes 註冊 chat service 路由
// @title Community Chat Service API
// @version 1.0
// @description Realtime messaging, presence and notifications
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func RegisterRoutes(app *fiber.App, h Handlers) {
	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/", handlers.ConnectCheck)

	jwt := middlewares.JWTMiddleware()
	app.Post("/debug", jwt, handlers.DebugLogFlag)

	rooms := app.Group("/rooms", jwt)
	rooms.Post("/", h.Room.CreateRoom)
	rooms.Get("/", h.Room.ListRooms)
	rooms.Post("/:roomId/archive", h.Room.ArchiveRoom)
	rooms.Post("/:roomId/messages", h.Room.PostMessage)
	rooms.Get("/:roomId/messages", h.Room.GetMessages)
	rooms.Post("/:roomId/attachments", h.Room.UploadAttachment)
	rooms.Get("/:roomId/attachments/url", h.Room.AttachmentURL)
	rooms.Get("/:roomId/events", upgradeOnly, websocket.New(h.RoomEvents))

	presence := app.Group("/presence", jwt)
	presence.Post("/heartbeat", h.Presence.Heartbeat)
	presence.Get("/:scope", h.Presence.Online)

	notifications := app.Group("/notifications", jwt)
	notifications.Get("/", h.Notification.List)
	notifications.Get("/events", upgradeOnly, websocket.New(h.NotificationEvents))
	notifications.Post("/broadcast", h.Notification.Broadcast)
	notifications.Post("/:id/deactivate", h.Notification.Deactivate)

	connections := app.Group("/connections", jwt)
	connections.Post("/", h.Connection.Send)
	connections.Get("/pending", h.Connection.ListPending)
	connections.Post("/:id/accept", h.Connection.Accept)
	connections.Post("/:id/reject", h.Connection.Reject)
}

// upgradeOnly 非 websocket 請求回 426
func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
