package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "community_chat_service/cmd/chat_service/docs"
	"community_chat_service/internal/api/handlers"
	"community_chat_service/internal/api/router"
	chatapp "community_chat_service/internal/chat/app"
	chatdomain "community_chat_service/internal/chat/domain"
	chatrepo "community_chat_service/internal/chat/repository"
	connectionapp "community_chat_service/internal/connection/app"
	connectionrepo "community_chat_service/internal/connection/repository"
	notificationapp "community_chat_service/internal/notification/app"
	notificationrepo "community_chat_service/internal/notification/repository"
	presenceapp "community_chat_service/internal/presence/app"
	presencerepo "community_chat_service/internal/presence/repository"
	rtapp "community_chat_service/internal/realtime/app"
	rtrepo "community_chat_service/internal/realtime/repository"
	"community_chat_service/pkg/config"
	"community_chat_service/pkg/database"
	"community_chat_service/pkg/logger"
	testtool "community_chat_service/pkg/test_tool"
	"community_chat_service/pkg/token"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()
	cfg := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	token.SetSecret(config.EnvConfig.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Mongo (room / message)
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.MongoSQL.RetryCount,
			RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval) * time.Second,
		},
		cfg.MongoSQL.Database)
	if err != nil {
		logger.Log.Fatal("Unable to connect to mongoDB database after retries",
			zap.String("host", cfg.MongoSQL.Host),
			zap.Error(err),
		)
	}
	defer mongo.Close(context.Background())

	roomRepo := chatrepo.NewMongoChatRepository(mongo.Database)
	msgRepo := chatrepo.NewMongoChatMessageRepository(mongo.Database)
	if err := roomRepo.EnsureIndexes(ctx); err != nil {
		logger.Log.Fatal("ensure room indexes", zap.Error(err))
	}
	if err := msgRepo.EnsureIndexes(ctx); err != nil {
		logger.Log.Fatal("ensure message indexes", zap.Error(err))
	}

	// 2. Redis (presence + 跨 node pub/sub)
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()

	bus := rtapp.NewBus(cfg.NodeID, cfg.Bus, rtrepo.NewRedisPubSub(redisClient, cfg.Redis.ChannelPrefix))
	go bus.Run(ctx)

	tracker := presenceapp.NewTracker(presencerepo.NewRedisPresenceRepository(redisClient), bus, cfg.Presence)
	go tracker.Run(ctx)

	// 3. PostgreSQL (notification: gorm, connection request: pgx)
	pgDSN := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.Database)
	pgConn := database.Connection{
		ConnectStr:    pgDSN,
		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval) * time.Second,
	}

	gormDB, err := database.NewPGConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgres (gorm)", zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
	}
	notificationRepo := notificationrepo.NewNotificationRepo(gormDB)
	if err := notificationRepo.AutoMigrate(); err != nil {
		logger.Log.Fatal("notification auto migrate", zap.Error(err))
	}
	dispatcher := notificationapp.NewDispatcher(notificationRepo, bus, tracker)

	pool, err := database.NewDatabaseConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgres (pgx)", zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
	}
	defer pool.Close()
	requestRepo := connectionrepo.NewRequestRepository(pool)
	if err := requestRepo.EnsureSchema(ctx); err != nil {
		logger.Log.Fatal("connection request schema", zap.Error(err))
	}

	// 4. message.created 事件: kafka 交給 notification worker, 未啟用時直接在本機處理
	var events chatrepo.MessageEventWriter = notificationapp.NewInlineEventWriter(dispatcher)
	if cfg.Kafka.Enabled {
		writer, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: cfg.Kafka.RetryInterval,
		})
		if err != nil {
			logger.Log.Fatal("connect kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
		defer writer.Close()
		events = chatrepo.NewKafkaEventWriter(writer)
	}

	// 5. MinIO (附件), 未啟用時附件 API 回 503
	var storage chatapp.ObjectStorage
	if cfg.MinIO.Enabled {
		mc, err := database.NewMinIOConnection(database.MinIOConnection{
			Endpoint:      fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
			User:          cfg.MinIO.User,
			Password:      cfg.MinIO.Password,
			BucketName:    cfg.MinIO.BucketName,
			UseSSL:        cfg.MinIO.UseSSL,
			RetryCount:    cfg.MinIO.RetryCount,
			RetryInterval: cfg.MinIO.RetryInterval,
		})
		if err != nil {
			logger.Log.Fatal("connect minio", zap.String("host", cfg.MinIO.Host), zap.Error(err))
		}
		storage = mc
	}

	// 6. UseCases
	roomUC := chatapp.NewRoomUseCase(roomRepo, cfg.GeneralRoomID)
	messageUC := chatapp.NewMessageUseCase(roomRepo, msgRepo, bus, events, cfg.Message)
	attachmentUC := chatapp.NewAttachmentUseCase(roomUC, storage, cfg.MinIO.PresignExpiry)
	connectionUC := connectionapp.NewConnectionUseCase(requestRepo, roomUC, dispatcher)

	if _, err := roomUC.GetOrCreateRoom(ctx, chatdomain.ChatRoomTypeGroup, nil); err != nil {
		logger.Log.Warn("general room not ready", zap.Error(err))
	}

	roomWS := chatapp.NewChatWebsocketHandler(roomUC, messageUC, bus, tracker)
	notificationWS := notificationapp.NewNotificationWebsocketHandler(dispatcher, bus, tracker)

	// 7. gRPC health + pprof
	grpcServer, _, err := database.StartHealthServer(cfg.GRPCPort, config.EnvConfig.ChatService)
	if err != nil {
		logger.Log.Fatal("start grpc health server", zap.Error(err))
	}
	defer grpcServer.GracefulStop()

	if config.IsLocal() {
		testtool.StartPprof("localhost:6060")
	}

	// 8. Fiber
	app := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	app.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))

	router.RegisterRoutes(app, router.Handlers{
		Room:               handlers.NewRoomHandler(roomUC, messageUC, attachmentUC),
		Presence:           handlers.NewPresenceHandler(tracker, roomUC),
		Notification:       handlers.NewNotificationHandler(dispatcher),
		Connection:         handlers.NewConnectionHandler(connectionUC),
		RoomEvents:         roomWS.HandleConnection,
		NotificationEvents: notificationWS.HandleConnection,
	})

	go func() {
		<-ctx.Done()
		logger.Log.Info("shutting down chat service")
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			logger.Log.Error("fiber shutdown", zap.Error(err))
		}
	}()

	port := ":" + cfg.Port
	if config.EnvConfig.ChatServicePort != "" {
		port = ":" + config.EnvConfig.ChatServicePort
	}
	logger.Log.Info("Chat Service listening", zap.String("addr", port), zap.String("node", bus.NodeID()))
	if err := app.Listen(port); err != nil {
		logger.Log.Fatal("Failed to start Fiber", zap.Error(err))
	}
}

// connectRedis addr 有值時使用單機, 否則從 .env 讀 sentinel 設定
func connectRedis(c config.RedisConfig) *redis.Client {
	if c.Addr != "" {
		client, err := database.NewRedisStandaloneClient(c.Addr, c.RedisDB)
		if err != nil {
			logger.Log.Fatal("connect redis", zap.String("addr", c.Addr), zap.Error(err))
		}
		return client
	}

	masterName, sentinel := config.GetRedisSetting()
	client, err := database.NewRedisClient(masterName, sentinel, c.RedisDB)
	if err != nil {
		logger.Log.Fatal("connect redis sentinel", zap.String("master", masterName), zap.Error(err))
	}
	return client
}
