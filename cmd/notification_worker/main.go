package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	notificationapp "community_chat_service/internal/notification/app"
	notificationrepo "community_chat_service/internal/notification/repository"
	presenceapp "community_chat_service/internal/presence/app"
	presencerepo "community_chat_service/internal/presence/repository"
	rtapp "community_chat_service/internal/realtime/app"
	rtrepo "community_chat_service/internal/realtime/repository"
	"community_chat_service/pkg/config"
	"community_chat_service/pkg/database"
	"community_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// notification worker
// kafka message.created -> 私訊通知, rabbitmq 外部事件 -> 通知, 結果透過 redis 推到 chat service 的連線
func main() {
	logger.Log = logger.Initialize(config.EnvConfig.NotificationWorker, config.EnvConfig.NotificationWorkerLogPath)
	defer logger.Log.Sync()
	cfg := config.LoadConfig[config.NotificationWorker](config.EnvConfig.NotificationWorker, config.EnvConfig.NotificationWorkerYAMLPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcServer, health, err := database.StartHealthServer(cfg.GRPCPort, config.EnvConfig.NotificationWorker)
	if err != nil {
		logger.Log.Fatal("start grpc health server", zap.Error(err))
	}
	defer grpcServer.GracefulStop()

	// chat service 先起來才有人收推播, 等不到只記錄不中止
	if cfg.ChatHealthAddr != "" {
		if err := database.WaitServing(ctx, cfg.ChatHealthAddr, config.EnvConfig.ChatService, 30*time.Second); err != nil {
			logger.Log.Warn("chat service not serving yet", zap.Error(err))
		}
	}

	// 1. Redis: presence 查詢 + bus relay
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()

	bus := rtapp.NewBus(cfg.NodeID, cfg.Bus, rtrepo.NewRedisPubSub(redisClient, cfg.Redis.ChannelPrefix))
	// worker 只發佈, 不需要 Run relay
	tracker := presenceapp.NewTracker(presencerepo.NewRedisPresenceRepository(redisClient), nil, cfg.Presence)

	// 2. PostgreSQL
	pgDSN := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.Database)
	gormDB, err := database.NewPGConnection(database.Connection{
		ConnectStr:    pgDSN,
		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval) * time.Second,
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgres", zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
	}
	notificationRepo := notificationrepo.NewNotificationRepo(gormDB)
	if err := notificationRepo.AutoMigrate(); err != nil {
		logger.Log.Fatal("notification auto migrate", zap.Error(err))
	}
	dispatcher := notificationapp.NewDispatcher(notificationRepo, bus, tracker)

	var wg sync.WaitGroup

	// 3. Kafka
	if cfg.Kafka.Enabled {
		reader, err := database.NewKafkaReaderWithRetry(database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			GroupID:       cfg.Kafka.GroupID,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: cfg.Kafka.RetryInterval,
		})
		if err != nil {
			logger.Log.Fatal("connect kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		}
		defer reader.Close()

		consumer := notificationapp.NewMessageEventConsumer(reader, dispatcher, cfg.Kafka.RetryInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.Log.Error("message event consumer stopped", zap.Error(err))
			}
		}()
	}

	// 4. RabbitMQ
	if cfg.RabbitMQ.IP != "" {
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr:    fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.IP, cfg.RabbitMQ.Port),
			RetryCount:    cfg.RabbitMQ.RetryCount,
			RetryInterval: cfg.RabbitMQ.RetryInterval,
		})
		if err != nil {
			logger.Log.Fatal("connect rabbitmq", zap.Error(err))
		}
		defer conn.Close()

		ch, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, cfg.RabbitMQ.RetryInterval)
		if err != nil {
			logger.Log.Fatal("rabbitmq channel", zap.Error(err))
		}
		defer ch.Close()

		if err := database.DeclareDurableQueue(ch, cfg.RabbitMQ.Queue); err != nil {
			logger.Log.Fatal("declare queue", zap.String("queue", cfg.RabbitMQ.Queue), zap.Error(err))
		}

		consumer := notificationapp.NewExternalEventConsumer(ch, dispatcher, cfg.RabbitMQ.Queue, cfg.RabbitMQ.RetryInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.Log.Error("external event consumer stopped", zap.Error(err))
				health.SetServingStatus(config.EnvConfig.NotificationWorker, healthpb.HealthCheckResponse_NOT_SERVING)
			}
		}()
	}

	logger.Log.Info("notification worker started", zap.String("node", bus.NodeID()))
	<-ctx.Done()
	logger.Log.Info("shutting down notification worker")
	wg.Wait()
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
