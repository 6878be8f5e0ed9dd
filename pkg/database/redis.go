package database

import (
	"context"
	"fmt"
	"time"

	"community_chat_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedisClient inti Redis Sentinel connection
func NewRedisClient(masterName string, sentinelAddrs []string, db int) (*redis.Client, error) {
	rdb := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    masterName,    // 哨兵主节点名称
		SentinelAddrs: sentinelAddrs, // 哨兵地址列表
		DB:            db,
	})

	if err := pingRedis(rdb, 3); err != nil {
		return nil, fmt.Errorf("failed to connect to redis sentinel: %w", err)
	}
	return rdb, nil
}

// NewRedisStandaloneClient 單機 redis (local / test 用)
func NewRedisStandaloneClient(addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := pingRedis(rdb, 3); err != nil {
		return nil, fmt.Errorf("failed to connect to redis[%s]: %w", addr, err)
	}
	return rdb, nil
}

func pingRedis(rdb *redis.Client, retry int) error {
	var err error
	for i := 0; i < retry; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			return nil
		}
		logger.Log.Warn("redis ping failed, retrying...", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Second)
	}
	return err
}
