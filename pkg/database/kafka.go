package database

import (
	"context"
	"fmt"
	"time"

	"community_chat_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewKafkaWriterWithRetry 先確認 broker 可連線再建立 Kafka Writer
// key 相同的訊息會進同一個 partition (room id 當 key 保持房間內順序)
func NewKafkaWriterWithRetry(k KafkaConnection) (*kafka.Writer, error) {
	if err := dialKafka(k); err != nil {
		return nil, err
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(k.Brokers...),
		Topic:                  k.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, nil
}

// NewKafkaReaderWithRetry 建立 consumer group reader
func NewKafkaReaderWithRetry(k KafkaConnection) (*kafka.Reader, error) {
	if err := dialKafka(k); err != nil {
		return nil, err
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.Brokers,
		Topic:          k.Topic,
		GroupID:        k.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // 手動 CommitMessages
	}), nil
}

func dialKafka(k KafkaConnection) error {
	if len(k.Brokers) == 0 {
		return fmt.Errorf("kafka brokers is empty")
	}

	var err error
	for attempt := 1; attempt <= k.RetryCount; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var conn *kafka.Conn
		conn, err = kafka.DialContext(ctx, "tcp", k.Brokers[0])
		cancel()
		if err == nil {
			conn.Close()
			logger.Log.Info("kafka broker connected", zap.Strings("brokers", k.Brokers), zap.Int("attempt", attempt))
			return nil
		}

		logger.Log.Warn("kafka dial failed, retrying...", zap.Int("attempt", attempt), zap.Int("max", k.RetryCount), zap.Error(err))
		time.Sleep(k.RetryInterval)
	}

	return fmt.Errorf("無法連線 Kafka，經過 %d 次嘗試: %v", k.RetryCount, err)
}
