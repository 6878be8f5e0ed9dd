package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	chatdomain "community_chat_service/internal/chat/domain"
	"community_chat_service/internal/notification/domain"
	"community_chat_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// MessageReader kafka consumer group reader
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// MessageEventConsumer 消費 message.created, 處理成功才 commit (at-least-once)
// 重複消費由 notification 的 dedup key 吸收
type MessageEventConsumer struct {
	reader      MessageReader
	dispatcher  *Dispatcher
	maxAttempts int
	retryDelay  time.Duration
}

// NewMessageEventConsumer create MessageEventConsumer
func NewMessageEventConsumer(reader MessageReader, d *Dispatcher, retryDelay time.Duration) *MessageEventConsumer {
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &MessageEventConsumer{
		reader:      reader,
		dispatcher:  d,
		maxAttempts: 5,
		retryDelay:  retryDelay,
	}
}

// Run 直到 ctx 結束
func (c *MessageEventConsumer) Run(ctx context.Context) error {
	logger.Log.Info("message event consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Log.Warn("kafka fetch", zap.Error(err))
			if !sleepCtx(ctx, c.retryDelay) {
				return nil
			}
			continue
		}

		c.handle(ctx, m)
		if ctx.Err() != nil {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			logger.Log.Warn("kafka commit", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (c *MessageEventConsumer) handle(ctx context.Context, m kafka.Message) {
	var ev chatdomain.MessageEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		// 無法解析的訊息直接略過, 避免卡住 partition
		logger.Log.Error("decode message event", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		n, err := c.dispatcher.HandleMessageCreated(ctx, ev)
		if err == nil {
			if n > 0 {
				logger.Log.Debug("message notifications", zap.String("message_id", ev.MessageID), zap.Int("sent", n))
			}
			return
		}
		logger.Log.Warn("handle message event",
			zap.String("message_id", ev.MessageID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !sleepCtx(ctx, c.retryDelay) {
			return
		}
	}
	logger.Log.Error("message event dropped", zap.String("message_id", ev.MessageID), zap.Int64("offset", m.Offset))
}

// AMQPChannel rabbitmq channel 的 Consume
type AMQPChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// ExternalEventConsumer 消費其他服務送來的通知 (職缺、公告)
type ExternalEventConsumer struct {
	channel    AMQPChannel
	dispatcher *Dispatcher
	queueName  string
	retryDelay time.Duration
}

// NewExternalEventConsumer create ExternalEventConsumer
func NewExternalEventConsumer(ch AMQPChannel, d *Dispatcher, queueName string, retryDelay time.Duration) *ExternalEventConsumer {
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &ExternalEventConsumer{
		channel:    ch,
		dispatcher: d,
		queueName:  queueName,
		retryDelay: retryDelay,
	}
}

// Run 開始消費訊息, 手動 ack
func (c *ExternalEventConsumer) Run(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",    // consumer tag，留空由系統分配
		false, // autoAck 為 false，使用手動確認
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return err
	}
	logger.Log.Info("external event consumer started", zap.String("queue", c.queueName))

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				logger.Log.Warn("rabbitmq 消費 channel 已關閉")
				return errors.New("rabbitmq delivery channel closed")
			}
			c.handle(ctx, d)
		case <-ctx.Done():
			logger.Log.Info("external event consumer 收到停止訊號")
			return nil
		}
	}
}

func (c *ExternalEventConsumer) handle(ctx context.Context, d amqp.Delivery) {
	var ev domain.ExternalEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		logger.Log.Error("解析外部事件失敗", zap.Error(err))
		// 格式錯誤重新排入也不會成功
		if err := d.Nack(false, false); err != nil {
			logger.Log.Warn("nack", zap.Error(err))
		}
		return
	}

	n, err := c.dispatcher.Emit(ctx, ev.ToNotification())
	switch {
	case errors.Is(err, domain.ErrInvalidNotification):
		logger.Log.Error("invalid external event", zap.String("type", string(ev.Type)), zap.String("title", ev.Title))
		if err := d.Nack(false, false); err != nil {
			logger.Log.Warn("nack", zap.Error(err))
		}
	case err != nil:
		// 處理失敗時，拒絕訊息並重新排入佇列
		sleepCtx(ctx, c.retryDelay)
		if err := d.Nack(false, true); err != nil {
			logger.Log.Warn("nack", zap.Error(err))
		}
	default:
		if err := d.Ack(false); err != nil {
			logger.Log.Warn("ack", zap.Error(err))
			return
		}
		logger.Log.Debug("external event emitted", zap.Uint64("id", n.ID), zap.String("type", string(n.Type)))
	}
}

// sleepCtx ctx 結束時回傳 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
