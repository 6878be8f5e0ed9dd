package repository

import (
	"context"
	"encoding/json"

	"community_chat_service/internal/chat/domain"

	"github.com/segmentio/kafka-go"
)

// MessageEventWriter message.created domain event 出口
type MessageEventWriter interface {
	WriteMessageEvent(ctx context.Context, ev domain.MessageEvent) error
}

type kafkaEventWriter struct {
	writer *kafka.Writer
}

// NewKafkaEventWriter room id 當 key, 同一房間的事件在同一個 partition
func NewKafkaEventWriter(w *kafka.Writer) MessageEventWriter {
	return &kafkaEventWriter{writer: w}
}

func (k *kafkaEventWriter) WriteMessageEvent(ctx context.Context, ev domain.MessageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RoomID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("message.created")},
		},
	})
}
