package config

import "time"

// Chat definition chat_service YAML structure
type Chat struct {
	Port          string `mapstructure:"port"`
	GRPCPort      string `mapstructure:"grpc_port"`
	NodeID        string `mapstructure:"node_id"`
	GeneralRoomID string `mapstructure:"general_room_id"`

	MongoSQL   DatabaseConfig `mapstructure:"mongo"`
	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	MinIO      MinIOConfig    `mapstructure:"minio"`

	Presence PresenceConfig `mapstructure:"presence"`
	Bus      BusConfig      `mapstructure:"bus"`
	Message  MessageConfig  `mapstructure:"message"`
}

// NotificationWorker definition notification_worker YAML structure
type NotificationWorker struct {
	GRPCPort       string `mapstructure:"grpc_port"`
	NodeID         string `mapstructure:"node_id"`
	ChatHealthAddr string `mapstructure:"chat_health_addr"`

	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`

	Presence PresenceConfig `mapstructure:"presence"`
	Bus      BusConfig      `mapstructure:"bus"`
}

// RedisConfig definition redis setting
// Addr 有值時使用單機連線, 否則走 sentinel
type RedisConfig struct {
	RedisDB       int    `mapstructure:"redis_db"`
	Addr          string `mapstructure:"addr"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition kafka setting, Enabled=false 時 message event 直接交給 dispatcher
type KafkaConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	GroupID       string        `mapstructure:"group_id"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP            string        `mapstructure:"ip"`
	Port          string        `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Queue         string        `mapstructure:"queue"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	BucketName    string        `mapstructure:"bucket_name"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// PresenceConfig heartbeat interval & grace window
type PresenceConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	GraceWindow       time.Duration `mapstructure:"grace_window"`
}

// BusConfig event bus per subscriber buffer & reorder hold time
type BusConfig struct {
	BufferSize  int           `mapstructure:"buffer_size"`
	HoldTimeout time.Duration `mapstructure:"hold_timeout"`
}

// MessageConfig message limits
// GapHold: history 遇到還沒寫入的 seq 時, 先停在缺號前面的時間上限
type MessageConfig struct {
	MaxBodyLength       int           `mapstructure:"max_body_length"`
	DefaultHistoryLimit int           `mapstructure:"default_history_limit"`
	MaxHistoryLimit     int           `mapstructure:"max_history_limit"`
	GapHold             time.Duration `mapstructure:"gap_hold"`
}

// Defaults 各 service 共用的預設值
var Defaults = map[string]interface{}{
	"general_room_id":               "general",
	"node_id":                       "",
	"grpc_port":                     "50051",
	"redis.channel_prefix":          "chat:",
	"kafka.topic":                   "chat.message.created",
	"kafka.group_id":                "notification_worker",
	"kafka.retry_count":             5,
	"kafka.retry_interval":          "2s",
	"rabbitmq.queue":                "notification.events",
	"rabbitmq.retry_count":          5,
	"rabbitmq.retry_interval":       "2s",
	"minio.presign_expiry":          "15m",
	"minio.retry_count":             5,
	"minio.retry_interval":          "2s",
	"presence.heartbeat_interval":   "3s",
	"presence.grace_window":         "9s",
	"bus.buffer_size":               64,
	"bus.hold_timeout":              "500ms",
	"message.max_body_length":       4000,
	"message.default_history_limit": 50,
	"message.max_history_limit":     200,
	"message.gap_hold":              "5s",
}
