package config

import (
	"time"

	pkgconfig "github.com/weiawesome/wes-io-messenger/pkg/config"
	"github.com/weiawesome/wes-io-messenger/pkg/database"
	"github.com/weiawesome/wes-io-messenger/pkg/log"
	"github.com/weiawesome/wes-io-messenger/pkg/pubsub"
	"github.com/weiawesome/wes-io-messenger/pkg/storage"
)

type Config struct {
	Server      ServerConfig
	WebSocket   WebSocketConfig
	Storage     StorageConfig
	Database    database.Config
	Mongo       MongoConfig
	Redis       RedisConfig
	Cache       CacheConfig
	Suggestion  SuggestionConfig
	PubSub      pubsub.Config `mapstructure:"pubsub"`
	Attachments AttachmentsConfig
	ID          IDConfig `mapstructure:"id"`
	Delivery    DeliveryConfig
	Log         log.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
}

// StorageConfig selects the conversation/message store: gorm, mongo or memory.
type StorageConfig struct {
	Driver string
}

type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

type SuggestionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AttachmentsConfig struct {
	Storage   storage.Config `mapstructure:"storage"`
	MaxSize   int64          `mapstructure:"max_size"`
	URLExpiry time.Duration  `mapstructure:"url_expiry"`
}

type IDConfig struct {
	MachineID int64 `mapstructure:"machine_id"`
	Epoch     int64 `mapstructure:"epoch"`
}

type DeliveryConfig struct {
	UnreadConcurrency int `mapstructure:"unread_concurrency"`
	SenderLockStripes int `mapstructure:"sender_lock_stripes"`
}

// Load reads config.yaml from configPath (if present) and the environment.
func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "messenger.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "messenger")
	v.SetDefault("mongo.timeout", "10s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.prefix", "messenger:page")
	v.SetDefault("suggestion.base_url", "")
	v.SetDefault("suggestion.timeout", "3s")
	v.SetDefault("pubsub.driver", "none")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("attachments.storage.driver", "local")
	v.SetDefault("attachments.storage.local.base_path", "./data/attachments")
	v.SetDefault("attachments.storage.local.url_prefix", "/files")
	v.SetDefault("attachments.max_size", 10<<20)
	v.SetDefault("attachments.url_expiry", "24h")
	v.SetDefault("id.machine_id", 1)
	v.SetDefault("id.epoch", 0)
	v.SetDefault("delivery.unread_concurrency", 8)
	v.SetDefault("delivery.sender_lock_stripes", 64)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "messenger")

	pkgconfig.BindEnvs(v,
		"storage.driver",
		"database.driver", "database.dsn",
		"mongo.uri", "mongo.database",
		"redis.address", "redis.password", "redis.db",
		"cache.enabled", "cache.ttl",
		"suggestion.base_url", "suggestion.timeout",
		"pubsub.driver", "pubsub.kafka.brokers",
		"attachments.storage.driver",
		"attachments.storage.s3.endpoint", "attachments.storage.s3.bucket",
		"attachments.storage.s3.access_key_id", "attachments.storage.s3.secret_access_key",
		"id.machine_id",
		"log.level", "log.pretty",
	)
	_ = v.BindEnv("server.port", "PORT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ReadTimeout = pkgconfig.Duration(v, "server.read_timeout", 15*time.Second)
	cfg.Server.WriteTimeout = pkgconfig.Duration(v, "server.write_timeout", 15*time.Second)
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Mongo.Timeout = pkgconfig.Duration(v, "mongo.timeout", 10*time.Second)
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 5*time.Minute)
	cfg.Suggestion.Timeout = pkgconfig.Duration(v, "suggestion.timeout", 3*time.Second)
	cfg.Attachments.URLExpiry = pkgconfig.Duration(v, "attachments.url_expiry", 24*time.Hour)

	// The event bus reuses the shared redis connection settings.
	cfg.PubSub.Redis = pubsub.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	return &cfg, nil
}
