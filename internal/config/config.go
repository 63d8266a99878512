package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nimbuswire/notify-service/pkg/log"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Broker    BrokerConfig
	Store     StoreConfig
	Router    RouterConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
}

type BrokerConfig struct {
	Driver string // "kafka", "redis", "memory"
	Kafka  KafkaConfig
	Redis  RedisConfig
}

type KafkaConfig struct {
	Brokers    string
	Topic      string
	GroupID    string `mapstructure:"group_id"`
	Partitions int
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
}

type StoreConfig struct {
	Driver    string // "cassandra", "gorm", "memory"
	Cassandra CassandraConfig
	Database  DatabaseConfig
}

type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	Username       string
	Password       string
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration
	NumConns       int `mapstructure:"num_conns"`
}

type DatabaseConfig struct {
	Driver   string // "mysql", "postgres", "sqlite"
	Host     string
	Port     int
	User     string
	Password string
	DBName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	FilePath string `mapstructure:"file_path"`
}

type RouterConfig struct {
	DedupWindow  time.Duration `mapstructure:"dedup_window"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// Load reads configuration from ./config/config.yaml plus environment
// variable overrides.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, rely on defaults and env vars.
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("broker.driver", "kafka")
	v.SetDefault("broker.kafka.brokers", "localhost:9092")
	v.SetDefault("broker.kafka.topic", "notify-events")
	v.SetDefault("broker.kafka.group_id", "notify-service")
	v.SetDefault("broker.kafka.partitions", 8)
	v.SetDefault("broker.redis.address", "localhost:6379")
	v.SetDefault("broker.redis.password", "")
	v.SetDefault("broker.redis.db", 0)
	v.SetDefault("broker.redis.channel", "notify:events")
	v.SetDefault("store.driver", "cassandra")
	v.SetDefault("store.cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("store.cassandra.keyspace", "notify")
	v.SetDefault("store.cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("store.cassandra.connect_timeout", "10s")
	v.SetDefault("store.cassandra.timeout", "5s")
	v.SetDefault("store.cassandra.num_conns", 2)
	v.SetDefault("store.database.driver", "sqlite")
	v.SetDefault("store.database.file_path", "notify.db")
	v.SetDefault("store.database.ssl_mode", "disable")
	v.SetDefault("router.dedup_window", "2m")
	v.SetDefault("router.drain_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "notify-service")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("broker.driver", "BROKER_DRIVER")
	v.BindEnv("broker.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("broker.kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("broker.kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("broker.redis.address", "REDIS_ADDRESS")
	v.BindEnv("broker.redis.password", "REDIS_PASSWORD")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("store.cassandra.keyspace", "CASSANDRA_KEYSPACE")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Store.Cassandra.ConnectTimeout = parseDuration(v, "store.cassandra.connect_timeout", 10*time.Second)
	cfg.Store.Cassandra.Timeout = parseDuration(v, "store.cassandra.timeout", 5*time.Second)
	cfg.Router.DedupWindow = parseDuration(v, "router.dedup_window", 2*time.Minute)
	cfg.Router.DrainTimeout = parseDuration(v, "router.drain_timeout", 10*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
