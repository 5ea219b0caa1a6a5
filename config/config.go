package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig configures the inventory store. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL          string
	Isolation    string
	LockTimeout  time.Duration
	AutoMigrate  bool
	MaxOpenConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers            []string
	TopicSales         string
	TopicNotifications string
	ConsumerGroup      string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
	PrometheusPort string
}

type BusinessConfig struct {
	PhoneCountryCode    string
	CurrencyCode        string
	NotificationTimeout time.Duration
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	maxOpen, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil || maxOpen < 1 {
		maxOpen = 25
	}
	lockTimeoutMs, err := strconv.Atoi(getEnv("DB_LOCK_TIMEOUT_MS", "5000"))
	if err != nil || lockTimeoutMs < 1 {
		lockTimeoutMs = 5000
	}
	notifyTimeout, err := strconv.Atoi(getEnv("NOTIFICATION_TIMEOUT_SECONDS", "10"))
	if err != nil || notifyTimeout < 1 {
		notifyTimeout = 10
	}
	autoMigrate, _ := strconv.ParseBool(getEnv("DB_AUTO_MIGRATE", "true"))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			Isolation:    strings.ToLower(getEnv("DB_ISOLATION", "read_committed")),
			LockTimeout:  time.Duration(lockTimeoutMs) * time.Millisecond,
			AutoMigrate:  autoMigrate,
			MaxOpenConns: maxOpen,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers:            splitList(os.Getenv("KAFKA_BROKERS")),
			TopicSales:         getEnv("KAFKA_TOPIC_SALE_EVENTS", "sale-events"),
			TopicNotifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "sms-notifications"),
			ConsumerGroup:      getEnv("KAFKA_CONSUMER_GROUP", "pos-stock-snapshot"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			PrometheusPort: getEnv("PROMETHEUS_PORT", "9090"),
		},
		Business: BusinessConfig{
			PhoneCountryCode:    strings.TrimPrefix(getEnv("PHONE_COUNTRY_CODE", "254"), "+"),
			CurrencyCode:        getEnv("CURRENCY_CODE", "KES"),
			NotificationTimeout: time.Duration(notifyTimeout) * time.Second,
		},
	}

	log.Printf("Config loaded: env=%s, port=%s", cfg.Server.Env, cfg.Server.Port)
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
