package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/yassinboulabiar13-svg/smart-event-app/libs/config"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string
	DedupeTTL time.Duration
}

type KafkaTopics struct {
	Notifications string
	DeadLetter    string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	MaxAttempts   int
	Topics        KafkaTopics
}

type Config struct {
	App          base.AppConfig
	OTLPEndpoint string
	SMTP         SMTPConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("SEV_CONFIG"), "notifier")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:          *appCfg,
		OTLPEndpoint: envString("SEV_OTLP_ENDPOINT", ""),
		SMTP: SMTPConfig{
			Host:     envString("SEV_SMTP_HOST", ""),
			Port:     envInt("SEV_SMTP_PORT", 587),
			Username: envString("SEV_SMTP_USERNAME", ""),
			Password: envString("SEV_SMTP_PASSWORD", ""),
			From:     envString("SEV_SMTP_FROM", "no-reply@smart-event.local"),
		},
		Redis: RedisConfig{
			Addr:      envString("SEV_REDIS_ADDR", ""),
			Password:  envString("SEV_REDIS_PASSWORD", ""),
			DB:        envInt("SEV_REDIS_DB", 0),
			Prefix:    envString("SEV_NOTIFIER_DEDUPE_PREFIX", "sev:notifier:sent:"),
			DedupeTTL: envDuration("SEV_NOTIFIER_DEDUPE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("SEV_KAFKA_BROKERS"),
			ConsumerGroup: envString("SEV_KAFKA_CONSUMER_GROUP", "notifier"),
			MaxAttempts:   envInt("SEV_KAFKA_MAX_ATTEMPTS", 5),
			Topics: KafkaTopics{
				Notifications: envString("SEV_KAFKA_NOTIFICATIONS_TOPIC", "notifications.email"),
				DeadLetter:    envString("SEV_KAFKA_DLQ_TOPIC", "notifications.email.dlq"),
			},
		},
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("SEV_KAFKA_BROKERS must be set")
	}
	if cfg.SMTP.Host == "" {
		return nil, fmt.Errorf("SEV_SMTP_HOST must be set")
	}
	if cfg.Kafka.Topics.Notifications == "" {
		return nil, fmt.Errorf("SEV_KAFKA_NOTIFICATIONS_TOPIC must be set")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
