package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/yassinboulabiar13-svg/smart-event-app/libs/config"
)

const (
	NotifyLog   = "log"
	NotifySMTP  = "smtp"
	NotifyKafka = "kafka"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (d DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SessionConfig struct {
	Secret       string
	Issuer       string
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
	Prefix       string
}

type TwoFactorConfig struct {
	CodeTTL            time.Duration
	VerificationWindow time.Duration
}

type RateLimitConfig struct {
	LoginLimit  int
	VerifyLimit int
	ResendLimit int
	Window      time.Duration
	Prefix      string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type KafkaTopics struct {
	Notifications string
	DomainEvents  string
	DeadLetter    string
}

type KafkaConfig struct {
	Brokers []string
	Topics  KafkaTopics
}

type Config struct {
	App           base.AppConfig
	PublicBaseURL string
	OTLPEndpoint  string
	DB            DBConfig
	Redis         RedisConfig
	Session       SessionConfig
	TwoFactor     TwoFactorConfig
	RateLimit     RateLimitConfig
	NotifyMode    string
	SMTP          SMTPConfig
	Kafka         KafkaConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("SEV_CONFIG"), "portal")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:           *appCfg,
		PublicBaseURL: envString("SEV_PUBLIC_BASE_URL", "http://localhost:8080"),
		OTLPEndpoint:  envString("SEV_OTLP_ENDPOINT", ""),
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "smart_event"),
			User:     envString("POSTGRES_USER", "smartevent"),
			Password: envString("POSTGRES_PASSWORD", "smartevent"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     envString("SEV_REDIS_ADDR", ""),
			Password: envString("SEV_REDIS_PASSWORD", ""),
			DB:       envInt("SEV_REDIS_DB", 0),
		},
		Session: SessionConfig{
			Secret:       envString("SEV_SESSION_SECRET", ""),
			Issuer:       envString("SEV_SESSION_ISSUER", "smart-event"),
			TTL:          envDuration("SEV_SESSION_TTL", 14*24*time.Hour),
			CookieName:   envString("SEV_SESSION_COOKIE", "sev_session"),
			CookieSecure: envBool("SEV_SESSION_COOKIE_SECURE", true),
			Prefix:       envString("SEV_SESSION_PREFIX", "sev:portal:session:"),
		},
		TwoFactor: TwoFactorConfig{
			CodeTTL:            envDuration("SEV_TWO_FACTOR_CODE_TTL", 15*time.Minute),
			VerificationWindow: envDuration("SEV_TWO_FACTOR_WINDOW", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			LoginLimit:  envInt("SEV_LOGIN_RATE_LIMIT", 10),
			VerifyLimit: envInt("SEV_VERIFY_RATE_LIMIT", 5),
			ResendLimit: envInt("SEV_RESEND_RATE_LIMIT", 3),
			Window:      envDuration("SEV_RATE_LIMIT_WINDOW", time.Minute),
			Prefix:      envString("SEV_RATE_LIMIT_PREFIX", "sev:portal:rl:"),
		},
		NotifyMode: strings.ToLower(envString("SEV_NOTIFY_MODE", NotifyLog)),
		SMTP: SMTPConfig{
			Host:     envString("SEV_SMTP_HOST", ""),
			Port:     envInt("SEV_SMTP_PORT", 587),
			Username: envString("SEV_SMTP_USERNAME", ""),
			Password: envString("SEV_SMTP_PASSWORD", ""),
			From:     envString("SEV_SMTP_FROM", "no-reply@smart-event.local"),
		},
		Kafka: KafkaConfig{
			Brokers: envList("SEV_KAFKA_BROKERS", nil),
			Topics: KafkaTopics{
				Notifications: envString("SEV_KAFKA_NOTIFICATIONS_TOPIC", "notifications.email"),
				DomainEvents:  envString("SEV_KAFKA_EVENTS_TOPIC", ""),
				DeadLetter:    envString("SEV_KAFKA_DLQ_TOPIC", ""),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Session.Secret == "" {
		if !c.App.IsDev() {
			return fmt.Errorf("SEV_SESSION_SECRET must be set")
		}
		c.Session.Secret = "dev-only-session-secret"
		c.Session.CookieSecure = false
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SEV_SESSION_TTL must be positive")
	}
	if c.TwoFactor.CodeTTL <= 0 || c.TwoFactor.VerificationWindow <= 0 {
		return fmt.Errorf("two-factor durations must be positive")
	}
	switch c.NotifyMode {
	case NotifyLog:
		if !c.App.IsDev() {
			return fmt.Errorf("SEV_NOTIFY_MODE=log is only allowed in dev")
		}
	case NotifySMTP:
		if c.SMTP.Host == "" {
			return fmt.Errorf("SEV_SMTP_HOST required for smtp notifications")
		}
	case NotifyKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topics.Notifications == "" {
			return fmt.Errorf("kafka brokers and notifications topic required for kafka notifications")
		}
	default:
		return fmt.Errorf("unknown SEV_NOTIFY_MODE %q", c.NotifyMode)
	}
	if c.Kafka.Topics.DomainEvents != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("SEV_KAFKA_BROKERS required when SEV_KAFKA_EVENTS_TOPIC is set")
	}
	return nil
}

// UsesKafka reports whether a producer is needed.
func (c *Config) UsesKafka() bool {
	return c.NotifyMode == NotifyKafka || c.Kafka.Topics.DomainEvents != ""
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

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
