package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, read from the environment.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Business BusinessConfig
	SMTP     SMTPConfig
	SMS      SMSConfig
	Webhooks WebhookConfig
	Gateway  GatewayConfig
	Redis    RedisConfig
	PubSub   PubSubConfig
	Storage  StorageConfig
	Outbox   OutboxConfig
	LogLevel string
}

type DatabaseConfig struct {
	URL         string
	LockTimeout time.Duration
}

type ServerConfig struct {
	Port           string
	AllowedOrigins string
}

// Origins splits the comma-separated ALLOWED_ORIGINS list.
func (c ServerConfig) Origins() []string {
	var out []string
	for _, p := range strings.Split(c.AllowedOrigins, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type BusinessConfig struct {
	AdminEmail         string
	Currency           string
	DefaultPhoneRegion string
}

// SMTPConfig defaults to Gmail's submission endpoint.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.From != "" }

type SMSConfig struct {
	APIURL   string
	APIKey   string
	SenderID string
}

func (c SMSConfig) Enabled() bool { return c.APIURL != "" }

type WebhookConfig struct {
	SlackURL   string
	DiscordURL string
}

func (c WebhookConfig) Enabled() bool { return c.SlackURL != "" || c.DiscordURL != "" }

type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Name    string
	Timeout time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type PubSubConfig struct {
	ProjectID       string
	CredentialsJSON string
	Topic           string
}

type StorageConfig struct {
	Bucket          string
	CredentialsJSON string
	SignerEmail     string
	SignerKey       string
	UploadExpiry    time.Duration
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),
		},
		Business: BusinessConfig{
			AdminEmail:         getEnv("ADMIN_EMAIL", ""),
			Currency:           getEnv("CURRENCY", "TZS"),
			DefaultPhoneRegion: strings.ToUpper(getEnv("DEFAULT_PHONE_REGION", "TZ")),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
		},
		SMS: SMSConfig{
			APIURL:   getEnv("SMS_API_URL", ""),
			APIKey:   getEnv("SMS_API_KEY", ""),
			SenderID: getEnv("SMS_SENDER_ID", "TOPDESIGN"),
		},
		Webhooks: WebhookConfig{
			SlackURL:   getEnv("SLACK_WEBHOOK_URL", ""),
			DiscordURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		},
		Gateway: GatewayConfig{
			BaseURL: getEnv("GATEWAY_BASE_URL", ""),
			APIKey:  getEnv("GATEWAY_API_KEY", ""),
			Name:    getEnv("GATEWAY_NAME", "mobile_money"),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:       getEnv("PUBSUB_PROJECT_ID", getEnv("GOOGLE_CLOUD_PROJECT", "")),
			CredentialsJSON: getEnv("PUBSUB_CREDENTIALS_JSON", ""),
			Topic:           getEnv("PAYMENT_EVENTS_TOPIC", "payment-events"),
		},
		Storage: StorageConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			CredentialsJSON: getEnv("GCS_CREDENTIALS_JSON", ""),
			SignerEmail:     getEnv("GCS_SIGNER_EMAIL", ""),
			SignerKey:       getEnv("GCS_SIGNER_PRIVATE_KEY", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Database.LockTimeout, err = getDuration("DB_LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Gateway.Timeout, err = getDuration("GATEWAY_TIMEOUT", 45*time.Second); err != nil {
		return nil, err
	}
	if cfg.Storage.UploadExpiry, err = getDuration("GCS_UPLOAD_EXPIRY", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Outbox.PollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.SMTP.Port, err = getInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Outbox.BatchSize, err = getInt("OUTBOX_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.Outbox.MaxAttempts, err = getInt("OUTBOX_MAX_ATTEMPTS", 20); err != nil {
		return nil, err
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}
	return cfg, nil
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
