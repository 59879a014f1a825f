package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port      string
	SiteURL   string
	JWTSecret string
	JWTTTL    time.Duration
	Debug     bool

	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	Flutterwave struct {
		SecretKey  string
		SecretHash string
		BaseURL    string
		Timeout    time.Duration
		Currency   string
		Title      string
		Logo       string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
		LockTTL  time.Duration
	}

	Kafka struct {
		BrokerURL          string
		PaymentStatusTopic string
	}

	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}

	Receipts struct {
		Dir           string
		SigningSecret string
	}

	Outbox struct {
		PollInterval time.Duration
		BatchSize    int
		MaxAttempts  int
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.Port = getEnvOrDefault("PORT", "8080")
	cfg.SiteURL = strings.TrimRight(getEnvOrDefault("SITE_URL", "http://localhost:8080"), "/")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWTTTL = getEnvAsDuration("JWT_TTL", 24*time.Hour)
	cfg.Debug = getEnvOrDefault("DEBUG", "false") == "true"

	cfg.DB.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnvOrDefault("DB_USER", "postgres")
	cfg.DB.Password = getEnvOrDefault("DB_PASSWORD", "")
	cfg.DB.Name = getEnvOrDefault("DB_NAME", "quariarbox")
	cfg.DB.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	cfg.Flutterwave.SecretKey = os.Getenv("FLW_SECRET_KEY")
	cfg.Flutterwave.SecretHash = os.Getenv("FLW_SECRET_HASH")
	cfg.Flutterwave.BaseURL = strings.TrimRight(getEnvOrDefault("FLW_BASE_URL", "https://api.flutterwave.com/v3"), "/")
	cfg.Flutterwave.Timeout = getEnvAsDuration("FLW_TIMEOUT", 15*time.Second)
	cfg.Flutterwave.Currency = getEnvOrDefault("FLW_CURRENCY", "NGN")
	cfg.Flutterwave.Title = getEnvOrDefault("FLW_TITLE", "QuariarBox Courier")
	cfg.Flutterwave.Logo = getEnvOrDefault("FLW_LOGO", cfg.SiteURL+"/static/img/gallery/logo.png")

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)
	cfg.Redis.LockTTL = getEnvAsDuration("REDIS_LOCK_TTL", 30*time.Second)

	cfg.Kafka.BrokerURL = os.Getenv("KAFKA_BROKER_URL")
	cfg.Kafka.PaymentStatusTopic = getEnvOrDefault("KAFKA_PAYMENT_STATUS_TOPIC", "payment_status_updates")

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	cfg.SMTP.Port = getEnvAsInt("SMTP_PORT", 587)
	cfg.SMTP.Username = os.Getenv("SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.From = getEnvOrDefault("SMTP_FROM", "no-reply@quariarbox.local")

	cfg.Receipts.Dir = getEnvOrDefault("RECEIPTS_DIR", "./uploads/receipts")
	cfg.Receipts.SigningSecret = getEnvOrDefault("RECEIPT_SIGNING_SECRET", cfg.JWTSecret)

	cfg.Outbox.PollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second)
	cfg.Outbox.BatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", 20)
	cfg.Outbox.MaxAttempts = getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5)

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		c.DB.Host, c.DB.User, c.DB.Password, c.DB.Name, c.DB.Port, c.DB.SSLMode,
	)
}

// SecureCookies reports whether the site is served over TLS.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.SiteURL, "https://")
}

func (c *Config) KafkaBrokers() []string {
	if c.Kafka.BrokerURL == "" {
		return nil
	}
	return strings.Split(c.Kafka.BrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
