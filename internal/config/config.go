package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	BotToken     string `validate:"required"`
	BotUsername  string
	SuperAdminID string `validate:"omitempty,numeric"`

	DBDriver string `validate:"oneof=sqlite postgres"`
	DBDsn    string `validate:"required"`

	RazorpayKeyID     string
	RazorpayKeySecret string
	Currency          string        `validate:"required,len=3"`
	CallbackURL       string        `validate:"omitempty,url"`
	BrandName         string        `validate:"required"`
	ProviderTimeout   time.Duration `validate:"gt=0"`

	PlanDurationDays int   `validate:"gt=0"`
	BasicPrice       int64 `validate:"gt=0"`
	ProPrice         int64 `validate:"gt=0"`
	PremiumPrice     int64 `validate:"gt=0"`

	ReminderDays int `validate:"gte=1"`

	HealthAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SentryDSN string
}

var validate = validator.New()

func Load() *Config {
	// .env is optional; plain environment variables win when both are set
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env file not loaded", "error", err)
	}

	return &Config{
		BotToken:     os.Getenv("BOT_TOKEN"),
		BotUsername:  strings.TrimPrefix(os.Getenv("BOT_USERNAME"), "@"),
		SuperAdminID: os.Getenv("SUPER_ADMIN_ID"),

		DBDriver: getEnvOrDefault("DB_DRIVER", "sqlite"),
		DBDsn:    getEnvOrDefault("DB_DSN", "/data/approve-bot.db"),

		RazorpayKeyID:     os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret: os.Getenv("RAZORPAY_KEY_SECRET"),
		Currency:          getEnvOrDefault("PAYMENT_CURRENCY", "INR"),
		CallbackURL:       getEnvOrDefault("PAYMENT_CALLBACK_URL", "https://razorpay.com/"),
		BrandName:         getEnvOrDefault("BRAND_NAME", "GetAIPilot"),
		ProviderTimeout:   getDurationOrDefault("PROVIDER_TIMEOUT", 10*time.Second),

		PlanDurationDays: getIntOrDefault("PLAN_DURATION_DAYS", 30),
		BasicPrice:       int64(getIntOrDefault("BASIC_PRICE_PAISE", 69900)),
		ProPrice:         int64(getIntOrDefault("PRO_PRICE_PAISE", 149900)),
		PremiumPrice:     int64(getIntOrDefault("PREMIUM_PRICE_PAISE", 249900)),

		ReminderDays: getIntOrDefault("REMINDER_DAYS", 3),

		HealthAddr: getEnvOrDefault("HEALTH_ADDR", "0.0.0.0:8080"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getIntOrDefault("REDIS_DB", 0),

		SentryDSN: os.Getenv("SENTRY_DSN"),
	}
}

// Validate reports the first group of invalid fields. Only the bot token and
// the storage settings are mandatory; payment credentials are optional.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PaymentsConfigured reports whether both Razorpay credentials are present.
func (c *Config) PaymentsConfigured() bool {
	return c.RazorpayKeyID != "" && c.RazorpayKeySecret != ""
}

// SuperAdmin returns the parsed super admin id, or 0 when unset.
func (c *Config) SuperAdmin() int64 {
	id, err := strconv.ParseInt(c.SuperAdminID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return n
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return d
}
