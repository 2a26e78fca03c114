/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort      string `mapstructure:"SERVER_PORT"`
	AppEnv          string `mapstructure:"APP_ENV"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	RabbitMQURL     string `mapstructure:"RABBITMQ_URL"`
	JWKSURL         string `mapstructure:"JWKS_URL"`
	FrontendBaseURL string `mapstructure:"FRONTEND_BASE_URL"`
	PublicBaseURL   string `mapstructure:"PUBLIC_BASE_URL"`
	AllowedOrigins  string `mapstructure:"ALLOWED_ORIGINS"`

	NotificationQueue string `mapstructure:"NOTIFICATION_QUEUE"`

	OrangeMerchantKey   string `mapstructure:"ORANGE_MERCHANT_KEY"`
	OrangeAPIUser       string `mapstructure:"ORANGE_API_USER"`
	OrangeAPIKey        string `mapstructure:"ORANGE_API_KEY"`
	OrangeWebhookSecret string `mapstructure:"ORANGE_WEBHOOK_SECRET"`
	OrangeBaseURL       string `mapstructure:"ORANGE_BASE_URL"`

	MTNAPIUser         string `mapstructure:"MTN_API_USER"`
	MTNAPIKey          string `mapstructure:"MTN_API_KEY"`
	MTNSubscriptionKey string `mapstructure:"MTN_SUBSCRIPTION_KEY"`
	MTNWebhookSecret   string `mapstructure:"MTN_WEBHOOK_SECRET"`
	MTNCallbackURL     string `mapstructure:"MTN_CALLBACK_URL"`
	MTNBaseURL         string `mapstructure:"MTN_BASE_URL"`
	MTNTokenURL        string `mapstructure:"MTN_TOKEN_URL"`

	PaymentRateLimitPerMinute int `mapstructure:"PAYMENT_RATE_LIMIT_PER_MINUTE"`
	PollIntervalSeconds       int `mapstructure:"POLL_INTERVAL_SECONDS"`
	PollMinAgeSeconds         int `mapstructure:"POLL_MIN_AGE_SECONDS"`
	PollBatchSize             int `mapstructure:"POLL_BATCH_SIZE"`
}

// IsProduction reports whether the service runs with production semantics:
// webhook secrets become mandatory and simulation mode is never silent.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

// Origins splits the configured comma-separated CORS origin list.
func (c Config) Origins() []string {
	raw := strings.TrimSpace(c.AllowedOrigins)
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("FRONTEND_BASE_URL", "https://paylink.cm")
	viper.SetDefault("PUBLIC_BASE_URL", "https://api.paylink.cm")
	viper.SetDefault("NOTIFICATION_QUEUE", "payment_service.notifications")
	viper.SetDefault("PAYMENT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("POLL_INTERVAL_SECONDS", 60)
	viper.SetDefault("POLL_MIN_AGE_SECONDS", 120)
	viper.SetDefault("POLL_BATCH_SIZE", 25)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("APP_ENV")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("FRONTEND_BASE_URL")
	_ = viper.BindEnv("PUBLIC_BASE_URL")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("NOTIFICATION_QUEUE")
	_ = viper.BindEnv("ORANGE_MERCHANT_KEY")
	_ = viper.BindEnv("ORANGE_API_USER")
	_ = viper.BindEnv("ORANGE_API_KEY")
	_ = viper.BindEnv("ORANGE_WEBHOOK_SECRET")
	_ = viper.BindEnv("ORANGE_BASE_URL")
	_ = viper.BindEnv("MTN_API_USER")
	_ = viper.BindEnv("MTN_API_KEY")
	_ = viper.BindEnv("MTN_SUBSCRIPTION_KEY")
	_ = viper.BindEnv("MTN_WEBHOOK_SECRET")
	_ = viper.BindEnv("MTN_CALLBACK_URL")
	_ = viper.BindEnv("MTN_BASE_URL")
	_ = viper.BindEnv("MTN_TOKEN_URL")
	_ = viper.BindEnv("PAYMENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("POLL_MIN_AGE_SECONDS")
	_ = viper.BindEnv("POLL_BATCH_SIZE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.FrontendBaseURL = strings.TrimRight(strings.TrimSpace(config.FrontendBaseURL), "/")
	config.PublicBaseURL = strings.TrimRight(strings.TrimSpace(config.PublicBaseURL), "/")

	if config.PaymentRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative payment rate limit configured; coercing to zero\" limit=%d", config.PaymentRateLimitPerMinute)
		config.PaymentRateLimitPerMinute = 0
	}
	if config.PollIntervalSeconds <= 0 {
		config.PollIntervalSeconds = 60
	}
	if config.PollMinAgeSeconds <= 0 {
		config.PollMinAgeSeconds = 120
	}
	if config.PollBatchSize <= 0 {
		config.PollBatchSize = 25
	}

	if config.IsProduction() {
		if config.OrangeWebhookSecret == "" {
			log.Printf("level=warn component=config msg=\"ORANGE_WEBHOOK_SECRET is empty in production; orange callbacks will be rejected\"")
		}
		if config.MTNWebhookSecret == "" {
			log.Printf("level=warn component=config msg=\"MTN_WEBHOOK_SECRET is empty in production; mtn callbacks will be rejected\"")
		}
	}

	return
}
