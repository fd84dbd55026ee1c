/**
 * @description
 * This package handles the configuration management for the sync-service. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * Aggregator credentials, the token encryption key, and the webhook callback
 * URL are opaque inputs here; validation beyond presence happens at the point
 * of use.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the sync-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisTriggerPrefix        string `mapstructure:"REDIS_TRIGGER_PREFIX"`
	PlaidEnv                  string `mapstructure:"PLAID_ENV"`
	PlaidClientID             string `mapstructure:"PLAID_CLIENT_ID"`
	PlaidSecret               string `mapstructure:"PLAID_SECRET"`
	PlaidWebhookSecret        string `mapstructure:"PLAID_WEBHOOK_SECRET"`
	WebhookCallbackURL        string `mapstructure:"WEBHOOK_CALLBACK_URL"`
	EncryptionKey             string `mapstructure:"ENCRYPTION_KEY"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	JWKSURL                   string `mapstructure:"JWKS_URL"`
	RefreshWaitSeconds        int    `mapstructure:"REFRESH_WAIT_SECONDS"`
	SyncTriggerLimitPerMinute int    `mapstructure:"SYNC_TRIGGER_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
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
	viper.SetDefault("PLAID_ENV", "sandbox")
	viper.SetDefault("REDIS_TRIGGER_PREFIX", "centavo:sync_trigger")
	viper.SetDefault("REFRESH_WAIT_SECONDS", 3)
	viper.SetDefault("SYNC_TRIGGER_LIMIT_PER_MINUTE", 6)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_TRIGGER_PREFIX")
	_ = viper.BindEnv("PLAID_ENV")
	_ = viper.BindEnv("PLAID_CLIENT_ID")
	_ = viper.BindEnv("PLAID_SECRET")
	_ = viper.BindEnv("PLAID_WEBHOOK_SECRET")
	_ = viper.BindEnv("WEBHOOK_CALLBACK_URL")
	_ = viper.BindEnv("ENCRYPTION_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SYNC_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("REFRESH_WAIT_SECONDS")
	_ = viper.BindEnv("SYNC_TRIGGER_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
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
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if config.InternalAPIKey == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("SYNC_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisTriggerPrefix = strings.TrimSpace(config.RedisTriggerPrefix)
	if config.RedisTriggerPrefix == "" {
		config.RedisTriggerPrefix = "centavo:sync_trigger"
	}
	config.PlaidEnv = strings.ToLower(strings.TrimSpace(config.PlaidEnv))

	if config.RefreshWaitSeconds < 0 {
		log.Printf("level=warn component=config msg=\"negative refresh wait configured; coercing to zero\" refresh_wait_seconds=%d", config.RefreshWaitSeconds)
		config.RefreshWaitSeconds = 0
	}
	if config.SyncTriggerLimitPerMinute < 0 {
		config.SyncTriggerLimitPerMinute = 0
	}

	return
}

// ValidateAggregator checks the configuration the aggregator client cannot
// run without. Missing credentials are a configuration error: fatal for the
// invocation and never retried internally.
func (c Config) ValidateAggregator() error {
	if strings.TrimSpace(c.PlaidClientID) == "" {
		return fmt.Errorf("PLAID_CLIENT_ID must be configured")
	}
	if strings.TrimSpace(c.PlaidSecret) == "" {
		return fmt.Errorf("PLAID_SECRET must be configured")
	}
	return nil
}
