/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage settings.
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

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	SettlementEventExchange   string `mapstructure:"SETTLEMENT_EVENT_EXCHANGE"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	AuthJWKSURL               string `mapstructure:"AUTH_JWKS_URL"`
	ChainAPIBaseURL           string `mapstructure:"CHAIN_API_BASE_URL"`
	ChainAPIKey               string `mapstructure:"CHAIN_API_KEY"`
	SettlementCronSchedule    string `mapstructure:"SETTLEMENT_CRON_SCHEDULE"`
	SettlementRunBudgetSecs   int    `mapstructure:"SETTLEMENT_RUN_BUDGET_SECONDS"`
	SettlementBatchLimit      int    `mapstructure:"SETTLEMENT_BATCH_LIMIT"`
	TriggerRateLimitPerMinute int    `mapstructure:"TRIGGER_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("SETTLEMENT_EVENT_EXCHANGE", "settlement_events")
	viper.SetDefault("SETTLEMENT_CRON_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("SETTLEMENT_RUN_BUDGET_SECONDS", 240)
	viper.SetDefault("SETTLEMENT_BATCH_LIMIT", 50)
	viper.SetDefault("TRIGGER_RATE_LIMIT_PER_MINUTE", 6)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "settlement:rate_limit")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("CHAIN_API_BASE_URL")
	_ = viper.BindEnv("CHAIN_API_KEY")
	_ = viper.BindEnv("SETTLEMENT_CRON_SCHEDULE")
	_ = viper.BindEnv("SETTLEMENT_RUN_BUDGET_SECONDS")
	_ = viper.BindEnv("SETTLEMENT_BATCH_LIMIT")
	_ = viper.BindEnv("TRIGGER_RATE_LIMIT_PER_MINUTE")

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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("SETTLEMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "settlement:rate_limit"
	}
	config.SettlementCronSchedule = strings.TrimSpace(config.SettlementCronSchedule)
	if config.SettlementCronSchedule == "" {
		config.SettlementCronSchedule = "*/5 * * * *"
	}

	if config.SettlementRunBudgetSecs <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive settlement run budget; using default\" budget_seconds=%d", config.SettlementRunBudgetSecs)
		config.SettlementRunBudgetSecs = 240
	}
	if config.SettlementBatchLimit <= 0 {
		config.SettlementBatchLimit = 50
	}
	if config.TriggerRateLimitPerMinute < 0 {
		config.TriggerRateLimitPerMinute = 0
	}

	return
}
