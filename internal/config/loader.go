package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configFile (optional), applies defaults and WORKFEED_*
// environment variables, then validates the result.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("WORKFEED")
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", EnvironmentDevelopment)

	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.rate_limit.rps", 50)
	viper.SetDefault("server.rate_limit.burst", 100)

	viper.SetDefault("realtime.development.socket_url", "ws://localhost:8000/ws")
	viper.SetDefault("realtime.development.api_base_url", "http://localhost:8000")
	viper.SetDefault("realtime.auto_connect", true)
	viper.SetDefault("realtime.reconnect_interval", "1000ms")
	viper.SetDefault("realtime.max_reconnect_interval", "30000ms")
	viper.SetDefault("realtime.max_reconnect_attempts", 5)
	viper.SetDefault("realtime.sse_reconnect_interval", "3000ms")
	viper.SetDefault("realtime.poll_interval", "5000ms")
	viper.SetDefault("realtime.identity_poll.interval", "60000ms")
	viper.SetDefault("realtime.identity_poll.limit", 50)

	viper.SetDefault("broker.kafka.group_id", "workfeed")
	viper.SetDefault("broker.kafka.input_topic", "work_item_events")
	viper.SetDefault("broker.kafka.notification_topic", "work_item_notifications")
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", "1s")
	viper.SetDefault("broker.kafka.retry.max_interval", "30s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("notifications.queue_size", 256)
	viper.SetDefault("notifications.guard.ttl_seconds", 3600)
	viper.SetDefault("notifications.guard.on_redis_error", "allow")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("tracing.service_name", "workfeed")
	viper.SetDefault("tracing.sampler.type", "parentbased_always_on")
}

func bindEnvVariables() {
	viper.BindEnv("environment", "WORKFEED_ENVIRONMENT")

	viper.BindEnv("realtime.socket_url", "WORKFEED_SOCKET_URL")
	viper.BindEnv("realtime.sse_url", "WORKFEED_SSE_URL")
	viper.BindEnv("realtime.api_base_url", "WORKFEED_API_BASE_URL")
	viper.BindEnv("realtime.poll_url", "WORKFEED_POLL_URL")
	viper.BindEnv("realtime.token", "WORKFEED_TOKEN")
	viper.BindEnv("realtime.auto_connect", "WORKFEED_AUTO_CONNECT")
	viper.BindEnv("realtime.reconnect_interval", "WORKFEED_RECONNECT_INTERVAL")
	viper.BindEnv("realtime.max_reconnect_attempts", "WORKFEED_MAX_RECONNECT_ATTEMPTS")
	viper.BindEnv("realtime.poll_interval", "WORKFEED_POLL_INTERVAL")

	viper.BindEnv("redis.host", "WORKFEED_REDIS_HOST")
	viper.BindEnv("redis.port", "WORKFEED_REDIS_PORT")
	viper.BindEnv("redis.password", "WORKFEED_REDIS_PASSWORD")
	viper.BindEnv("redis.db", "WORKFEED_REDIS_DB")

	viper.BindEnv("broker.kafka.brokers", "WORKFEED_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "WORKFEED_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.input_topic", "WORKFEED_KAFKA_INPUT_TOPIC")
	viper.BindEnv("broker.kafka.notification_topic", "WORKFEED_KAFKA_NOTIFICATION_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "WORKFEED_KAFKA_DLQ_TOPIC")

	viper.BindEnv("server.port", "WORKFEED_SERVER_PORT")

	viper.BindEnv("logging.level", "WORKFEED_LOGGING_LEVEL")
	viper.BindEnv("logging.format", "WORKFEED_LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "WORKFEED_TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "WORKFEED_TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "WORKFEED_TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "WORKFEED_TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) {
	// A comma-separated env value may carry spaces around each broker.
	if brokersEnv := viper.GetString("broker.kafka.brokers"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
